package dto

import (
	"fmt"
	"strings"
)

// FieldsTree describes which fields (including nested relationship
// sub-fields) must be populated for a read. Root holds the field names of
// the current level; Children holds subtrees per relationship field.
type FieldsTree struct {
	Root     map[string]bool
	Children map[string]*FieldsTree
}

func NewFieldsTree() *FieldsTree {
	return &FieldsTree{Root: map[string]bool{}, Children: map[string]*FieldsTree{}}
}

// Add marks a root field as requested.
func (t *FieldsTree) Add(name string) *FieldsTree {
	t.Root[name] = true
	return t
}

// Child returns (creating if needed) the subtree of a relationship field.
// The relationship itself is also marked on the root set.
func (t *FieldsTree) Child(name string) *FieldsTree {
	t.Root[name] = true
	child, ok := t.Children[name]
	if !ok {
		child = NewFieldsTree()
		t.Children[name] = child
	}
	return child
}

// Has reports whether a root field was requested. An empty tree requests
// nothing explicitly (resume fields are unioned in by the service).
func (t *FieldsTree) Has(name string) bool {
	if t == nil {
		return false
	}
	return t.Root[name]
}

// Empty reports whether nothing was requested at this level.
func (t *FieldsTree) Empty() bool {
	return t == nil || len(t.Root) == 0
}

// ChildTree returns the subtree for a relationship, or an empty tree.
func (t *FieldsTree) ChildTree(name string) *FieldsTree {
	if t == nil {
		return NewFieldsTree()
	}
	if child, ok := t.Children[name]; ok {
		return child
	}
	return NewFieldsTree()
}

// Union adds the given field names to the root set.
func (t *FieldsTree) Union(names []string) {
	for _, n := range names {
		t.Root[n] = true
	}
}

// ParseFields parses the query-string fields contract: a comma list with dot
// notation for nested selection and parenthesis grouping for multi-field
// nested selection. Examples:
//
//	"nome,codigo"
//	"nome,enderecos.cidade"
//	"nome,enderecos(cidade,uf),empresa.nome"
//
// An empty expression yields an empty tree.
func ParseFields(expr string) (*FieldsTree, error) {
	tree := NewFieldsTree()
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return tree, nil
	}

	items, err := splitTopLevel(expr)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if err := addItem(tree, item); err != nil {
			return nil, err
		}
	}
	return tree, nil
}

func addItem(tree *FieldsTree, item string) error {
	item = strings.TrimSpace(item)
	if item == "" {
		return nil
	}

	if open := strings.IndexByte(item, '('); open >= 0 {
		if !strings.HasSuffix(item, ")") {
			return fmt.Errorf("unbalanced parenthesis in fields item %q", item)
		}
		name := strings.TrimSpace(item[:open])
		if name == "" {
			return fmt.Errorf("empty relationship name in fields item %q", item)
		}
		inner := item[open+1 : len(item)-1]
		child := tree.Child(name)
		innerItems, err := splitTopLevel(inner)
		if err != nil {
			return err
		}
		for _, sub := range innerItems {
			if err := addItem(child, sub); err != nil {
				return err
			}
		}
		return nil
	}

	if dot := strings.IndexByte(item, '.'); dot >= 0 {
		name := strings.TrimSpace(item[:dot])
		rest := item[dot+1:]
		if name == "" || strings.TrimSpace(rest) == "" {
			return fmt.Errorf("malformed nested field %q", item)
		}
		return addItem(tree.Child(name), rest)
	}

	tree.Add(item)
	return nil
}

// splitTopLevel splits on commas not enclosed in parentheses.
func splitTopLevel(expr string) ([]string, error) {
	var items []string
	depth := 0
	start := 0
	for i := 0; i < len(expr); i++ {
		switch expr[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced parenthesis in fields expression %q", expr)
			}
		case ',':
			if depth == 0 {
				items = append(items, expr[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced parenthesis in fields expression %q", expr)
	}
	items = append(items, expr[start:])
	return items, nil
}
