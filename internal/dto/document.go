package dto

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"restlib/internal/descriptor"
	"restlib/internal/errs"
)

// Document is a validated, typed view of one record plus its related data.
type Document struct {
	Spec *descriptor.Spec

	values  map[string]Value
	Lists   map[string][]*Document
	Objects map[string]*Document

	// Hidden carries relation-key columns projected for regrouping batched
	// child queries; never serialized.
	Hidden map[string]any
}

// Options controls document construction from a raw payload.
type Options struct {
	// PartialUpdate keeps unprovided fields Unset instead of defaulting
	// them, preserving PATCH semantics.
	PartialUpdate bool
	// GeneratePK relaxes the not-null check on the PK field.
	GeneratePK bool
	// SkipValidation builds the document without running field validators
	// (used when reloading trusted rows).
	SkipValidation bool
}

// New returns an empty document for the spec.
func New(spec *descriptor.Spec) *Document {
	return &Document{
		Spec:    spec,
		values:  map[string]Value{},
		Lists:   map[string][]*Document{},
		Objects: map[string]*Document{},
		Hidden:  map[string]any{},
	}
}

// FromMap builds a document from a decoded JSON payload, validating field by
// field. Unknown keys are ignored. List-field children are built recursively
// and inherit the parent's partition-field values unless explicitly set.
func FromMap(spec *descriptor.Spec, raw map[string]any, opts Options) (*Document, error) {
	doc := New(spec)

	for _, f := range spec.Fields {
		rawValue, provided := raw[f.Name]
		if !provided {
			if opts.PartialUpdate {
				continue
			}
			if def := f.DefaultValue(); def != nil {
				rawValue = def
				provided = true
			}
		}
		if !provided && opts.PartialUpdate {
			continue
		}
		if opts.SkipValidation {
			doc.values[f.Name] = SetValue(rawValue)
			continue
		}
		value, err := f.Validate(rawValue, opts.GeneratePK)
		if err != nil {
			return nil, err
		}
		doc.values[f.Name] = SetValue(value)
	}

	for _, l := range spec.ListFields {
		rawList, provided := raw[l.Name]
		if !provided {
			if l.NotNull && !opts.PartialUpdate {
				return nil, fmt.Errorf("list field %s must be filled", l.Name)
			}
			continue
		}
		items, ok := rawList.([]any)
		if !ok {
			return nil, fmt.Errorf("list field %s expects an array, got %T", l.Name, rawList)
		}
		if l.Min != nil && len(items) < *l.Min {
			return nil, fmt.Errorf("list field %s must have at least %d items", l.Name, *l.Min)
		}
		if l.Max != nil && len(items) > *l.Max {
			return nil, fmt.Errorf("list field %s must have at most %d items", l.Name, *l.Max)
		}
		children := make([]*Document, 0, len(items))
		for i, item := range items {
			childMap, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("list field %s item %d expects an object, got %T", l.Name, i, item)
			}
			child, err := FromMap(l.Ref(), childMap, Options{
				PartialUpdate: opts.PartialUpdate,
				GeneratePK:    true,
				SkipValidation: opts.SkipValidation,
			})
			if err != nil {
				return nil, fmt.Errorf("list field %s item %d: %w", l.Name, i, err)
			}
			children = append(children, child)
		}
		doc.Lists[l.Name] = children
	}

	doc.inheritPartitionFields()
	return doc, nil
}

// inheritPartitionFields copies the parent's partition-field values onto list
// children that declare the same partition field with a different (or empty)
// value.
func (d *Document) inheritPartitionFields() {
	for name, children := range d.Lists {
		listField, ok := d.Spec.ListField(name)
		if !ok {
			continue
		}
		childSpec := listField.Ref()
		for _, pf := range d.Spec.PartitionFields() {
			parentValue, provided := d.values[pf]
			if !provided || parentValue.Kind != Set {
				continue
			}
			if _, declared := childSpec.Field(pf); !declared {
				continue
			}
			for _, child := range children {
				cv, has := child.values[pf]
				if !has || cv.Kind != Set || cv.V != parentValue.V {
					child.values[pf] = parentValue
				}
			}
		}
	}
}

// FromRow builds a document from an entity row (column-keyed), applying
// declared convert-from-entity functions. Validation is skipped: rows are
// trusted.
func FromRow(spec *descriptor.Spec, row map[string]any) *Document {
	doc := New(spec)
	for _, f := range spec.Fields {
		column := f.Column()
		value, present := row[column]
		if f.ConvertFromEntity != nil {
			doc.values[f.Name] = SetValue(f.ConvertFromEntity(value, row))
			continue
		}
		if !present {
			continue
		}
		if value == nil {
			doc.values[f.Name] = Value{Kind: Null}
			continue
		}
		if coerced, err := f.Coerce(value); err == nil {
			value = coerced
		}
		doc.values[f.Name] = SetValue(value)
	}
	return doc
}

// Get returns the current value of a field (nil when unset or null).
func (d *Document) Get(name string) any { return d.values[name].Get() }

// Value returns the tagged state of a field.
func (d *Document) Value(name string) Value { return d.values[name] }

// Set validates and stores a field value.
func (d *Document) Set(name string, value any) error {
	f, ok := d.Spec.Field(name)
	if !ok {
		return fmt.Errorf("field %s not declared on spec %s", name, d.Spec.Name)
	}
	v, err := f.Validate(value, false)
	if err != nil {
		return err
	}
	d.values[name] = SetValue(v)
	return nil
}

// SetRaw stores a value without validation (internal wiring: partition
// injection, relation keys, returning columns).
func (d *Document) SetRaw(name string, value any) {
	d.values[name] = SetValue(value)
}

// PK returns the primary-key value.
func (d *Document) PK() any { return d.values[d.Spec.PKField().Name].Get() }

// Hide moves a projected relation key out of the serializable values. The
// regrouping steps still read it through Hidden; ToDict never sees it.
func (d *Document) Hide(name string) {
	if v, ok := d.values[name]; ok {
		d.Hidden[name] = v.Get()
		delete(d.values, name)
	}
}

// ToRow converts the document to an entity row (column-keyed). In partial
// mode Unset fields are omitted entirely, so the DAO never touches them; Null
// fields map to nil (explicit NULL intent).
func (d *Document) ToRow(partial bool) (map[string]any, error) {
	row := map[string]any{}
	plain := map[string]any{}
	for name, v := range d.values {
		plain[name] = v.Get()
	}

	for _, f := range d.Spec.Fields {
		v, provided := d.values[f.Name]
		if partial && !provided {
			continue
		}
		if f.ConvertToEntity != nil {
			if !v.Provided() && partial {
				continue
			}
			for column, converted := range f.ConvertToEntity(v.Get(), plain) {
				row[column] = converted
			}
			continue
		}
		row[f.Column()] = v.Get()
	}
	return row, nil
}

// ToDict converts the document to a response map, restricted to the
// requested fields tree unioned with the spec's resume fields. Nested lists
// and objects recurse with their child trees.
func (d *Document) ToDict(tree *FieldsTree) map[string]any {
	requested := map[string]bool{}
	for _, name := range d.Spec.ResumeFields() {
		requested[name] = true
	}
	if !tree.Empty() {
		for name := range tree.Root {
			requested[name] = true
		}
	} else {
		// Nothing requested explicitly: return every plain field.
		for _, f := range d.Spec.Fields {
			requested[f.Name] = true
		}
	}

	out := map[string]any{}
	for _, f := range d.Spec.Fields {
		if !requested[f.Name] {
			continue
		}
		v, provided := d.values[f.Name]
		if !provided {
			continue
		}
		out[f.Name] = render(f, v.Get())
	}
	for name, children := range d.Lists {
		if !requested[name] {
			continue
		}
		childTree := tree.ChildTree(name)
		items := make([]map[string]any, 0, len(children))
		for _, child := range children {
			items = append(items, child.ToDict(childTree))
		}
		out[name] = items
	}
	for name, obj := range d.Objects {
		if !requested[name] {
			continue
		}
		if obj == nil {
			out[name] = nil
			continue
		}
		out[name] = obj.ToDict(tree.ChildTree(name))
	}
	return out
}

// MissingPartitionField returns the first declared partition field without a
// value, or "" when all are filled.
func (d *Document) MissingPartitionField() string {
	for _, pf := range d.Spec.PartitionFields() {
		if v, ok := d.values[pf]; !ok || v.Kind != Set {
			return pf
		}
	}
	return ""
}

// RequirePartitionFields raises MissingParameter for the first absent
// partition field.
func (d *Document) RequirePartitionFields() error {
	if missing := d.MissingPartitionField(); missing != "" {
		return &errs.MissingParameterError{Parameter: missing}
	}
	return nil
}

func render(f *descriptor.Field, value any) any {
	switch v := value.(type) {
	case uuid.UUID:
		return v.String()
	case time.Time:
		if f.Type == descriptor.Date {
			return v.Format("2006-01-02")
		}
		return v.Format("2006-01-02T15:04:05")
	default:
		return value
	}
}
