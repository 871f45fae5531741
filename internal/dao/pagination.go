package dao

import (
	"fmt"
	"strings"

	"restlib/internal/descriptor"
)

// OrderField is one parsed entry of an order-fields list ("codigo",
// "codigo asc", "criado_em desc").
type OrderField struct {
	Name   string
	Column string
	Desc   bool
}

// ParseOrderFields normalizes the declared order list. An empty input falls
// back to the entity's default order fields, then to the primary key.
func ParseOrderFields(spec *descriptor.Spec, fields []string) []OrderField {
	if len(fields) == 0 {
		fields = spec.Entity.DefaultOrderFields
	}
	if len(fields) == 0 {
		fields = []string{spec.PKField().Name}
	}

	out := make([]OrderField, 0, len(fields))
	for _, raw := range fields {
		name := strings.TrimSpace(raw)
		desc := false
		if strings.HasSuffix(name, " desc") {
			name = strings.TrimSpace(strings.TrimSuffix(name, " desc"))
			desc = true
		} else if strings.HasSuffix(name, " asc") {
			name = strings.TrimSpace(strings.TrimSuffix(name, " asc"))
		}
		out = append(out, OrderField{
			Name:   name,
			Column: spec.ColumnFor(name),
			Desc:   desc,
		})
	}
	return out
}

func orderByClause(order []OrderField) string {
	parts := make([]string, 0, len(order))
	for _, of := range order {
		dir := ""
		if of.Desc {
			dir = " desc"
		}
		parts = append(parts, fmt.Sprintf("t0.%s%s", of.Column, dir))
	}
	return strings.Join(parts, ", ")
}

// keysetPredicate builds the cursor condition from the anchor row's order
// values: (f1 > v1) or (f1 = v1 and f2 > v2) or ... with the comparison
// flipped for descending fields. Tie-breaking this way keeps traversal
// stable under concurrent inserts and deletes, unlike OFFSET.
func keysetPredicate(b *builder, order []OrderField, anchor map[string]any) string {
	var alternatives []string
	var ties []string

	for _, of := range order {
		value := anchor[of.Column]
		cmp := ">"
		if of.Desc {
			cmp = "<"
		}

		clause := make([]string, 0, len(ties)+1)
		clause = append(clause, ties...)
		clause = append(clause, fmt.Sprintf("t0.%s %s %s", of.Column, cmp, b.bind("pg_"+of.Column, value)))
		alternatives = append(alternatives, "("+strings.Join(clause, " and ")+")")

		ties = append(ties, fmt.Sprintf("t0.%s = %s", of.Column, b.bind("pg_"+of.Column, value)))
	}

	return "(" + strings.Join(alternatives, " or ") + ")"
}
