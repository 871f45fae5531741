package dao

import (
	"fmt"
	"sort"
	"strings"

	"restlib/internal/descriptor"
)

// Filters is the compiled filter set handed to the DAO: storage column name
// to the conditions against it. Name resolution (aliases, typed aliases,
// unknown-key dropping) happens in the service layer before this point.
type Filters map[string][]descriptor.Filter

// Clone returns a shallow copy sharing the condition slices.
func (f Filters) Clone() Filters {
	out := make(Filters, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

func sqlOperator(op descriptor.Operator) string {
	switch op {
	case descriptor.Equals:
		return "="
	case descriptor.Different:
		return "<>"
	case descriptor.GreaterThan:
		return ">"
	case descriptor.LessThan:
		return "<"
	case descriptor.GreaterOrEqual:
		return ">="
	case descriptor.LessOrEqual:
		return "<="
	case descriptor.Like:
		return "like"
	case descriptor.ILike:
		return "ilike"
	case descriptor.NotNull:
		return "is not null"
	case descriptor.LengthGreaterOrEqual:
		return ">="
	case descriptor.LengthLessOrEqual:
		return "<="
	}
	return "="
}

// compileFilters turns the filter set into WHERE fragments, binding every
// value on b. Fragments are returned in sorted column order so identical
// filter shapes always compile to identical SQL. Same-column equality-like
// conditions combine with OR, multi-value equals and different collapse into
// IN / NOT IN, everything else combines with AND.
func compileFilters(b *builder, filters Filters) []string {
	if len(filters) == 0 {
		return nil
	}

	columns := make([]string, 0, len(filters))
	for column := range filters {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	var fragments []string
	for _, column := range columns {
		conditions := filters[column]
		if len(conditions) == 0 {
			continue
		}

		tableAlias := "t0"
		var inRefs, notInRefs, orParts, andParts []string

		multiple := len(conditions) > 1
		for _, cond := range conditions {
			if cond.TableAlias != "" {
				tableAlias = cond.TableAlias
			}
			if cond.Operator.NeedsValue() && cond.Value == nil {
				// nil means "no filter", never IS NULL
				continue
			}

			op := sqlOperator(cond.Operator)
			target := fmt.Sprintf("%s.%s", tableAlias, column)
			if cond.Operator == descriptor.LengthGreaterOrEqual || cond.Operator == descriptor.LengthLessOrEqual {
				target = fmt.Sprintf("length(%s)", target)
			}

			if cond.Operator == descriptor.NotNull {
				andParts = append(andParts, fmt.Sprintf("%s %s", target, op))
				continue
			}

			value := cond.Value
			if cond.Operator == descriptor.Like || cond.Operator == descriptor.ILike {
				value = fmt.Sprintf("%%%v%%", value)
			}
			ref := b.bind(fmt.Sprintf("ft_%s_%s", cond.Operator, column), value)

			switch {
			case cond.Operator == descriptor.Equals && multiple:
				inRefs = append(inRefs, ref)
			case cond.Operator == descriptor.Different && multiple:
				notInRefs = append(notInRefs, ref)
			case cond.Operator.OrGrouped():
				orParts = append(orParts, fmt.Sprintf("%s %s %s", target, op, ref))
			default:
				andParts = append(andParts, fmt.Sprintf("%s %s %s", target, op, ref))
			}
		}

		if len(inRefs) > 0 {
			fragments = append(fragments, fmt.Sprintf("%s.%s in (%s)", tableAlias, column, strings.Join(inRefs, ", ")))
		}
		if len(notInRefs) > 0 {
			fragments = append(fragments, fmt.Sprintf("%s.%s not in (%s)", tableAlias, column, strings.Join(notInRefs, ", ")))
		}
		if len(orParts) > 0 {
			fragments = append(fragments, "("+strings.Join(orParts, " or ")+")")
		}
		if len(andParts) > 0 {
			fragments = append(fragments, "("+strings.Join(andParts, " and ")+")")
		}
	}

	return fragments
}

// filtersWhere renders the fragments as a WHERE continuation ("and f1 and
// f2 ..."), or the empty string when nothing filters.
func filtersWhere(b *builder, filters Filters) string {
	fragments := compileFilters(b, filters)
	if len(fragments) == 0 {
		return ""
	}
	return "\n  and " + strings.Join(fragments, "\n  and ")
}
