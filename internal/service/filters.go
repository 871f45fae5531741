package service

import (
	"fmt"
	"strings"

	"restlib/internal/dao"
	"restlib/internal/descriptor"
)

// splitFilterValues explodes a raw filter value: comma-separated strings
// become one condition per part (OR semantics), slices keep their elements,
// anything else is a single condition.
func splitFilterValues(raw any) []any {
	switch v := raw.(type) {
	case string:
		parts := strings.Split(v, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out
	case []any:
		return v
	case []string:
		out := make([]any, 0, len(v))
		for _, p := range v {
			out = append(out, p)
		}
		return out
	default:
		return []any{raw}
	}
}

// resolveFilters converts raw filter names and values into the DAO filter
// set. Each name resolves against, in order: a type-dispatch alias, an
// explicit filter alias (custom operator), the conjunto field, a declared
// field (equality), or a raw entity column. Unrecognized names are dropped
// silently, and nil values mean "no filter".
func (s *Service) resolveFilters(raw map[string]any) (dao.Filters, error) {
	out := dao.Filters{}
	columns := map[string]bool{}
	for _, c := range s.spec.Columns() {
		columns[c] = true
	}

	pending := make(map[string]any, len(raw))
	for k, v := range raw {
		pending[k] = v
	}

	firstRun := true
	for len(pending) > 0 {
		next := map[string]any{}

		for name, rawValue := range pending {
			if rawValue == nil {
				continue
			}
			values := splitFilterValues(rawValue)
			if len(values) == 0 {
				continue
			}

			// type-dispatch alias: re-queue under the first target field
			// whose type accepts the received value
			if targets, ok := s.spec.TypedAliases[name]; ok && firstRun {
				for _, target := range targets {
					f, _ := s.spec.Field(target)
					if f.Matches(values[0]) {
						if existing, ok := next[target]; ok {
							next[target] = fmt.Sprintf("%v,%v", existing, rawValue)
						} else {
							next[target] = rawValue
						}
						break
					}
				}
				continue
			}

			var field *descriptor.Field
			operator := descriptor.Equals
			rawColumn := ""

			if f, op, ok := s.spec.FilterAlias(name); ok {
				field, operator = f, op
			} else if s.spec.Conjunto != nil && name == s.spec.Conjunto.Field {
				// conjunto values mix group UUIDs and codes; the DAO splits
				// them by shape, so no coercion here
				rawColumn = s.spec.ColumnFor(name)
			} else if f, ok := s.spec.Field(name); ok {
				field = f
			} else if columns[name] {
				rawColumn = name
			} else {
				// unknown filter names are ignored on purpose
				continue
			}

			lengthOp := operator == descriptor.LengthGreaterOrEqual || operator == descriptor.LengthLessOrEqual

			for _, value := range values {
				if value == nil {
					continue
				}

				if rawColumn != "" {
					out[rawColumn] = append(out[rawColumn], descriptor.Filter{Operator: operator, Value: value})
					continue
				}

				if lengthOp {
					out[field.Column()] = append(out[field.Column()], descriptor.Filter{Operator: operator, Value: value})
					continue
				}

				coerced, err := field.Coerce(value)
				if err != nil {
					return nil, err
				}

				if field.ConvertToEntity != nil {
					for column, cv := range field.ConvertToEntity(coerced, nil) {
						out[column] = append(out[column], descriptor.Filter{Operator: operator, Value: cv})
					}
					continue
				}
				out[field.Column()] = append(out[field.Column()], descriptor.Filter{Operator: operator, Value: coerced})
			}
		}

		firstRun = false
		pending = next
	}

	return out, nil
}

// addOverrideDataFilters widens the received filters so override candidate
// rows (those still carrying a field's null sentinel) also match.
func (s *Service) addOverrideDataFilters(all map[string]any) {
	if len(s.spec.OverrideFields) == 0 || len(s.spec.OverrideGroup) == 0 {
		return
	}
	for _, name := range s.spec.OverrideFields {
		f, ok := s.spec.Field(name)
		if !ok {
			continue
		}
		null := fmt.Sprintf("%v", f.NullValue)
		if existing, ok := all[name]; ok {
			all[name] = fmt.Sprintf("%v,%s", existing, null)
		} else {
			all[name] = null
		}
	}
}

// resolveFieldKey matches the received lookup value against the candidate
// keys, primary key first, returning the first field whose type accepts it.
func (s *Service) resolveFieldKey(id any) (*descriptor.Field, any, error) {
	for _, f := range s.spec.CandidateKeys() {
		coerced, err := f.Coerce(id)
		if err != nil {
			continue
		}
		if f.Validator != nil {
			coerced, err = f.Validator(f, coerced)
			if err != nil {
				continue
			}
		}
		return f, coerced, nil
	}
	return nil, nil, fmt.Errorf("value %v matches no candidate key of %s", id, s.spec.Name)
}
