// Package dto holds the runtime representation of a mapped record: a
// document of declared field values with explicit unset/null/set state,
// convertible to and from entity rows and response maps.
package dto

// Kind tells whether a field value was provided at all, provided as an
// explicit null, or provided with a value. The distinction is what keeps
// partial updates non-destructive: only Unset fields are skipped.
type Kind int

const (
	Unset Kind = iota
	Null
	Set
)

// Value is the tagged per-field state.
type Value struct {
	Kind Kind
	V    any
}

// SetValue wraps v, mapping nil to an explicit Null.
func SetValue(v any) Value {
	if v == nil {
		return Value{Kind: Null}
	}
	return Value{Kind: Set, V: v}
}

// Get returns the carried value (nil for Null and Unset).
func (v Value) Get() any {
	if v.Kind == Set {
		return v.V
	}
	return nil
}

// Provided reports whether the field was present in the payload.
func (v Value) Provided() bool { return v.Kind != Unset }
