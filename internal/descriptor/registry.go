package descriptor

import (
	"fmt"
	"sort"

	"restlib/internal/errs"
)

// Registry holds the registered specs and resolves cross-spec references.
// It is built once at startup and passed by reference; there is no package
// level registry.
type Registry struct {
	specs    map[string]*Spec
	resolved bool
}

func NewRegistry() *Registry {
	return &Registry{specs: map[string]*Spec{}}
}

// Register validates the spec and adds it to the registry. Relationship
// references are resolved later by Resolve, so specs may register in any
// order.
func (r *Registry) Register(spec *Spec) error {
	if err := spec.validate(); err != nil {
		return err
	}
	if _, dup := r.specs[spec.Name]; dup {
		return &errs.ConfigError{Detail: fmt.Sprintf("spec %s registered twice", spec.Name)}
	}
	r.specs[spec.Name] = spec
	r.resolved = false
	return nil
}

// MustRegister panics on registration errors; intended for startup wiring.
func (r *Registry) MustRegister(spec *Spec) {
	if err := r.Register(spec); err != nil {
		panic(err)
	}
}

// Resolve links list/object fields to their target specs and re-checks the
// relationship configuration. Must run after all Register calls.
func (r *Registry) Resolve() error {
	for _, spec := range r.specs {
		for _, l := range spec.ListFields {
			ref, ok := r.specs[l.SpecName]
			if !ok {
				return &errs.ListFieldConfigError{Detail: fmt.Sprintf("spec %s: list field %s references unknown spec %s", spec.Name, l.Name, l.SpecName)}
			}
			if _, ok := ref.fieldsByName[columnToField(ref, l.RelatedEntityField)]; !ok {
				return &errs.ListFieldConfigError{Detail: fmt.Sprintf("spec %s: list field %s relates through %s, not declared on %s", spec.Name, l.Name, l.RelatedEntityField, l.SpecName)}
			}
			l.specRef = ref
		}
		for _, o := range spec.ObjectFields {
			ref, ok := r.specs[o.SpecName]
			if !ok {
				return &errs.ListFieldConfigError{Detail: fmt.Sprintf("spec %s: object field %s references unknown spec %s", spec.Name, o.Name, o.SpecName)}
			}
			o.specRef = ref
		}
	}
	r.resolved = true
	return nil
}

// Spec returns a registered spec by name.
func (r *Registry) Spec(name string) (*Spec, bool) {
	s, ok := r.specs[name]
	return s, ok
}

// Names returns the registered spec names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// columnToField finds the DTO field name backing an entity column.
func columnToField(spec *Spec, column string) string {
	for _, f := range spec.Fields {
		if f.Column() == column {
			return f.Name
		}
	}
	return column
}
