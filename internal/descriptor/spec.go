package descriptor

import (
	"fmt"

	"restlib/internal/errs"
)

// EntityMeta mirrors one database table.
type EntityMeta struct {
	Table              string
	DefaultOrderFields []string
	// InsertReturning / UpdateReturning are extra columns fetched back on
	// writes (the PK is always fetched when not populated).
	InsertReturning []string
	UpdateReturning []string
}

// ConjuntoSpec ties a spec to the conjunto multi-tenancy join chain.
type ConjuntoSpec struct {
	// Name selects the relationship table ns.conjuntos<Name>.
	Name string
	// Cadastro is the registry code stored on the establishment rows.
	Cadastro string
	// Field is the DTO field carrying the grupo-empresarial value on writes.
	Field string
}

// Spec is the full declarative description of one DTO/entity pair. Built by
// explicit registration (or the YAML loader) and validated once; immutable
// afterwards.
type Spec struct {
	Name   string
	Entity EntityMeta

	// Fields in declaration order. Order matters: override-data
	// specificity scans override fields in reverse declaration order.
	Fields []*Field

	ListFields    []*ListField
	ObjectFields  []*ObjectField
	SQLJoinFields []*SQLJoinField

	// FixedFilters are applied to every list query.
	FixedFilters map[string]any

	// TypedAliases maps one public filter name to candidate fields tried in
	// order; the first whose type matches the received value wins.
	TypedAliases map[string][]string

	// OverrideFields, in precedence order (least to most specific), and
	// OverrideGroup (the grouping key fields) enable override-data reads.
	OverrideFields []string
	OverrideGroup  []string

	Conjunto *ConjuntoSpec

	// CreatedByField / UpdatedByField name the stamping columns when the
	// entity carries them.
	CreatedByField string
	UpdatedByField string

	// derived at validation
	fieldsByName    map[string]*Field
	filterAliases   map[string]filterAlias
	pkField         *Field
	candidateKeys   []*Field
	partitionFields []string
	resumeFields    []string
	uniques         map[string][]string
	searchFields    []string
	listByName      map[string]*ListField
	objectByName    map[string]*ObjectField
	joinByName      map[string]*SQLJoinField
}

type filterAlias struct {
	field    *Field
	operator Operator
}

// Field returns the declared field by name.
func (s *Spec) Field(name string) (*Field, bool) {
	f, ok := s.fieldsByName[name]
	return f, ok
}

// PKField returns the single primary-key field.
func (s *Spec) PKField() *Field { return s.pkField }

// CandidateKeys returns pk first, then declared candidate keys.
func (s *Spec) CandidateKeys() []*Field { return s.candidateKeys }

// PartitionFields returns the names of partition-data fields.
func (s *Spec) PartitionFields() []string { return s.partitionFields }

// ResumeFields returns fields always included in reads.
func (s *Spec) ResumeFields() []string { return s.resumeFields }

// Uniques returns the declared unique groups (name -> field names).
func (s *Spec) Uniques() map[string][]string { return s.uniques }

// SearchFields returns fields flagged for free-text search.
func (s *Spec) SearchFields() []string { return s.searchFields }

// ListField returns the detail-list descriptor by name.
func (s *Spec) ListField(name string) (*ListField, bool) {
	l, ok := s.listByName[name]
	return l, ok
}

// ObjectField returns the related-object descriptor by name.
func (s *Spec) ObjectField(name string) (*ObjectField, bool) {
	o, ok := s.objectByName[name]
	return o, ok
}

// SQLJoinField returns the join-projection descriptor by name.
func (s *Spec) SQLJoinField(name string) (*SQLJoinField, bool) {
	j, ok := s.joinByName[name]
	return j, ok
}

// FilterAlias resolves a declared filter alias to its target field and
// operator.
func (s *Spec) FilterAlias(name string) (*Field, Operator, bool) {
	fa, ok := s.filterAliases[name]
	if !ok {
		return nil, "", false
	}
	return fa.field, fa.operator, true
}

// Columns returns every storage column declared by plain fields, in
// declaration order.
func (s *Spec) Columns() []string {
	cols := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		cols = append(cols, f.Column())
	}
	return cols
}

// ColumnFor maps a DTO field name to its storage column; unknown names map
// to themselves (raw entity-column escape hatch).
func (s *Spec) ColumnFor(name string) string {
	if f, ok := s.fieldsByName[name]; ok {
		return f.Column()
	}
	return name
}

// PKColumn returns the storage column of the primary key.
func (s *Spec) PKColumn() string { return s.pkField.Column() }

// FieldByColumn finds the declared field backing an entity column.
func (s *Spec) FieldByColumn(column string) (*Field, bool) {
	for _, f := range s.Fields {
		if f.Column() == column {
			return f, true
		}
	}
	return nil, false
}

// validate builds the derived lookups and enforces the configuration
// invariants. Called by Registry.Register.
func (s *Spec) validate() error {
	if s.Name == "" {
		return &errs.ConfigError{Detail: "spec name is required"}
	}
	if s.Entity.Table == "" {
		return &errs.ConfigError{Detail: fmt.Sprintf("spec %s: entity table is required", s.Name)}
	}

	s.fieldsByName = make(map[string]*Field, len(s.Fields))
	s.filterAliases = map[string]filterAlias{}
	s.uniques = map[string][]string{}
	s.pkField = nil
	s.candidateKeys = nil
	s.partitionFields = nil
	s.resumeFields = nil
	s.searchFields = nil

	for _, f := range s.Fields {
		if f.Name == "" {
			return &errs.ConfigError{Detail: fmt.Sprintf("spec %s: unnamed field", s.Name)}
		}
		if _, dup := s.fieldsByName[f.Name]; dup {
			return &errs.ConfigError{Detail: fmt.Sprintf("spec %s: duplicate field %s", s.Name, f.Name)}
		}
		s.fieldsByName[f.Name] = f

		if f.PK {
			if s.pkField != nil {
				// Composite primary keys are not supported.
				return &errs.ConfigError{Detail: fmt.Sprintf("spec %s: more than one pk field (%s, %s)", s.Name, s.pkField.Name, f.Name)}
			}
			s.pkField = f
		}
		if f.PartitionData {
			s.partitionFields = append(s.partitionFields, f.Name)
		}
		if f.Resume {
			s.resumeFields = append(s.resumeFields, f.Name)
		}
		if f.Search {
			s.searchFields = append(s.searchFields, f.Name)
		}
		if f.Unique != "" {
			s.uniques[f.Unique] = append(s.uniques[f.Unique], f.Name)
		}
		for _, ff := range f.Filters {
			if _, dup := s.filterAliases[ff.Name]; dup {
				return &errs.ConfigError{Detail: fmt.Sprintf("spec %s: duplicate filter alias %s", s.Name, ff.Name)}
			}
			s.filterAliases[ff.Name] = filterAlias{field: f, operator: ff.Operator}
		}
	}

	if s.pkField == nil {
		return &errs.ConfigError{Detail: fmt.Sprintf("spec %s: exactly one field must be pk", s.Name)}
	}

	s.candidateKeys = []*Field{s.pkField}
	for _, f := range s.Fields {
		if f.CandidateKey && !f.PK {
			s.candidateKeys = append(s.candidateKeys, f)
		}
	}

	for alias, targets := range s.TypedAliases {
		if len(targets) == 0 {
			return &errs.ConfigError{Detail: fmt.Sprintf("spec %s: typed alias %s has no targets", s.Name, alias)}
		}
		for _, target := range targets {
			if _, ok := s.fieldsByName[target]; !ok {
				return &errs.ConfigError{Detail: fmt.Sprintf("spec %s: typed alias %s targets unknown field %s", s.Name, alias, target)}
			}
		}
	}

	for _, name := range s.OverrideFields {
		if _, ok := s.fieldsByName[name]; !ok {
			return &errs.ConfigError{Detail: fmt.Sprintf("spec %s: override field %s is not declared", s.Name, name)}
		}
	}
	for _, name := range s.OverrideGroup {
		if _, ok := s.fieldsByName[name]; !ok {
			return &errs.ConfigError{Detail: fmt.Sprintf("spec %s: override group field %s is not declared", s.Name, name)}
		}
	}
	if (len(s.OverrideFields) == 0) != (len(s.OverrideGroup) == 0) {
		return &errs.ConfigError{Detail: fmt.Sprintf("spec %s: override fields and override group must be declared together", s.Name)}
	}

	s.listByName = make(map[string]*ListField, len(s.ListFields))
	for _, l := range s.ListFields {
		if l.Name == "" || l.SpecName == "" || l.RelatedEntityField == "" {
			return &errs.ListFieldConfigError{Detail: fmt.Sprintf("spec %s: list field needs name, spec and related entity field", s.Name)}
		}
		if _, clash := s.fieldsByName[l.Name]; clash {
			return &errs.ListFieldConfigError{Detail: fmt.Sprintf("spec %s: list field %s clashes with a plain field", s.Name, l.Name)}
		}
		s.listByName[l.Name] = l
	}
	s.objectByName = make(map[string]*ObjectField, len(s.ObjectFields))
	for _, o := range s.ObjectFields {
		if o.Name == "" || o.SpecName == "" || o.RelationField == "" {
			return &errs.ListFieldConfigError{Detail: fmt.Sprintf("spec %s: object field needs name, spec and relation field", s.Name)}
		}
		if o.Owner == "" {
			o.Owner = OwnerSelf
		}
		s.objectByName[o.Name] = o
	}
	s.joinByName = make(map[string]*SQLJoinField, len(s.SQLJoinFields))
	for _, j := range s.SQLJoinFields {
		if j.Name == "" || j.Table == "" || j.SelfField == "" || j.OtherField == "" {
			return &errs.ListFieldConfigError{Detail: fmt.Sprintf("spec %s: sql join field needs name, table and join columns", s.Name)}
		}
		if j.JoinType == "" {
			j.JoinType = "left"
		}
		s.joinByName[j.Name] = j
	}

	return nil
}
