package descriptor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// The YAML loader is the declarative counterpart of the Go registration API:
// one file per resource, decoded into a Spec and registered. Custom
// converters and validators cannot be expressed in YAML; resources that need
// them register in code.

type yamlResource struct {
	Name            string             `yaml:"name"`
	Table           string             `yaml:"table"`
	DefaultOrder    []string           `yaml:"default_order"`
	InsertReturning []string           `yaml:"insert_returning"`
	UpdateReturning []string           `yaml:"update_returning"`
	Fields          []yamlField        `yaml:"fields"`
	ListFields      []yamlListField    `yaml:"list_fields"`
	ObjectFields    []yamlObjectField  `yaml:"object_fields"`
	SQLJoinFields   []yamlSQLJoinField `yaml:"sql_join_fields"`
	FixedFilters    map[string]any     `yaml:"fixed_filters"`
	TypedAliases    map[string][]string `yaml:"typed_aliases"`
	OverrideFields  []string           `yaml:"override_fields"`
	OverrideGroup   []string           `yaml:"override_group"`
	CreatedBy       string             `yaml:"created_by"`
	UpdatedBy       string             `yaml:"updated_by"`
	Conjunto        *yamlConjunto      `yaml:"conjunto"`
}

type yamlField struct {
	Name         string       `yaml:"name"`
	EntityField  string       `yaml:"entity_field"`
	Type         string       `yaml:"type"`
	NotNull      bool         `yaml:"not_null"`
	Resume       bool         `yaml:"resume"`
	Min          *int         `yaml:"min"`
	Max          *int         `yaml:"max"`
	Strip        bool         `yaml:"strip"`
	ReadOnly     bool         `yaml:"read_only"`
	NoUpdate     bool         `yaml:"no_update"`
	Search       bool         `yaml:"search"`
	PK           bool         `yaml:"pk"`
	CandidateKey bool         `yaml:"candidate_key"`
	Unique       string       `yaml:"unique"`
	Partition    bool         `yaml:"partition"`
	Default      any          `yaml:"default"`
	NullValue    any          `yaml:"null_value"`
	Filters      []yamlFilter `yaml:"filters"`
	AutoIncrement *yamlAutoIncrement `yaml:"auto_increment"`
}

type yamlFilter struct {
	Name     string `yaml:"name"`
	Operator string `yaml:"operator"`
}

type yamlAutoIncrement struct {
	Sequence   string   `yaml:"sequence"`
	Template   string   `yaml:"template"`
	Group      []string `yaml:"group"`
	StartValue int64    `yaml:"start_value"`
	DBManaged  bool     `yaml:"db_managed"`
}

type yamlListField struct {
	Name               string `yaml:"name"`
	Spec               string `yaml:"spec"`
	RelatedEntityField string `yaml:"related_entity_field"`
	RelationKeyField   string `yaml:"relation_key_field"`
	NotNull            bool   `yaml:"not_null"`
	Min                *int   `yaml:"min"`
	Max                *int   `yaml:"max"`
}

type yamlObjectField struct {
	Name          string `yaml:"name"`
	Spec          string `yaml:"spec"`
	RelationField string `yaml:"relation_field"`
	Owner         string `yaml:"owner"`
	NotNull       bool   `yaml:"not_null"`
	Resume        bool   `yaml:"resume"`
}

type yamlSQLJoinField struct {
	Name       string   `yaml:"name"`
	Table      string   `yaml:"table"`
	SelfField  string   `yaml:"self_field"`
	OtherField string   `yaml:"other_field"`
	JoinType   string   `yaml:"join_type"`
	Fields     []string `yaml:"fields"`
}

type yamlConjunto struct {
	Name     string `yaml:"name"`
	Cadastro string `yaml:"cadastro"`
	Field    string `yaml:"field"`
}

var validOperators = map[string]Operator{
	"equals":           Equals,
	"different":        Different,
	"greater_than":     GreaterThan,
	"less_than":        LessThan,
	"greater_or_equal": GreaterOrEqual,
	"less_or_equal":    LessOrEqual,
	"like":             Like,
	"ilike":            ILike,
	"not_null":         NotNull,
	"length_greater_or_equal": LengthGreaterOrEqual,
	"length_less_or_equal":    LengthLessOrEqual,
}

// LoadDir reads every *.yml / *.yaml resource definition under dir and
// registers the resulting specs. Resolve must still be called afterwards.
func (r *Registry) LoadDir(dir string) error {
	patterns := []string{"*.yml", "*.yaml"}
	var files []string
	for _, p := range patterns {
		matched, err := filepath.Glob(filepath.Join(dir, p))
		if err != nil {
			return err
		}
		files = append(files, matched...)
	}

	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		spec, err := ParseResource(data)
		if err != nil {
			return fmt.Errorf("resource %s: %w", filepath.Base(path), err)
		}
		if spec.Name == "" {
			spec.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		if err := r.Register(spec); err != nil {
			return fmt.Errorf("resource %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

// ParseResource decodes one YAML resource definition into a Spec.
func ParseResource(data []byte) (*Spec, error) {
	var res yamlResource
	if err := yaml.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("yaml parse: %w", err)
	}

	spec := &Spec{
		Name: res.Name,
		Entity: EntityMeta{
			Table:              res.Table,
			DefaultOrderFields: res.DefaultOrder,
			InsertReturning:    res.InsertReturning,
			UpdateReturning:    res.UpdateReturning,
		},
		FixedFilters:   res.FixedFilters,
		TypedAliases:   res.TypedAliases,
		OverrideFields: res.OverrideFields,
		OverrideGroup:  res.OverrideGroup,
		CreatedByField: res.CreatedBy,
		UpdatedByField: res.UpdatedBy,
	}
	if res.Conjunto != nil {
		spec.Conjunto = &ConjuntoSpec{
			Name:     res.Conjunto.Name,
			Cadastro: res.Conjunto.Cadastro,
			Field:    res.Conjunto.Field,
		}
	}

	for _, yf := range res.Fields {
		field := &Field{
			Name:          yf.Name,
			EntityField:   yf.EntityField,
			Type:          FieldType(yf.Type),
			NotNull:       yf.NotNull,
			Resume:        yf.Resume,
			Min:           yf.Min,
			Max:           yf.Max,
			Strip:         yf.Strip,
			ReadOnly:      yf.ReadOnly,
			NoUpdate:      yf.NoUpdate,
			Search:        yf.Search,
			PK:            yf.PK,
			CandidateKey:  yf.CandidateKey,
			Unique:        yf.Unique,
			PartitionData: yf.Partition,
			Default:       yf.Default,
			NullValue:     yf.NullValue,
		}
		switch field.Type {
		case "", String, Int, Float, Bool, UUID, Date, DateTime:
		default:
			return nil, fmt.Errorf("field %s: unknown type %q", yf.Name, yf.Type)
		}
		for _, ff := range yf.Filters {
			op, ok := validOperators[ff.Operator]
			if !ok {
				return nil, fmt.Errorf("field %s: unknown filter operator %q", yf.Name, ff.Operator)
			}
			field.Filters = append(field.Filters, FieldFilter{Name: ff.Name, Operator: op})
		}
		if yf.AutoIncrement != nil {
			field.AutoIncrement = &AutoIncrement{
				SequenceName: yf.AutoIncrement.Sequence,
				Template:     yf.AutoIncrement.Template,
				Group:        yf.AutoIncrement.Group,
				StartValue:   yf.AutoIncrement.StartValue,
				DBManaged:    yf.AutoIncrement.DBManaged,
			}
		}
		spec.Fields = append(spec.Fields, field)
	}

	for _, yl := range res.ListFields {
		spec.ListFields = append(spec.ListFields, &ListField{
			Name:               yl.Name,
			SpecName:           yl.Spec,
			RelatedEntityField: yl.RelatedEntityField,
			RelationKeyField:   yl.RelationKeyField,
			NotNull:            yl.NotNull,
			Min:                yl.Min,
			Max:                yl.Max,
		})
	}
	for _, yo := range res.ObjectFields {
		spec.ObjectFields = append(spec.ObjectFields, &ObjectField{
			Name:          yo.Name,
			SpecName:      yo.Spec,
			RelationField: yo.RelationField,
			Owner:         RelationOwner(yo.Owner),
			NotNull:       yo.NotNull,
			Resume:        yo.Resume,
		})
	}
	for _, yj := range res.SQLJoinFields {
		spec.SQLJoinFields = append(spec.SQLJoinFields, &SQLJoinField{
			Name:       yj.Name,
			Table:      yj.Table,
			SelfField:  yj.SelfField,
			OtherField: yj.OtherField,
			JoinType:   yj.JoinType,
			Fields:     yj.Fields,
		})
	}

	return spec, nil
}
