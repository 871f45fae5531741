package descriptor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FieldType enumerates the value types a declared field may carry. It drives
// validation, query-string coercion and the type-aware free-text search.
type FieldType string

const (
	String   FieldType = "string"
	Int      FieldType = "int"
	Float    FieldType = "float"
	Bool     FieldType = "bool"
	UUID     FieldType = "uuid"
	Date     FieldType = "date"
	DateTime FieldType = "datetime"
)

var (
	uuidPattern     = regexp.MustCompile(`^[A-Fa-f0-9]{8}-[A-Fa-f0-9]{4}-[A-Fa-f0-9]{4}-[A-Fa-f0-9]{4}-[A-Fa-f0-9]{12}$`)
	datePattern     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	dateTimePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[Tt ]\d{2}:\d{2}:\d{2}$`)
)

// FieldFilter declares a named filter alias for a field, with a custom
// operator (plain equality filters need no declaration).
type FieldFilter struct {
	Name     string
	Operator Operator
}

// AutoIncrement configures application-level sequence filling for a field.
type AutoIncrement struct {
	SequenceName string
	Template     string // e.g. "{seq}" or "PED-{seq}"; partition values join the group key
	Group        []string
	StartValue   int64
	DBManaged    bool
}

// ConvertToEntityFunc maps a DTO value to one or more entity columns.
type ConvertToEntityFunc func(value any, doc map[string]any) map[string]any

// ConvertFromEntityFunc maps an entity value (plus the full row) back to the
// DTO value.
type ConvertFromEntityFunc func(value any, row map[string]any) any

// ValidatorFunc post-processes a value after the default validation.
type ValidatorFunc func(f *Field, value any) (any, error)

// Field is the declarative metadata for one mapped property.
type Field struct {
	Name        string
	EntityField string // storage column override; empty means same as Name
	Type        FieldType

	NotNull      bool
	Resume       bool
	Min          *int
	Max          *int
	Strip        bool
	ReadOnly     bool
	NoUpdate     bool
	Search       bool
	PK           bool
	CandidateKey bool
	Unique       string // unique-group name, empty for none
	PartitionData bool

	Default     any
	DefaultFunc func() any

	Filters []FieldFilter

	// NullValue is the sentinel matched and compared by override-data
	// resolution ("still default") for this field.
	NullValue any

	Validator         ValidatorFunc
	ConvertToEntity   ConvertToEntityFunc
	ConvertFromEntity ConvertFromEntityFunc

	AutoIncrement *AutoIncrement
}

// Column resolves the storage column for the field.
func (f *Field) Column() string {
	if f.EntityField != "" {
		return f.EntityField
	}
	return f.Name
}

// DefaultValue resolves the declared default, preferring the factory.
func (f *Field) DefaultValue() any {
	if f.DefaultFunc != nil {
		return f.DefaultFunc()
	}
	return f.Default
}

// Validate applies the default constraints (not-null, type coercion, min/max,
// strip) and then the custom validator, returning the value to store.
// generatePK relaxes the not-null check for PK fields whose value the service
// will generate.
func (f *Field) Validate(value any, generatePK bool) (any, error) {
	if f.NotNull && isEmpty(value) {
		if !(f.PK && generatePK) {
			return nil, fmt.Errorf("field %s must be filled, got %v", f.Name, value)
		}
	}

	if value != nil {
		coerced, err := f.Coerce(value)
		if err != nil {
			return nil, err
		}
		value = coerced
	}

	if s, ok := value.(string); ok && f.Strip {
		s = strings.TrimSpace(s)
		value = s
	}

	if err := f.checkBounds(value); err != nil {
		return nil, err
	}

	if f.Validator != nil {
		return f.Validator(f, value)
	}
	return value, nil
}

func (f *Field) checkBounds(value any) error {
	if value == nil || (f.Min == nil && f.Max == nil) {
		return nil
	}
	switch v := value.(type) {
	case string:
		if f.Min != nil && len(v) < *f.Min {
			return fmt.Errorf("field %s must have at least %d characters, got %q", f.Name, *f.Min, v)
		}
		if f.Max != nil && len(v) > *f.Max {
			return fmt.Errorf("field %s must have at most %d characters, got %q", f.Name, *f.Max, v)
		}
	case int64:
		if f.Min != nil && v < int64(*f.Min) {
			return fmt.Errorf("field %s must be >= %d, got %d", f.Name, *f.Min, v)
		}
		if f.Max != nil && v > int64(*f.Max) {
			return fmt.Errorf("field %s must be <= %d, got %d", f.Name, *f.Max, v)
		}
	case float64:
		if f.Min != nil && v < float64(*f.Min) {
			return fmt.Errorf("field %s must be >= %d, got %v", f.Name, *f.Min, v)
		}
		if f.Max != nil && v > float64(*f.Max) {
			return fmt.Errorf("field %s must be <= %d, got %v", f.Name, *f.Max, v)
		}
	}
	return nil
}

// Coerce converts the received value to the field's declared type. String
// inputs coming from query parameters or JSON are parsed; already-typed
// values pass through normalized (ints to int64, floats to float64).
func (f *Field) Coerce(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch f.Type {
	case "", String:
		if s, ok := value.(string); ok {
			return s, nil
		}
		return fmt.Sprintf("%v", value), nil
	case Int:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			return int64(v), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("field %s expects an integer, got %q", f.Name, v)
			}
			return n, nil
		}
	case Float:
		switch v := value.(type) {
		case float32:
			return float64(v), nil
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			n, err := strconv.ParseFloat(strings.Replace(strings.TrimSpace(v), ",", ".", 1), 64)
			if err != nil {
				return nil, fmt.Errorf("field %s expects a number, got %q", f.Name, v)
			}
			return n, nil
		}
	case Bool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("field %s expects a boolean, got %q", f.Name, v)
			}
			return b, nil
		}
	case UUID:
		switch v := value.(type) {
		case uuid.UUID:
			return v, nil
		case [16]byte:
			return uuid.UUID(v), nil
		case string:
			if !uuidPattern.MatchString(v) {
				return nil, fmt.Errorf("field %s expects a uuid, got %q", f.Name, v)
			}
			id, err := uuid.Parse(v)
			if err != nil {
				return nil, fmt.Errorf("field %s expects a uuid, got %q", f.Name, v)
			}
			return id, nil
		}
	case Date:
		switch v := value.(type) {
		case time.Time:
			return v, nil
		case string:
			if !datePattern.MatchString(v) {
				return nil, fmt.Errorf("field %s expects a date (yyyy-mm-dd), got %q", f.Name, v)
			}
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				return nil, fmt.Errorf("field %s expects a date, got %q", f.Name, v)
			}
			return t, nil
		}
	case DateTime:
		switch v := value.(type) {
		case time.Time:
			return v, nil
		case string:
			if !dateTimePattern.MatchString(v) {
				return nil, fmt.Errorf("field %s expects a datetime (yyyy-mm-ddThh:mm:ss), got %q", f.Name, v)
			}
			t, err := time.Parse("2006-01-02T15:04:05", strings.Replace(strings.ToUpper(v), " ", "T", 1))
			if err != nil {
				return nil, fmt.Errorf("field %s expects a datetime, got %q", f.Name, v)
			}
			return t, nil
		}
	}
	return nil, fmt.Errorf("field %s: cannot convert %T to %s", f.Name, value, f.Type)
}

// Matches reports whether the value is (or parses as) the field's type. Used
// by candidate-key resolution and type-dispatch filter aliases.
func (f *Field) Matches(value any) bool {
	_, err := f.Coerce(value)
	return err == nil
}

func isEmpty(value any) bool {
	if value == nil {
		return true
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}
