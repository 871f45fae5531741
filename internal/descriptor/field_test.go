package descriptor

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCoerceTable(t *testing.T) {
	id := uuid.New()
	cases := []struct {
		name  string
		field Field
		in    any
		want  any
	}{
		{"string passthrough", Field{Name: "f", Type: String}, "abc", "abc"},
		{"untyped defaults to string", Field{Name: "f"}, 42, "42"},
		{"int from string", Field{Name: "f", Type: Int}, "42", int64(42)},
		{"int from json number", Field{Name: "f", Type: Int}, float64(42), int64(42)},
		{"int normalized", Field{Name: "f", Type: Int}, int(7), int64(7)},
		{"float from string", Field{Name: "f", Type: Float}, "10.5", 10.5},
		{"float with decimal comma", Field{Name: "f", Type: Float}, "10,5", 10.5},
		{"bool from string", Field{Name: "f", Type: Bool}, "true", true},
		{"uuid from string", Field{Name: "f", Type: UUID}, id.String(), id},
		{"uuid passthrough", Field{Name: "f", Type: UUID}, id, id},
		{"date", Field{Name: "f", Type: Date}, "2026-03-15", time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"datetime", Field{Name: "f", Type: DateTime}, "2026-03-15T10:30:00", time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)},
		{"datetime with space", Field{Name: "f", Type: DateTime}, "2026-03-15 10:30:00", time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)},
		{"nil passes", Field{Name: "f", Type: Int}, nil, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.field.Coerce(tc.in)
			if err != nil {
				t.Fatalf("Coerce(%v): %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("Coerce(%v) = %v (%T), want %v (%T)", tc.in, got, got, tc.want, tc.want)
			}
		})
	}
}

func TestCoerceRejects(t *testing.T) {
	cases := []struct {
		field Field
		in    any
	}{
		{Field{Name: "f", Type: Int}, "abc"},
		{Field{Name: "f", Type: UUID}, "not-a-uuid"},
		{Field{Name: "f", Type: Date}, "15/03/2026"},
		{Field{Name: "f", Type: Bool}, "yes please"},
		{Field{Name: "f", Type: DateTime}, "2026-03-15"},
	}
	for _, tc := range cases {
		if _, err := tc.field.Coerce(tc.in); err == nil {
			t.Errorf("%s accepted %v", tc.field.Type, tc.in)
		}
	}
}

func TestMatches(t *testing.T) {
	intField := Field{Name: "f", Type: Int}
	if !intField.Matches("42") || intField.Matches("abc") {
		t.Error("int matching is wrong")
	}
	uuidField := Field{Name: "f", Type: UUID}
	if !uuidField.Matches(uuid.New().String()) || uuidField.Matches("CLI-1") {
		t.Error("uuid matching is wrong")
	}
}

func TestValidateNotNullAndStrip(t *testing.T) {
	f := Field{Name: "nome", Type: String, NotNull: true, Strip: true}

	if _, err := f.Validate(nil, false); err == nil {
		t.Error("nil must violate not-null")
	}
	if _, err := f.Validate("   ", false); err == nil {
		t.Error("blank must violate not-null")
	}
	got, err := f.Validate("  Ana  ", false)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got != "Ana" {
		t.Errorf("got %q, want stripped", got)
	}
}

func TestValidateGeneratePKRelaxesNotNull(t *testing.T) {
	pk := Field{Name: "id", Type: UUID, PK: true, NotNull: true}
	if _, err := pk.Validate(nil, true); err != nil {
		t.Errorf("generatePK must relax the pk: %v", err)
	}
	if _, err := pk.Validate(nil, false); err == nil {
		t.Error("pk without generatePK must stay not-null")
	}
}

func TestValidateBounds(t *testing.T) {
	min, max := 3, 5
	f := Field{Name: "codigo", Type: String, Min: &min, Max: &max}

	if _, err := f.Validate("ab", false); err == nil || !strings.Contains(err.Error(), "at least") {
		t.Errorf("short value err = %v", err)
	}
	if _, err := f.Validate("abcdef", false); err == nil || !strings.Contains(err.Error(), "at most") {
		t.Errorf("long value err = %v", err)
	}
	if _, err := f.Validate("abcd", false); err != nil {
		t.Errorf("in-bounds value failed: %v", err)
	}

	n := Field{Name: "quantidade", Type: Int, Min: &min}
	if _, err := n.Validate(int64(2), false); err == nil {
		t.Error("numeric lower bound not enforced")
	}
}

func TestValidateRunsCustomValidator(t *testing.T) {
	f := Field{Name: "codigo", Type: String, Validator: func(f *Field, v any) (any, error) {
		return strings.ToUpper(v.(string)), nil
	}}
	got, err := f.Validate("cli-1", false)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got != "CLI-1" {
		t.Errorf("got %v, want the validator's output", got)
	}
}

func TestColumnAndDefault(t *testing.T) {
	f := Field{Name: "documento", EntityField: "num_documento"}
	if f.Column() != "num_documento" {
		t.Errorf("Column = %q", f.Column())
	}
	plain := Field{Name: "nome"}
	if plain.Column() != "nome" {
		t.Errorf("Column = %q", plain.Column())
	}

	d := Field{Name: "ativo", Default: true}
	if d.DefaultValue() != true {
		t.Errorf("DefaultValue = %v", d.DefaultValue())
	}
	fn := Field{Name: "criado_em", DefaultFunc: func() any { return "now" }}
	if fn.DefaultValue() != "now" {
		t.Errorf("DefaultFunc not preferred: %v", fn.DefaultValue())
	}
}
