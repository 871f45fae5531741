package dao

import (
	"testing"

	"restlib/internal/descriptor"

	"github.com/google/go-cmp/cmp"
)

func TestCompileFiltersMultiEqualsCollapsesToIn(t *testing.T) {
	b := newBuilder()
	got := compileFilters(b, Filters{
		"codigo": {descriptor.NewFilter("A"), descriptor.NewFilter("B")},
	})
	want := []string{"t0.codigo in (@ft_eq_codigo_0, @ft_eq_codigo_1)"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("fragments (-want +got):\n%s", diff)
	}
	if b.args["ft_eq_codigo_0"] != "A" || b.args["ft_eq_codigo_1"] != "B" {
		t.Errorf("args = %v", b.args)
	}
}

func TestCompileFiltersMultiDifferentCollapsesToNotIn(t *testing.T) {
	b := newBuilder()
	got := compileFilters(b, Filters{
		"status": {
			{Operator: descriptor.Different, Value: "x"},
			{Operator: descriptor.Different, Value: "y"},
		},
	})
	want := []string{"t0.status not in (@ft_ne_status_0, @ft_ne_status_1)"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("fragments (-want +got):\n%s", diff)
	}
}

func TestCompileFiltersSingleEqualsStaysComparison(t *testing.T) {
	b := newBuilder()
	got := compileFilters(b, Filters{
		"codigo": {descriptor.NewFilter("A")},
	})
	want := []string{"(t0.codigo = @ft_eq_codigo_0)"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("fragments (-want +got):\n%s", diff)
	}
}

func TestCompileFiltersMixedOperatorsGroup(t *testing.T) {
	b := newBuilder()
	got := compileFilters(b, Filters{
		"nome": {
			{Operator: descriptor.ILike, Value: "ana"},
			{Operator: descriptor.GreaterThan, Value: "A"},
		},
	})
	// equality-like conditions OR together, ordering ones AND together
	want := []string{
		"(t0.nome ilike @ft_ilike_nome_0)",
		"(t0.nome > @ft_gt_nome_0)",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("fragments (-want +got):\n%s", diff)
	}
	// like values gain the contains wildcards at bind time
	if b.args["ft_ilike_nome_0"] != "%ana%" {
		t.Errorf("ilike arg = %v", b.args["ft_ilike_nome_0"])
	}
}

func TestCompileFiltersNotNullAndLength(t *testing.T) {
	b := newBuilder()
	got := compileFilters(b, Filters{
		"documento": {
			{Operator: descriptor.NotNull},
			{Operator: descriptor.LengthGreaterOrEqual, Value: 11},
		},
	})
	want := []string{"(t0.documento is not null and length(t0.documento) >= @ft_lenge_documento_0)"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("fragments (-want +got):\n%s", diff)
	}
}

func TestCompileFiltersNilValueSkipped(t *testing.T) {
	b := newBuilder()
	got := compileFilters(b, Filters{
		"codigo": {{Operator: descriptor.Equals, Value: nil}},
	})
	if len(got) != 0 {
		t.Errorf("fragments = %v", got)
	}
}

func TestCompileFiltersDeterministicColumnOrder(t *testing.T) {
	b := newBuilder()
	got := compileFilters(b, Filters{
		"zeta":  {descriptor.NewFilter(1)},
		"alpha": {descriptor.NewFilter(2)},
	})
	want := []string{
		"(t0.alpha = @ft_eq_alpha_0)",
		"(t0.zeta = @ft_eq_zeta_0)",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("fragments (-want +got):\n%s", diff)
	}
}

func TestCompileFiltersTableAlias(t *testing.T) {
	b := newBuilder()
	got := compileFilters(b, Filters{
		"cidade": {{Operator: descriptor.Equals, Value: "SP", TableAlias: "t1"}},
	})
	want := []string{"(t1.cidade = @ft_eq_cidade_0)"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("fragments (-want +got):\n%s", diff)
	}
}
