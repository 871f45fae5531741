package descriptor

// Operator is a filter comparison operator. The string value is embedded in
// generated parameter aliases, so it must stay short and alias-safe.
type Operator string

const (
	Equals         Operator = "eq"
	Different      Operator = "ne"
	GreaterThan    Operator = "gt"
	LessThan       Operator = "lt"
	GreaterOrEqual Operator = "ge"
	LessOrEqual    Operator = "le"
	Like           Operator = "like"
	ILike          Operator = "ilike"
	NotNull        Operator = "notnull"
	LengthGreaterOrEqual Operator = "lenge"
	LengthLessOrEqual    Operator = "lenle"
)

// OrGrouped reports whether same-field conditions with this operator
// combine with OR (and may collapse into IN / NOT IN).
func (o Operator) OrGrouped() bool {
	switch o {
	case Equals, Like, ILike:
		return true
	}
	return false
}

// NeedsValue reports whether the operator carries a bound value.
func (o Operator) NeedsValue() bool { return o != NotNull }

// Filter is one normalized condition against an entity column.
// TableAlias is empty for the root table (t0).
type Filter struct {
	Operator   Operator
	Value      any
	TableAlias string
}

// NewFilter builds an equality filter, the default for plain field filters.
func NewFilter(value any) Filter {
	return Filter{Operator: Equals, Value: value}
}
