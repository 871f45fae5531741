package descriptor

// RelationOwner tells which side holds the join column.
type RelationOwner string

const (
	OwnerSelf  RelationOwner = "self"  // the root entity carries the column
	OwnerOther RelationOwner = "other" // the related entity carries the column
)

// ListField declares a 1:N detail list: child documents loaded through one
// batched IN query and reconciled (insert/update/delete) on writes.
type ListField struct {
	Name string
	// SpecName references the child spec in the registry.
	SpecName string
	// RelatedEntityField is the child column pointing back at the parent.
	RelatedEntityField string
	// RelationKeyField overrides the parent field supplying the relation
	// value (defaults to the parent PK field).
	RelationKeyField string
	NotNull          bool
	Min              *int
	Max              *int

	specRef *Spec
}

// Ref returns the resolved child spec (set by Registry.resolve).
func (l *ListField) Ref() *Spec { return l.specRef }

// ObjectField declares an N:1 related object populated through a batched
// lookup on the relation column.
type ObjectField struct {
	Name          string
	SpecName      string
	RelationField string
	Owner         RelationOwner
	NotNull       bool
	Resume        bool

	specRef *Spec
}

// Ref returns the resolved related spec.
func (o *ObjectField) Ref() *Spec { return o.specRef }

// SQLJoinField projects columns of another table into the root query through
// a join built per request (only when the field or an active filter needs it).
type SQLJoinField struct {
	Name string
	// Table and alias joined into the query.
	Table string
	// SelfField / OtherField are the join columns (t0.self = alias.other).
	SelfField  string
	OtherField string
	// JoinType is "left" or "inner".
	JoinType string
	// Fields are the projected columns of the joined table.
	Fields []string
}

// JoinAux is the ephemeral per-query join description handed to the DAO.
type JoinAux struct {
	Table      string
	Alias      string
	JoinType   string
	SelfField  string
	OtherField string
	Fields     []string
}
