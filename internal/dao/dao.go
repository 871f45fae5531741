package dao

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"restlib/internal/db"
	"restlib/internal/descriptor"
	"restlib/internal/errs"
	"restlib/internal/logger"
)

// Options tunes statement generation.
type Options struct {
	// UseReturning enables RETURNING clauses on writes.
	UseReturning bool
	// SequenceTable backs NextVal.
	SequenceTable string
	// Plans is the optional select-plan cache.
	Plans *PlanCache
}

// DAO compiles and executes the SQL for one registered resource. It holds no
// per-request state; WithQuerier rebinds it to a transaction.
type DAO struct {
	q    db.Querier
	spec *descriptor.Spec
	opts Options
}

func New(q db.Querier, spec *descriptor.Spec, opts Options) *DAO {
	if opts.SequenceTable == "" {
		opts.SequenceTable = "restlib_sequences"
	}
	return &DAO{q: q, spec: spec, opts: opts}
}

// WithQuerier returns a copy bound to another querier (normally a pgx.Tx).
func (d *DAO) WithQuerier(q db.Querier) *DAO {
	clone := *d
	clone.q = q
	return &clone
}

func (d *DAO) Spec() *descriptor.Spec { return d.spec }

func (d *DAO) queryRows(ctx context.Context, sql string, args any) ([]map[string]any, error) {
	rows, err := d.q.Query(ctx, sql, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// selectPlan resolves the projected columns and lazy joins for the requested
// field names, consulting the plan cache when configured. A nil field list
// projects every declared column.
func (d *DAO) selectPlan(ctx context.Context, fields []string) *SelectPlan {
	key := ""
	if d.opts.Plans != nil {
		key = PlanKey(d.spec.Name, fields)
		if plan, ok := d.opts.Plans.Get(ctx, key); ok {
			return plan
		}
	}

	plan := &SelectPlan{}
	if fields == nil {
		plan.Columns = d.spec.Columns()
	} else {
		seen := map[string]bool{}
		requested := map[string]bool{}
		add := func(column string) {
			if !seen[column] {
				seen[column] = true
				plan.Columns = append(plan.Columns, column)
			}
		}
		add(d.spec.PKColumn())
		for _, name := range fields {
			requested[name] = true
			if f, ok := d.spec.Field(name); ok {
				add(f.Column())
			}
		}
		plan.Joins = DetectJoins(d.spec, requested)
	}

	if d.opts.Plans != nil {
		d.opts.Plans.Put(ctx, key, plan)
	}
	return plan
}

func projection(columns []string) string {
	return "t0." + strings.Join(columns, ",\n  t0.")
}

// Get fetches by key column under the given filters. Zero rows is NotFound.
// More than one row is a Conflict unless overrideData is set, in which case
// every candidate row is returned for the caller to resolve precedence. A
// LIMIT caps the statement even for point lookups, against unexpected
// fan-out from joins.
func (d *DAO) Get(ctx context.Context, keyColumn string, key any, fields []string, filters Filters, withConjunto, overrideData bool) ([]map[string]any, error) {
	plan := d.selectPlan(ctx, fields)
	b := newBuilder()

	withSQL, conjJoin, conjFields := "", "", ""
	if withConjunto && d.spec.Conjunto != nil {
		filters = filters.Clone()
		conjColumn := d.spec.ColumnFor(d.spec.Conjunto.Field)
		withSQL, conjJoin, conjFields = conjuntoSQL(b, d.spec.Conjunto, d.spec.PKColumn(), conjColumn, filters)
		withSQL += "\n"
	}

	joinFields, joinClauses := joinsSQL(plan.Joins)

	where := filtersWhere(b, filters)
	keyRef := b.bindAs("id", key)

	sql := fmt.Sprintf(`%sselect
  %s%s%s
from %s as t0%s%s
where t0.%s = %s%s
limit 10`,
		withSQL, conjFields, projection(plan.Columns), joinFields,
		d.spec.Entity.Table, conjJoin, joinClauses,
		keyColumn, keyRef, where)

	rows, err := d.queryRows(ctx, sql, b.args)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &errs.NotFoundError{Resource: d.spec.Name, Detail: fmt.Sprintf("%s %v not found", keyColumn, key)}
	}
	if !overrideData && len(rows) > 1 {
		return nil, &errs.ConflictError{Detail: fmt.Sprintf("more than one %s found for %s %v", d.spec.Name, keyColumn, key)}
	}
	return rows, nil
}

// ListQuery carries the inputs of one paginated read.
type ListQuery struct {
	After        any
	Limit        int
	Fields       []string
	OrderFields  []string
	Filters      Filters
	Search       string
	WithConjunto bool
}

// List runs a keyset-paginated read. When After is set, the anchor row is
// fetched first to seed the cursor predicate with its order-field values.
func (d *DAO) List(ctx context.Context, q ListQuery) ([]map[string]any, error) {
	plan := d.selectPlan(ctx, q.Fields)
	order := ParseOrderFields(d.spec, q.OrderFields)
	b := newBuilder()

	pagination := ""
	if q.After != nil {
		orderNames := make([]string, 0, len(order))
		for _, of := range order {
			orderNames = append(orderNames, of.Name)
		}
		anchors, err := d.Get(ctx, d.spec.PKColumn(), q.After, orderNames, nil, false, false)
		if err != nil {
			if _, notFound := err.(*errs.NotFoundError); notFound {
				return nil, &errs.AfterRecordNotFoundError{Resource: d.spec.Name, After: fmt.Sprintf("%v", q.After)}
			}
			return nil, err
		}
		pagination = "\n  and " + keysetPredicate(b, order, anchors[0])
	}

	filters := q.Filters
	withSQL, conjJoin, conjFields := "", "", ""
	if q.WithConjunto && d.spec.Conjunto != nil {
		filters = filters.Clone()
		conjColumn := d.spec.ColumnFor(d.spec.Conjunto.Field)
		withSQL, conjJoin, conjFields = conjuntoSQL(b, d.spec.Conjunto, d.spec.PKColumn(), conjColumn, filters)
		withSQL += "\n"
	}

	joinFields, joinClauses := joinsSQL(plan.Joins)
	where := filtersWhere(b, filters)

	search := ""
	if clause := searchClause(b, d.spec, q.Search); clause != "" {
		search = "\n  and " + clause
	}

	sql := fmt.Sprintf(`%sselect
  %s%s%s
from %s as t0%s%s
where true%s%s%s
order by %s`,
		withSQL, conjFields, projection(plan.Columns), joinFields,
		d.spec.Entity.Table, conjJoin, joinClauses,
		pagination, where, search,
		orderByClause(order))

	if q.Limit > 0 {
		sql += fmt.Sprintf("\nlimit %s", b.bindAs("page_limit", q.Limit))
	}

	return d.queryRows(ctx, sql, b.args)
}

// writeColumns picks the columns of row taking part in the statement, in
// sorted order. Read-only columns join only when a value is present.
func writeColumns(row map[string]any, readOnly []string) []string {
	ro := map[string]bool{}
	for _, c := range readOnly {
		ro[c] = true
	}
	cols := make([]string, 0, len(row))
	for c, v := range row {
		if ro[c] && v == nil {
			continue
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func (d *DAO) returningClause(declared []string, row map[string]any) []string {
	if !d.opts.UseReturning {
		return nil
	}
	fields := append([]string(nil), declared...)
	pk := d.spec.PKColumn()
	if row[pk] == nil {
		found := false
		for _, f := range fields {
			if f == pk {
				found = true
				break
			}
		}
		if !found {
			fields = append(fields, pk)
		}
	}
	return fields
}

// Insert writes one row. Returns the RETURNING values (nil when disabled).
// Zero affected rows means the statement silently failed and is surfaced as
// an error, since existence is checked beforehand.
func (d *DAO) Insert(ctx context.Context, row map[string]any, readOnly []string) (map[string]any, error) {
	cols := writeColumns(row, readOnly)
	if len(cols) == 0 {
		return nil, fmt.Errorf("insert into %s: no columns to write", d.spec.Entity.Table)
	}

	b := newBuilder()
	refs := make([]string, 0, len(cols))
	for _, c := range cols {
		refs = append(refs, b.bindAs("v_"+aliasSafe(c), row[c]))
	}

	sql := fmt.Sprintf("insert into %s (%s)\nvalues (%s)",
		d.spec.Entity.Table, strings.Join(cols, ", "), strings.Join(refs, ", "))

	returning := d.returningClause(d.spec.Entity.InsertReturning, row)
	if len(returning) > 0 {
		sql += "\nreturning " + strings.Join(returning, ", ")
		rows, err := d.queryRows(ctx, sql, b.args)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, fmt.Errorf("error inserting %s into the database", d.spec.Name)
		}
		return rows[0], nil
	}

	tag, err := d.q.Exec(ctx, sql, b.args)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("error inserting %s into the database", d.spec.Name)
	}
	return nil, nil
}

// Update rewrites the row selected by key column plus filters. Zero affected
// rows is NotFound. With upsert, the statement becomes INSERT ... ON
// CONFLICT DO UPDATE over the primary key and the filter columns.
func (d *DAO) Update(ctx context.Context, keyColumn string, keyValue any, row map[string]any, filters Filters, readOnly []string, upsert bool) (map[string]any, error) {
	b := newBuilder()
	where := filtersWhere(b, filters)
	keyRef := b.bindAs("candidate_key_value", keyValue)
	pk := d.spec.PKColumn()

	var sql string
	if upsert {
		cols := writeColumns(row, readOnly)
		refs := make([]string, 0, len(cols))
		for _, c := range cols {
			refs = append(refs, b.bindAs("v_"+aliasSafe(c), row[c]))
		}

		var sets []string
		for _, c := range cols {
			if c == pk {
				continue
			}
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}

		conflictCols := []string{pk}
		for column := range filters {
			conflictCols = append(conflictCols, column)
		}
		sort.Strings(conflictCols[1:])

		sql = fmt.Sprintf(`insert into %s as t0 (%s)
values (%s)
on conflict (%s) do update set
  %s
where t0.%s = %s%s`,
			d.spec.Entity.Table, strings.Join(cols, ", "), strings.Join(refs, ", "),
			strings.Join(conflictCols, ", "),
			strings.Join(sets, ",\n  "),
			keyColumn, keyRef, where)
	} else {
		cols := writeColumns(row, readOnly)
		var sets []string
		for _, c := range cols {
			if c == pk {
				continue
			}
			sets = append(sets, fmt.Sprintf("%s = %s", c, b.bindAs("v_"+aliasSafe(c), row[c])))
		}
		if len(sets) == 0 {
			return nil, fmt.Errorf("update %s: no columns to write", d.spec.Entity.Table)
		}

		sql = fmt.Sprintf(`update %s as t0 set
  %s
where t0.%s = %s%s`,
			d.spec.Entity.Table, strings.Join(sets, ",\n  "), keyColumn, keyRef, where)
	}

	returning := d.returningClause(d.spec.Entity.UpdateReturning, row)
	if len(returning) > 0 {
		sql += "\nreturning " + strings.Join(returning, ", ")
		rows, err := d.queryRows(ctx, sql, b.args)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, &errs.NotFoundError{Resource: d.spec.Name, Detail: fmt.Sprintf("%s %v not found", keyColumn, keyValue)}
		}
		return rows[0], nil
	}

	tag, err := d.q.Exec(ctx, sql, b.args)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, &errs.NotFoundError{Resource: d.spec.Name, Detail: fmt.Sprintf("%s %v not found", keyColumn, keyValue)}
	}
	return nil, nil
}

// Delete removes the rows matching the filters. An empty filter set is
// refused (never an unconditional delete) and zero matched rows is NotFound,
// both surfaced the same way.
func (d *DAO) Delete(ctx context.Context, filters Filters) error {
	if len(filters) == 0 {
		return &errs.NotFoundError{Resource: d.spec.Name, Detail: "no filters given for delete"}
	}

	b := newBuilder()
	fragments := compileFilters(b, filters)
	if len(fragments) == 0 {
		return &errs.NotFoundError{Resource: d.spec.Name, Detail: "no filters given for delete"}
	}

	sql := fmt.Sprintf("delete from %s as t0 where %s",
		d.spec.Entity.Table, strings.Join(fragments, "\n  and "))

	tag, err := d.q.Exec(ctx, sql, b.args)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &errs.NotFoundError{Resource: d.spec.Name, Detail: "no rows matched the delete filters"}
	}
	return nil
}

// ListIDs returns the primary keys matching the filters, nil when no filter
// is given.
func (d *DAO) ListIDs(ctx context.Context, filters Filters) ([]any, error) {
	if len(filters) == 0 {
		return nil, nil
	}

	b := newBuilder()
	where := filtersWhere(b, filters)
	pk := d.spec.PKColumn()

	sql := fmt.Sprintf("select t0.%s from %s as t0 where true%s", pk, d.spec.Entity.Table, where)

	rows, err := d.queryRows(ctx, sql, b.args)
	if err != nil {
		return nil, err
	}
	ids := make([]any, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r[pk])
	}
	return ids, nil
}

// NextVal increments the application-level sequence derived from the base
// name and the group values, creating it at start on first use. The
// increment is atomic through the upsert RETURNING round trip.
func (d *DAO) NextVal(ctx context.Context, baseName string, groupValues []string, start int64) (int64, error) {
	name := baseName
	if len(groupValues) > 0 {
		name = baseName + "_" + strings.Join(groupValues, "_")
	}
	if start == 0 {
		start = 1
	}

	b := newBuilder()
	sql := fmt.Sprintf(`insert into %s (seq_name, current_value)
values (%s, %s)
on conflict (seq_name)
do update set current_value = %s.current_value + 1
returning current_value`,
		d.opts.SequenceTable,
		b.bindAs("sequence_name", name), b.bindAs("start_value", start),
		d.opts.SequenceTable)

	var value int64
	if err := d.q.QueryRow(ctx, sql, b.args).Scan(&value); err != nil {
		return 0, err
	}
	logger.Debug("sequence_next_val", map[string]any{
		"sequence": name,
		"value":    value,
	})
	return value, nil
}
