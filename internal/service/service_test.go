package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"restlib/internal/dao"
	"restlib/internal/db"
	"restlib/internal/descriptor"
	"restlib/internal/dto"
	"restlib/internal/errs"

	"github.com/google/uuid"
)

// fakeData records every DataAccess call and replays canned results, so the
// orchestration can be exercised without a database.
type fakeData struct {
	spec *descriptor.Spec

	getCalls    []fakeGetCall
	listCalls   []dao.ListQuery
	listIDCalls []dao.Filters
	inserted    []map[string]any
	updated     []fakeUpdateCall
	deleted     []dao.Filters
	nextCalls   []fakeNextValCall

	getRows         []map[string]any
	getErr          error
	listRows        []map[string]any
	listFn          func(q dao.ListQuery) ([]map[string]any, error)
	ids             []any
	insertReturning map[string]any
	updateReturning map[string]any
	nextVal         int64
}

type fakeGetCall struct {
	keyColumn string
	key       any
	fields    []string
	filters   dao.Filters
}

type fakeUpdateCall struct {
	keyColumn string
	keyValue  any
	row       map[string]any
	upsert    bool
}

type fakeNextValCall struct {
	base  string
	group []string
	start int64
}

func (f *fakeData) Spec() *descriptor.Spec { return f.spec }

func (f *fakeData) Get(ctx context.Context, keyColumn string, key any, fields []string, filters dao.Filters, withConjunto, overrideData bool) ([]map[string]any, error) {
	f.getCalls = append(f.getCalls, fakeGetCall{keyColumn: keyColumn, key: key, fields: fields, filters: filters})
	if f.getErr != nil {
		return nil, f.getErr
	}
	if len(f.getRows) == 0 {
		return nil, &errs.NotFoundError{Resource: f.spec.Name}
	}
	return f.getRows, nil
}

func (f *fakeData) List(ctx context.Context, q dao.ListQuery) ([]map[string]any, error) {
	f.listCalls = append(f.listCalls, q)
	if f.listFn != nil {
		return f.listFn(q)
	}
	return f.listRows, nil
}

func (f *fakeData) Insert(ctx context.Context, row map[string]any, readOnly []string) (map[string]any, error) {
	copied := map[string]any{}
	for k, v := range row {
		copied[k] = v
	}
	f.inserted = append(f.inserted, copied)
	return f.insertReturning, nil
}

func (f *fakeData) Update(ctx context.Context, keyColumn string, keyValue any, row map[string]any, filters dao.Filters, readOnly []string, upsert bool) (map[string]any, error) {
	copied := map[string]any{}
	for k, v := range row {
		copied[k] = v
	}
	f.updated = append(f.updated, fakeUpdateCall{keyColumn: keyColumn, keyValue: keyValue, row: copied, upsert: upsert})
	return f.updateReturning, nil
}

func (f *fakeData) Delete(ctx context.Context, filters dao.Filters) error {
	f.deleted = append(f.deleted, filters)
	return nil
}

func (f *fakeData) ListIDs(ctx context.Context, filters dao.Filters) ([]any, error) {
	f.listIDCalls = append(f.listIDCalls, filters)
	return f.ids, nil
}

func (f *fakeData) NextVal(ctx context.Context, baseName string, groupValues []string, start int64) (int64, error) {
	f.nextCalls = append(f.nextCalls, fakeNextValCall{base: baseName, group: groupValues, start: start})
	f.nextVal++
	return f.nextVal, nil
}

func (f *fakeData) InsertConjuntoRelation(ctx context.Context, id any, groupValue any) error {
	return nil
}

func (f *fakeData) DeleteConjuntoRelation(ctx context.Context, id any) error { return nil }

// fixture wires a clientes spec with an emails detail list against one
// fakeData per spec, shared by the nested services through the factory.
type fixture struct {
	reg   *descriptor.Registry
	fakes map[string]*fakeData
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clientes := &descriptor.Spec{
		Name: "clientes",
		Entity: descriptor.EntityMeta{
			Table:              "clientes",
			DefaultOrderFields: []string{"codigo"},
		},
		Fields: []*descriptor.Field{
			{Name: "cliente", Type: descriptor.UUID, PK: true, Resume: true},
			{Name: "tenant", Type: descriptor.Int, NotNull: true, PartitionData: true},
			{Name: "codigo", Type: descriptor.String, NotNull: true, Resume: true, CandidateKey: true, Unique: "codigo", Search: true,
				Filters: []descriptor.FieldFilter{{Name: "codigo_like", Operator: descriptor.ILike}}},
			{Name: "nome", Type: descriptor.String, Resume: true, Search: true},
			{Name: "criado_por", Type: descriptor.String, NoUpdate: true},
			{Name: "atualizado_por", Type: descriptor.String},
		},
		ListFields: []*descriptor.ListField{
			{Name: "emails", SpecName: "emails", RelatedEntityField: "cliente"},
		},
		TypedAliases:   map[string][]string{"referencia": {"tenant", "codigo"}},
		CreatedByField: "criado_por",
		UpdatedByField: "atualizado_por",
	}
	emails := &descriptor.Spec{
		Name: "emails",
		Entity: descriptor.EntityMeta{
			Table:              "clientes_emails",
			DefaultOrderFields: []string{"endereco"},
		},
		Fields: []*descriptor.Field{
			{Name: "email_id", Type: descriptor.UUID, PK: true, Resume: true},
			{Name: "cliente", Type: descriptor.UUID},
			{Name: "tenant", Type: descriptor.Int, PartitionData: true},
			{Name: "endereco", Type: descriptor.String, Resume: true},
		},
	}

	reg := descriptor.NewRegistry()
	for _, spec := range []*descriptor.Spec{clientes, emails} {
		if err := reg.Register(spec); err != nil {
			t.Fatalf("register %s: %v", spec.Name, err)
		}
	}
	if err := reg.Resolve(); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return &fixture{
		reg: reg,
		fakes: map[string]*fakeData{
			"clientes": {spec: clientes},
			"emails":   {spec: emails},
		},
	}
}

func (f *fixture) factory(spec *descriptor.Spec, q db.Querier) DataAccess {
	return f.fakes[spec.Name]
}

func (f *fixture) svc(t *testing.T, name string) *Service {
	t.Helper()
	spec, ok := f.reg.Spec(name)
	if !ok {
		t.Fatalf("spec %s not registered", name)
	}
	return New(f.reg, spec, nil, nil, f.factory, Options{DefaultPageSize: 20})
}

var (
	clienteID1 = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	clienteID2 = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	emailID1   = uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	emailID2   = uuid.MustParse("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")
)

func TestGetRequiresPartition(t *testing.T) {
	fx := newFixture(t)
	svc := fx.svc(t, "clientes")

	_, err := svc.Get(t.Context(), clienteID1.String(), map[string]any{}, nil)
	var missing *errs.MissingParameterError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want MissingParameterError", err)
	}
	if missing.Parameter != "tenant" {
		t.Errorf("Parameter = %q, want tenant", missing.Parameter)
	}
	if len(fx.fakes["clientes"].getCalls) != 0 {
		t.Errorf("data access reached despite missing partition")
	}
}

func TestGetResolvesCandidateKey(t *testing.T) {
	fx := newFixture(t)
	fx.fakes["clientes"].getRows = []map[string]any{
		{"cliente": clienteID1.String(), "tenant": int64(7), "codigo": "CLI-1", "nome": "Ana"},
	}
	svc := fx.svc(t, "clientes")

	doc, err := svc.Get(t.Context(), "CLI-1", map[string]any{"tenant": "7"}, nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := doc.Get("nome"); got != "Ana" {
		t.Errorf("nome = %v, want Ana", got)
	}

	call := fx.fakes["clientes"].getCalls[0]
	if call.keyColumn != "codigo" {
		t.Errorf("key column = %q, want codigo", call.keyColumn)
	}
	if call.key != "CLI-1" {
		t.Errorf("key = %v, want CLI-1", call.key)
	}
	conds := call.filters["tenant"]
	if len(conds) != 1 || conds[0].Operator != descriptor.Equals || conds[0].Value != int64(7) {
		t.Errorf("tenant filter = %+v, want single equals int64(7)", conds)
	}
}

func TestGetResolvesPrimaryKey(t *testing.T) {
	fx := newFixture(t)
	fx.fakes["clientes"].getRows = []map[string]any{
		{"cliente": clienteID1.String(), "tenant": int64(7), "codigo": "CLI-1"},
	}
	svc := fx.svc(t, "clientes")

	if _, err := svc.Get(t.Context(), clienteID1.String(), map[string]any{"tenant": 7}, nil); err != nil {
		t.Fatalf("Get: %v", err)
	}
	call := fx.fakes["clientes"].getCalls[0]
	if call.keyColumn != "cliente" {
		t.Errorf("key column = %q, want cliente", call.keyColumn)
	}
	if call.key != clienteID1 {
		t.Errorf("key = %v (%T), want parsed uuid", call.key, call.key)
	}
}

func TestListDefaultPageSize(t *testing.T) {
	fx := newFixture(t)
	svc := fx.svc(t, "clientes")

	if _, err := svc.List(t.Context(), ListParams{Filters: map[string]any{"tenant": 7}}); err != nil {
		t.Fatalf("List: %v", err)
	}
	q := fx.fakes["clientes"].listCalls[0]
	if q.Limit != 20 {
		t.Errorf("limit = %d, want the default page size 20", q.Limit)
	}
	conds := q.Filters["tenant"]
	if len(conds) != 1 || conds[0].Value != int64(7) {
		t.Errorf("tenant filter = %+v", conds)
	}
}

func TestListNegativeLimitMeansUncapped(t *testing.T) {
	fx := newFixture(t)
	svc := fx.svc(t, "clientes")

	if _, err := svc.List(t.Context(), ListParams{Limit: -1, Filters: map[string]any{"tenant": 7}}); err != nil {
		t.Fatalf("List: %v", err)
	}
	if q := fx.fakes["clientes"].listCalls[0]; q.Limit != 0 {
		t.Errorf("limit = %d, want 0 (no cap)", q.Limit)
	}
}

func TestListBatchesRelatedLists(t *testing.T) {
	fx := newFixture(t)
	fx.fakes["clientes"].listRows = []map[string]any{
		{"cliente": clienteID1.String(), "tenant": int64(7), "codigo": "CLI-1", "nome": "Ana"},
		{"cliente": clienteID2.String(), "tenant": int64(7), "codigo": "CLI-2", "nome": "Rui"},
		{"tenant": int64(7), "codigo": "CLI-3", "nome": "Eva"}, // no key: empty list, no query
	}
	fx.fakes["emails"].listRows = []map[string]any{
		{"email_id": emailID1.String(), "cliente": clienteID1.String(), "endereco": "ana@x"},
		{"email_id": emailID2.String(), "cliente": clienteID1.String(), "endereco": "ana@y"},
		{"email_id": uuid.New().String(), "cliente": clienteID2.String(), "endereco": "rui@x"},
	}
	svc := fx.svc(t, "clientes")

	fields, err := dto.ParseFields("nome,emails(endereco)")
	if err != nil {
		t.Fatalf("ParseFields: %v", err)
	}
	docs, err := svc.List(t.Context(), ListParams{
		Fields:  fields,
		Filters: map[string]any{"tenant": 7},
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	// one child query for the whole page, never one per parent
	childCalls := fx.fakes["emails"].listCalls
	if len(childCalls) != 1 {
		t.Fatalf("child queries = %d, want 1", len(childCalls))
	}
	if childCalls[0].Limit != 0 {
		t.Errorf("child limit = %d, want 0", childCalls[0].Limit)
	}
	keys := childCalls[0].Filters["cliente"]
	if len(keys) != 2 || keys[0].Value != clienteID1 || keys[1].Value != clienteID2 {
		t.Errorf("relation filter = %+v, want both parent keys", keys)
	}
	tenant := childCalls[0].Filters["tenant"]
	if len(tenant) != 1 || tenant[0].Value != int64(7) {
		t.Errorf("partition not carried down: %+v", tenant)
	}

	if n := len(docs[0].Lists["emails"]); n != 2 {
		t.Errorf("first parent emails = %d, want 2", n)
	}
	// the relation key was projected for regrouping, not requested: it must
	// stay out of the serialized child but remain readable through Hidden
	for _, child := range docs[0].Lists["emails"] {
		if _, ok := child.ToDict(nil)["cliente"]; ok {
			t.Errorf("unrequested relation key leaked into %v", child.ToDict(nil))
		}
		if fmt.Sprintf("%v", child.Hidden["cliente"]) != clienteID1.String() {
			t.Errorf("hidden relation key = %v, want %v", child.Hidden["cliente"], clienteID1)
		}
	}
	if n := len(docs[1].Lists["emails"]); n != 1 {
		t.Errorf("second parent emails = %d, want 1", n)
	}
	if docs[2].Lists["emails"] == nil || len(docs[2].Lists["emails"]) != 0 {
		t.Errorf("keyless parent must get an empty list, got %v", docs[2].Lists["emails"])
	}
}

func TestListRequiresPartition(t *testing.T) {
	fx := newFixture(t)
	svc := fx.svc(t, "clientes")

	_, err := svc.List(t.Context(), ListParams{})
	var missing *errs.MissingParameterError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want MissingParameterError", err)
	}
}
