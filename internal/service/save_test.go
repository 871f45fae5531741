package service

import (
	"errors"
	"testing"

	"restlib/internal/db"
	"restlib/internal/descriptor"
	"restlib/internal/dto"
	"restlib/internal/errs"

	"github.com/google/uuid"
)

func mustDoc(t *testing.T, spec *descriptor.Spec, raw map[string]any, opts dto.Options) *dto.Document {
	t.Helper()
	doc, err := dto.FromMap(spec, raw, opts)
	if err != nil {
		t.Fatalf("FromMap: %v", err)
	}
	return doc
}

func TestInsertGeneratesKeyAndStamps(t *testing.T) {
	fx := newFixture(t)
	svc := fx.svc(t, "clientes")
	doc := mustDoc(t, svc.Spec(), map[string]any{
		"tenant": 7,
		"codigo": "CLI-9",
		"nome":   "Ana",
	}, dto.Options{GeneratePK: true})

	out, err := svc.Insert(t.Context(), doc, map[string]any{"tenant": 7}, WriteOptions{User: "ana@x"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if out.PK() == nil {
		t.Error("primary key was not generated")
	}

	fake := fx.fakes["clientes"]
	row := fake.inserted[0]
	if _, ok := row["cliente"].(uuid.UUID); !ok {
		t.Errorf("cliente = %v (%T), want a generated uuid", row["cliente"], row["cliente"])
	}
	if row["criado_por"] != "ana@x" || row["atualizado_por"] != "ana@x" {
		t.Errorf("authorship stamps = %v / %v, want ana@x", row["criado_por"], row["atualizado_por"])
	}

	// one uniqueness probe before the write, own key excluded
	unique := fake.listCalls[0]
	if unique.Limit != 1 {
		t.Errorf("unique probe limit = %d, want 1", unique.Limit)
	}
	if got := unique.Filters["codigo"][0].Value; got != "CLI-9" {
		t.Errorf("unique probe codigo = %v", got)
	}
	pkConds := unique.Filters["cliente"]
	if len(pkConds) == 0 || pkConds[len(pkConds)-1].Operator != descriptor.Different {
		t.Errorf("unique probe must exclude the own key: %+v", pkConds)
	}

	// existence check on the primary key column
	if got := fake.getCalls[0].keyColumn; got != "cliente" {
		t.Errorf("existence check column = %q, want cliente", got)
	}
}

func TestInsertUniqueViolationConflicts(t *testing.T) {
	fx := newFixture(t)
	fx.fakes["clientes"].listRows = []map[string]any{{"cliente": clienteID2.String()}}
	svc := fx.svc(t, "clientes")
	doc := mustDoc(t, svc.Spec(), map[string]any{
		"tenant": 7,
		"codigo": "CLI-9",
	}, dto.Options{GeneratePK: true})

	_, err := svc.Insert(t.Context(), doc, map[string]any{"tenant": 7}, WriteOptions{})
	var conflict *errs.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
	if len(fx.fakes["clientes"].inserted) != 0 {
		t.Error("insert must not reach the database after a unique violation")
	}
}

func TestInsertExistingKeyConflicts(t *testing.T) {
	fx := newFixture(t)
	fx.fakes["clientes"].getRows = []map[string]any{{"cliente": clienteID1.String()}}
	svc := fx.svc(t, "clientes")
	doc := mustDoc(t, svc.Spec(), map[string]any{
		"cliente": clienteID1.String(),
		"tenant":  7,
		"codigo":  "CLI-9",
	}, dto.Options{GeneratePK: true})

	_, err := svc.Insert(t.Context(), doc, map[string]any{"tenant": 7}, WriteOptions{})
	var conflict *errs.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
}

func TestUpdateReconcilesDetailLists(t *testing.T) {
	fx := newFixture(t)
	fx.fakes["clientes"].getRows = []map[string]any{
		{"cliente": clienteID1.String(), "tenant": int64(7), "codigo": "CLI-1", "nome": "Antes"},
	}
	fx.fakes["emails"].getRows = []map[string]any{
		{"email_id": emailID1.String(), "cliente": clienteID1.String(), "tenant": int64(7), "endereco": "old@x"},
	}
	fx.fakes["emails"].ids = []any{emailID1.String(), emailID2.String()}
	svc := fx.svc(t, "clientes")

	doc := mustDoc(t, svc.Spec(), map[string]any{
		"cliente": clienteID1.String(),
		"tenant":  7,
		"codigo":  "CLI-1",
		"nome":    "Depois",
		"emails": []any{
			map[string]any{"email_id": emailID1.String(), "endereco": "ana@x"},
		},
	}, dto.Options{})

	if _, err := svc.Update(t.Context(), clienteID1.String(), doc, map[string]any{"tenant": 7}, WriteOptions{User: "ana@x"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	parent := fx.fakes["clientes"].updated[0]
	if parent.keyValue != clienteID1 {
		t.Errorf("update key = %v, want the stored primary key", parent.keyValue)
	}
	if _, ok := parent.row["criado_por"]; ok {
		t.Error("no-update column must be stripped from the update row")
	}
	if parent.row["atualizado_por"] != "ana@x" {
		t.Errorf("atualizado_por = %v, want ana@x", parent.row["atualizado_por"])
	}

	emails := fx.fakes["emails"]
	// the stored child missing from the payload is deleted
	if len(emails.deleted) != 1 {
		t.Fatalf("child deletes = %d, want 1", len(emails.deleted))
	}
	if got := emails.deleted[0]["email_id"][0].Value; got != emailID2 {
		t.Errorf("deleted child = %v, want the orphaned one", got)
	}
	// the child kept in the payload updates, carrying the parent key
	if len(emails.updated) != 1 {
		t.Fatalf("child updates = %d, want 1", len(emails.updated))
	}
	child := emails.updated[0]
	if child.keyValue != emailID1 {
		t.Errorf("child key = %v, want %v", child.keyValue, emailID1)
	}
	if child.row["cliente"] != clienteID1 {
		t.Errorf("child relation column = %v, want the parent key", child.row["cliente"])
	}
	if child.row["endereco"] != "ana@x" {
		t.Errorf("endereco = %v, want ana@x", child.row["endereco"])
	}
	if len(emails.inserted) != 0 {
		t.Errorf("unexpected child inserts: %v", emails.inserted)
	}
}

func TestPartialUpdateKeepsStoredChildren(t *testing.T) {
	fx := newFixture(t)
	fx.fakes["clientes"].getRows = []map[string]any{
		{"cliente": clienteID1.String(), "tenant": int64(7), "codigo": "CLI-1"},
	}
	fx.fakes["emails"].ids = []any{emailID1.String()}
	svc := fx.svc(t, "clientes")

	doc := mustDoc(t, svc.Spec(), map[string]any{
		"cliente": clienteID1.String(),
		"tenant":  7,
		"emails": []any{
			map[string]any{"endereco": "new@x"},
		},
	}, dto.Options{PartialUpdate: true})

	if _, err := svc.PartialUpdate(t.Context(), clienteID1.String(), doc, map[string]any{"tenant": 7}, WriteOptions{}); err != nil {
		t.Fatalf("PartialUpdate: %v", err)
	}

	emails := fx.fakes["emails"]
	if len(emails.deleted) != 0 {
		t.Errorf("patch must not delete stored children: %v", emails.deleted)
	}
	if len(emails.inserted) != 1 {
		t.Fatalf("child inserts = %d, want 1", len(emails.inserted))
	}
	row := emails.inserted[0]
	if row["endereco"] != "new@x" {
		t.Errorf("endereco = %v, want new@x", row["endereco"])
	}
	if row["cliente"] != clienteID1 {
		t.Errorf("child relation column = %v, want the parent key", row["cliente"])
	}
	if _, ok := row["email_id"].(uuid.UUID); !ok {
		t.Errorf("child key = %v (%T), want a generated uuid", row["email_id"], row["email_id"])
	}
}

func TestDeleteCascadesToChildren(t *testing.T) {
	fx := newFixture(t)
	fx.fakes["emails"].ids = []any{emailID1.String()}
	svc := fx.svc(t, "clientes")

	if err := svc.Delete(t.Context(), clienteID1.String(), map[string]any{"tenant": 7}, WriteOptions{}); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	emails := fx.fakes["emails"]
	if len(emails.deleted) != 1 {
		t.Fatalf("child deletes = %d, want 1", len(emails.deleted))
	}
	if got := emails.deleted[0]["email_id"][0].Value; got != emailID1 {
		t.Errorf("child delete key = %v, want %v", got, emailID1)
	}

	parentDeletes := fx.fakes["clientes"].deleted
	if len(parentDeletes) != 1 {
		t.Fatalf("parent deletes = %d, want 1", len(parentDeletes))
	}
	if got := parentDeletes[0]["cliente"][0].Value; got != clienteID1 {
		t.Errorf("parent delete key = %v, want %v", got, clienteID1)
	}
	if got := parentDeletes[0]["tenant"][0].Value; got != int64(7) {
		t.Errorf("partition scope on delete = %v, want int64(7)", got)
	}
}

func TestDeleteRequiresPartition(t *testing.T) {
	fx := newFixture(t)
	svc := fx.svc(t, "clientes")

	err := svc.Delete(t.Context(), clienteID1.String(), map[string]any{}, WriteOptions{})
	var missing *errs.MissingParameterError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want MissingParameterError", err)
	}
}

func TestInsertFillsAutoIncrementSequence(t *testing.T) {
	spec := &descriptor.Spec{
		Name:   "pedidos",
		Entity: descriptor.EntityMeta{Table: "pedidos", DefaultOrderFields: []string{"numero"}},
		Fields: []*descriptor.Field{
			{Name: "pedido", Type: descriptor.UUID, PK: true, Resume: true},
			{Name: "tenant", Type: descriptor.Int, NotNull: true, PartitionData: true},
			{Name: "numero", Type: descriptor.Int, Resume: true,
				AutoIncrement: &descriptor.AutoIncrement{SequenceName: "pedidos_numero", Group: []string{"serie"}, StartValue: 1}},
			{Name: "serie", Type: descriptor.String},
		},
	}
	reg := descriptor.NewRegistry()
	if err := reg.Register(spec); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Resolve(); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	fake := &fakeData{spec: spec, nextVal: 7}
	factory := func(s *descriptor.Spec, q db.Querier) DataAccess { return fake }
	svc := New(reg, spec, nil, nil, factory, Options{})

	doc := mustDoc(t, spec, map[string]any{"tenant": 47}, dto.Options{GeneratePK: true})
	out, err := svc.Insert(t.Context(), doc, map[string]any{"tenant": 47}, WriteOptions{})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	call := fake.nextCalls[0]
	if call.base != "pedidos_numero" || call.start != 1 {
		t.Errorf("sequence call = %+v", call)
	}
	// declared group plus partition fields, sorted, absent values padded
	if len(call.group) != 2 || call.group[0] != "----" || call.group[1] != "47" {
		t.Errorf("group key = %v, want [---- 47]", call.group)
	}
	if got := out.Get("numero"); got != int64(8) {
		t.Errorf("numero = %v (%T), want int64(8)", got, got)
	}
	if got := fake.inserted[0]["numero"]; got != int64(8) {
		t.Errorf("inserted numero = %v, want int64(8)", got)
	}
}
