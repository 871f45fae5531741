package outbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type execRecorder struct {
	sql  string
	args []any
}

func (r *execRecorder) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.sql = sql
	r.args = args
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *execRecorder) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}

func (r *execRecorder) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }

func TestWriteInsertsEvent(t *testing.T) {
	rec := &execRecorder{}
	w := NewWriter("")
	rid := uuid.New()

	err := w.Write(t.Context(), rec, Event{
		TenantID:     int64(47),
		RequestID:    rid,
		UserID:       "ana@x",
		Action:       "insert",
		ResourceType: "clientes",
		ResourceID:   "abc",
		Commit:       map[string]any{"codigo": "CLI-1"},
		PayloadRef:   "s3://audit/abc.json",
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if !strings.HasPrefix(rec.sql, "INSERT INTO restlib_outbox ") {
		t.Errorf("sql = %s", rec.sql)
	}
	if !strings.Contains(rec.sql, "$17") {
		t.Errorf("expected 17 placeholders:\n%s", rec.sql)
	}
	if len(rec.args) != 17 {
		t.Fatalf("args = %d, want 17", len(rec.args))
	}
	if rec.args[2] != int64(47) || rec.args[5] != rid || rec.args[6] != "ana@x" {
		t.Errorf("tenant/request/user args = %v / %v / %v", rec.args[2], rec.args[5], rec.args[6])
	}
	if rec.args[9] != "insert" || rec.args[10] != "clientes" || rec.args[11] != "abc" {
		t.Errorf("action args = %v / %v / %v", rec.args[9], rec.args[10], rec.args[11])
	}
	if rec.args[14] != "s3://audit/abc.json" {
		t.Errorf("payload ref = %v", rec.args[14])
	}

	commitJSON, _ := json.Marshal(map[string]any{"codigo": "CLI-1"})
	sum := sha256.Sum256(commitJSON)
	if rec.args[15] != hex.EncodeToString(sum[:]) {
		t.Errorf("payload sha = %v", rec.args[15])
	}
}

func TestWriteGeneratesRequestID(t *testing.T) {
	rec := &execRecorder{}
	w := NewWriter("custom_outbox")

	if err := w.Write(t.Context(), rec, Event{Action: "delete", ResourceType: "clientes"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.HasPrefix(rec.sql, "INSERT INTO custom_outbox ") {
		t.Errorf("sql = %s", rec.sql)
	}
	rid, ok := rec.args[5].(uuid.UUID)
	if !ok || rid == uuid.Nil {
		t.Errorf("request id = %v, want a generated uuid", rec.args[5])
	}
	// no commit payload: hash, json and ref stay empty
	if b, _ := rec.args[13].([]byte); len(b) != 0 {
		t.Errorf("commit json = %v, want empty", rec.args[13])
	}
	if rec.args[14] != "" || rec.args[15] != "" {
		t.Errorf("payload ref/sha = %v / %v, want empty", rec.args[14], rec.args[15])
	}
}
