package outbox

// Package outbox persists audit events into a durable table, inside the same
// transaction as the write they describe, for later asynchronous delivery.

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"restlib/internal/db"
	"restlib/internal/logger"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// Event is one audit record. Resource and Action identify what happened;
// Commit carries the written document as delivered to consumers. PayloadRef
// points at an externally stored payload when the commit body is offloaded.
type Event struct {
	TenantID         any
	GrupoEmpresarial any
	AreaAtendimento  any
	RequestID        uuid.UUID
	UserID           string
	SubjectUserID    string
	SessionID        string
	Action           string
	ResourceType     string
	ResourceID       string
	Params           map[string]any
	Commit           map[string]any
	PayloadRef       string
}

// Writer inserts events. It is safe for concurrent use.
type Writer struct {
	table string
	sb    squirrel.StatementBuilderType
}

func NewWriter(table string) *Writer {
	if table == "" {
		table = "restlib_outbox"
	}
	return &Writer{
		table: table,
		sb:    squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Write appends the event on the given querier, normally the transaction of
// the write being audited so the event commits or rolls back with it.
func (w *Writer) Write(ctx context.Context, q db.Querier, ev Event) error {
	params := ev.Params
	if params == nil {
		params = map[string]any{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return err
	}

	var commitJSON []byte
	var payloadSHA string
	if ev.Commit != nil {
		commitJSON, err = json.Marshal(ev.Commit)
		if err != nil {
			return err
		}
		sum := sha256.Sum256(commitJSON)
		payloadSHA = hex.EncodeToString(sum[:])
	}

	requestID := ev.RequestID
	if requestID == uuid.Nil {
		requestID = uuid.New()
	}

	sql, args, err := w.sb.
		Insert(w.table).
		Columns(
			"outbox_id", "created_at",
			"tenant_id", "grupo_empresarial_id", "area_atendimento_id",
			"request_id", "user_id", "subject_user_id", "session_id",
			"action", "resource_type", "resource_id",
			"params_normalizados", "commit_json", "payload_ref",
			"payload_sha256", "schema_version",
		).
		Values(
			uuid.New(), time.Now().UTC(),
			ev.TenantID, ev.GrupoEmpresarial, ev.AreaAtendimento,
			requestID, ev.UserID, ev.SubjectUserID, ev.SessionID,
			ev.Action, ev.ResourceType, ev.ResourceID,
			paramsJSON, commitJSON, ev.PayloadRef,
			payloadSHA, 1,
		).
		ToSql()
	if err != nil {
		return err
	}

	if _, err := q.Exec(ctx, sql, args...); err != nil {
		return err
	}
	logger.Debug("outbox_event_written", map[string]any{
		"action":        ev.Action,
		"resource_type": ev.ResourceType,
		"resource_id":   ev.ResourceID,
	})
	return nil
}
