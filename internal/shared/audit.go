package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Audit actions written by the core.
const (
	AuditActionCreate   = "CREATE"
	AuditActionApproval = "APPROVAL"
	AuditActionSubmit   = "SUBMIT"
	AuditActionLink     = "LINK"
)

// Execer runs a statement on a pool or transaction.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditEntry represents a record stored in audit_log.
type AuditEntry struct {
	Table    string
	RecordID string
	Action   string
	Before   map[string]any
	After    map[string]any
	ActorID  int64
	At       time.Time
}

// Validate checks the mandatory fields.
func (e AuditEntry) Validate() error {
	if e.Action == "" || e.Table == "" || e.RecordID == "" {
		return errors.New("audit log requires table/record_id/action")
	}
	return nil
}

// WriteAudit appends entry using exec, which is usually the caller's transaction.
func WriteAudit(ctx context.Context, exec Execer, entry AuditEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	before, err := marshalSnapshot(entry.Before)
	if err != nil {
		return err
	}
	after, err := marshalSnapshot(entry.After)
	if err != nil {
		return err
	}
	var at *time.Time
	if !entry.At.IsZero() {
		at = &entry.At
	}
	_, err = exec.Exec(ctx, `INSERT INTO audit_log (table_name, record_id, action, before_data, after_data, actor_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`, entry.Table, entry.RecordID, entry.Action, before, after, entry.ActorID, at)
	return err
}

func marshalSnapshot(snapshot map[string]any) ([]byte, error) {
	if snapshot == nil {
		return nil, nil
	}
	return json.Marshal(snapshot)
}
