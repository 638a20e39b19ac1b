// Package versioning enforces optimistic concurrency on business tables that
// carry version, last_modified_by and last_modified_at columns.
package versioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/bizcore/internal/platform/db"
	"github.com/odyssey-erp/bizcore/internal/shared"
)

// ErrTableNotVersioned indicates a table outside the configured allow-list.
var ErrTableNotVersioned = fmt.Errorf("%w: table is not versioned", shared.ErrValidation)

var reservedColumns = map[string]struct{}{
	"id":               {},
	"version":          {},
	"last_modified_by": {},
	"last_modified_at": {},
}

// Stamp is the stored version of a record.
type Stamp struct {
	Version        int64
	LastModifiedBy int64
	LastModifiedAt time.Time
}

// UpdateInput describes one guarded write. A nil Version skips the check
// unless strict mode is on.
type UpdateInput struct {
	Table    string
	RecordID int64
	Version  *int64
	ActorID  int64
	Set      map[string]any
}

// Recorder counts guard outcomes.
type Recorder interface {
	VersionConflict(table string)
	VersionMissing(table string)
}

// Config controls the guard.
type Config struct {
	Tables   []string
	Required bool
}

// Guard validates and applies version-conditioned writes.
type Guard struct {
	q        db.Querier
	tables   map[string]struct{}
	required bool
	logger   *slog.Logger
	metrics  Recorder
}

// NewGuard constructs a Guard reading through q.
func NewGuard(q db.Querier, cfg Config, logger *slog.Logger, metrics Recorder) *Guard {
	tables := make(map[string]struct{}, len(cfg.Tables))
	for _, t := range cfg.Tables {
		if t = strings.TrimSpace(t); t != "" {
			tables[t] = struct{}{}
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{q: q, tables: tables, required: cfg.Required, logger: logger, metrics: metrics}
}

// Check compares supplied with the stored version without writing anything.
func (g *Guard) Check(ctx context.Context, table string, recordID int64, supplied *int64) (Stamp, error) {
	if err := g.allowed(table); err != nil {
		return Stamp{}, err
	}
	stamp, err := g.read(ctx, g.q, table, recordID)
	if err != nil {
		return Stamp{}, err
	}
	if supplied == nil {
		if err := g.missing(table, recordID); err != nil {
			return Stamp{}, err
		}
		return stamp, nil
	}
	if *supplied != stamp.Version {
		return Stamp{}, g.conflict(table, recordID, *supplied, stamp)
	}
	return stamp, nil
}

// Update applies in.Set with a single conditional statement and returns the
// new version. q may be a pool or a caller's transaction.
func (g *Guard) Update(ctx context.Context, q db.Querier, in UpdateInput) (int64, error) {
	if err := g.allowed(in.Table); err != nil {
		return 0, err
	}
	if in.RecordID <= 0 || in.ActorID <= 0 {
		return 0, fmt.Errorf("%w: record and actor required", shared.ErrValidation)
	}
	if q == nil {
		q = g.q
	}
	if in.Version == nil {
		if err := g.missing(in.Table, in.RecordID); err != nil {
			return 0, err
		}
	}

	sql, args, err := buildUpdate(in)
	if err != nil {
		return 0, err
	}
	var next int64
	err = q.QueryRow(ctx, sql, args...).Scan(&next)
	if err == nil {
		return next, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("versioning: update %s#%d: %w", in.Table, in.RecordID, db.MapError(err))
	}
	stamp, err := g.read(ctx, q, in.Table, in.RecordID)
	if err != nil {
		return 0, err
	}
	supplied := int64(-1)
	if in.Version != nil {
		supplied = *in.Version
	}
	return 0, g.conflict(in.Table, in.RecordID, supplied, stamp)
}

func (g *Guard) allowed(table string) error {
	if _, ok := g.tables[table]; !ok {
		return fmt.Errorf("%w: %q", ErrTableNotVersioned, table)
	}
	return nil
}

func (g *Guard) missing(table string, recordID int64) error {
	if g.required {
		return shared.ErrVersionRequired
	}
	if g.metrics != nil {
		g.metrics.VersionMissing(table)
	}
	g.logger.Warn("write without version", slog.String("table", table), slog.Int64("record_id", recordID))
	return nil
}

func (g *Guard) conflict(table string, recordID, supplied int64, stamp Stamp) error {
	if g.metrics != nil {
		g.metrics.VersionConflict(table)
	}
	return &shared.ConflictError{
		Table:           table,
		RecordID:        recordID,
		SuppliedVersion: supplied,
		CurrentVersion:  stamp.Version,
		LastModifiedBy:  stamp.LastModifiedBy,
		LastModifiedAt:  stamp.LastModifiedAt,
	}
}

func (g *Guard) read(ctx context.Context, q db.Querier, table string, recordID int64) (Stamp, error) {
	sql := fmt.Sprintf(`SELECT version, last_modified_by, last_modified_at FROM %s WHERE id = $1`, pgx.Identifier{table}.Sanitize())
	var (
		stamp Stamp
		by    *int64
		at    *time.Time
	)
	err := q.QueryRow(ctx, sql, recordID).Scan(&stamp.Version, &by, &at)
	if errors.Is(err, pgx.ErrNoRows) {
		return Stamp{}, fmt.Errorf("versioning: %s#%d: %w", table, recordID, shared.ErrNotFound)
	}
	if err != nil {
		return Stamp{}, fmt.Errorf("versioning: read %s#%d: %w", table, recordID, db.MapError(err))
	}
	if by != nil {
		stamp.LastModifiedBy = *by
	}
	if at != nil {
		stamp.LastModifiedAt = *at
	}
	return stamp, nil
}

// buildUpdate renders the conditional UPDATE. Arguments are the Set values
// in column order, then actor, record id and (when present) version.
func buildUpdate(in UpdateInput) (string, []any, error) {
	columns := make([]string, 0, len(in.Set))
	for col := range in.Set {
		if _, reserved := reservedColumns[col]; reserved {
			return "", nil, fmt.Errorf("%w: column %q is managed by the version guard", shared.ErrValidation, col)
		}
		columns = append(columns, col)
	}
	sort.Strings(columns)

	var b strings.Builder
	args := make([]any, 0, len(columns)+3)
	b.WriteString("UPDATE ")
	b.WriteString(pgx.Identifier{in.Table}.Sanitize())
	b.WriteString(" SET ")
	for _, col := range columns {
		args = append(args, in.Set[col])
		fmt.Fprintf(&b, "%s = $%d, ", pgx.Identifier{col}.Sanitize(), len(args))
	}
	args = append(args, in.ActorID, in.RecordID)
	fmt.Fprintf(&b, "version = version + 1, last_modified_by = $%d, last_modified_at = now() WHERE id = $%d", len(args)-1, len(args))
	if in.Version != nil {
		args = append(args, *in.Version)
		fmt.Fprintf(&b, " AND version = $%d", len(args))
	}
	b.WriteString(" RETURNING version")
	return b.String(), args, nil
}
