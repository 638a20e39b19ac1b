package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/bizcore/internal/platform/db"
	"github.com/odyssey-erp/bizcore/internal/shared"
)

// RepositoryPort is the persistence surface used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ReceivableExposure(ctx context.Context, counterpartyID int64, asOf time.Time) (ExposureRow, error)
}

// TxRepository performs writes inside one transaction.
type TxRepository interface {
	ClaimIdempotencyKey(ctx context.Context, key string) error
	InsertEntry(ctx context.Context, entry Entry) (int64, error)
	InsertPayrollLine(ctx context.Context, entryID int64, period string, line PayrollLine) error
	LinkFiscalDocument(ctx context.Context, in LinkInput) (int64, error)
	AppendAudit(ctx context.Context, entry shared.AuditEntry) error
}

// Repository is the pgx-backed RepositoryPort.
type Repository struct {
	pool *pgxpool.Pool
	opts db.TxOptions
}

// NewRepository constructs a Repository. lockTimeout bounds row-lock waits.
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	return &Repository{pool: pool, opts: db.TxOptions{IsoLevel: pgx.ReadCommitted, LockTimeout: lockTimeout}}
}

// WithTx runs fn inside a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, r.opts, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// ReceivableExposure aggregates open receivables for a customer.
func (r *Repository) ReceivableExposure(ctx context.Context, counterpartyID int64, asOf time.Time) (ExposureRow, error) {
	const query = `
SELECT COUNT(*),
       COALESCE(SUM(amount), 0)::text,
       COUNT(*) FILTER (WHERE due_date < $3::date),
       COALESCE(SUM(amount) FILTER (WHERE due_date < $3::date), 0)::text,
       MIN(due_date)
FROM ledger_entries
WHERE direction = $1 AND counterparty_id = $2 AND status = $4`
	var (
		row                ExposureRow
		pending, overdue   string
		pendingN, overdueN int64
	)
	err := r.pool.QueryRow(ctx, query, DirectionReceivable, counterpartyID, asOf, EntryStatusPending).
		Scan(&pendingN, &pending, &overdueN, &overdue, &row.OldestDue)
	if err != nil {
		return ExposureRow{}, fmt.Errorf("ledger: exposure: %w", db.MapError(err))
	}
	row.PendingCount = int(pendingN)
	row.OverdueCount = int(overdueN)
	if row.PendingTotal, err = decimal.NewFromString(pending); err != nil {
		return ExposureRow{}, fmt.Errorf("ledger: exposure total: %w", err)
	}
	if row.OverdueTotal, err = decimal.NewFromString(overdue); err != nil {
		return ExposureRow{}, fmt.Errorf("ledger: exposure overdue: %w", err)
	}
	return row, nil
}

type txRepo struct {
	tx pgx.Tx
}

// NewTxRepository binds ledger writes to an open transaction so other modules
// can include a batch in their own commit.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

func (r *txRepo) ClaimIdempotencyKey(ctx context.Context, key string) error {
	err := shared.ClaimIdempotencyKey(ctx, r.tx, key, "ledger")
	if errors.Is(err, shared.ErrIdempotencyConflict) {
		return fmt.Errorf("%w: %s", shared.ErrDuplicateBatch, key)
	}
	return err
}

func (r *txRepo) InsertEntry(ctx context.Context, e Entry) (int64, error) {
	const stmt = `
INSERT INTO ledger_entries (
    batch_id, direction, counterparty_id, counterparty_name, description, amount,
    issue_date, due_date, status, origin_type, origin_id,
    installment_index, installment_count, fiscal_number, fiscal_key, created_by, created_at
) VALUES ($1, $2, NULLIF($3, 0), $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12, $13, NULLIF($14, ''), NULLIF($15, ''), $16, NOW())
RETURNING id`
	var id int64
	err := r.tx.QueryRow(ctx, stmt,
		e.BatchID, e.Direction, e.CounterpartyID, e.CounterpartyName, e.Description, e.Amount.String(),
		e.IssueDate, e.DueDate, e.Status, e.OriginType, e.OriginID,
		e.InstallmentIndex, e.InstallmentCount, e.FiscalNumber, e.FiscalKey, e.CreatedBy,
	).Scan(&id)
	return id, err
}

func (r *txRepo) InsertPayrollLine(ctx context.Context, entryID int64, period string, line PayrollLine) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO payroll_lines (ledger_entry_id, employee_id, employee_name, net_amount, period, created_at)
VALUES ($1, $2, $3, $4::numeric, $5, NOW())`, entryID, line.EmployeeID, line.EmployeeName, line.Net.String(), period)
	return err
}

func (r *txRepo) LinkFiscalDocument(ctx context.Context, in LinkInput) (int64, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE ledger_entries
SET fiscal_number = $1, fiscal_key = NULLIF($2, ''), updated_at = NOW()
WHERE direction = $3 AND origin_type = $4 AND origin_id = $5`, in.Number, in.Key, in.Direction, in.OriginType, in.OriginID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *txRepo) AppendAudit(ctx context.Context, entry shared.AuditEntry) error {
	return shared.WriteAudit(ctx, r.tx, entry)
}
