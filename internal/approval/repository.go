package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/bizcore/internal/ledger"
	"github.com/odyssey-erp/bizcore/internal/platform/db"
	"github.com/odyssey-erp/bizcore/internal/shared"
)

// RepositoryPort describes persistence used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Request, error)
	// ListPending returns pending requests up to maxAmount (nil for all),
	// largest amount first then oldest.
	ListPending(ctx context.Context, maxAmount *decimal.Decimal) ([]Request, error)
}

// TxRepository runs inside one transaction.
type TxRepository interface {
	Insert(ctx context.Context, req Request) (int64, error)
	// LockRequest loads the request and holds its row lock until commit.
	LockRequest(ctx context.Context, id int64) (Request, error)
	UpdateDecision(ctx context.Context, req Request) error
	InsertRecord(ctx context.Context, rec Record) error
	AppendAudit(ctx context.Context, entry shared.AuditEntry) error
	// Ledger exposes ledger writes on the same transaction.
	Ledger() ledger.TxRepository
}

// Repository is the pgx implementation.
type Repository struct {
	pool *pgxpool.Pool
	opts db.TxOptions
}

// NewRepository constructs a Repository. Decisions run at READ COMMITTED so
// a blocked decider re-reads the row the winner committed.
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	return &Repository{pool: pool, opts: db.TxOptions{IsoLevel: pgx.ReadCommitted, LockTimeout: lockTimeout}}
}

// WithTx runs fn in a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, r.opts, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, ledger: ledger.NewTxRepository(tx)})
	})
}

const requestColumns = `id, subject_type, subject_id, subject_number, amount::text, status, direction,
counterparty_id, counterparty_name, payment_term, requested_by, approver_id, decided_at, note, created_at`

// Get loads a request without locking it.
func (r *Repository) Get(ctx context.Context, id int64) (Request, error) {
	req, err := scanRequest(r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM approval_requests WHERE id = $1`, id))
	if err != nil {
		return Request{}, wrapRowErr(id, err)
	}
	return req, nil
}

// ListPending implements RepositoryPort.
func (r *Repository) ListPending(ctx context.Context, maxAmount *decimal.Decimal) ([]Request, error) {
	var limit *string
	if maxAmount != nil {
		s := maxAmount.String()
		limit = &s
	}
	rows, err := r.pool.Query(ctx, `SELECT `+requestColumns+` FROM approval_requests
WHERE status = $1 AND ($2::numeric IS NULL OR amount <= $2::numeric)
ORDER BY amount DESC, created_at ASC`, StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("approval: list pending: %w", db.MapError(err))
	}
	defer rows.Close()
	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("approval: scan pending: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

type txRepo struct {
	tx     pgx.Tx
	ledger ledger.TxRepository
}

func (r *txRepo) Ledger() ledger.TxRepository {
	return r.ledger
}

func (r *txRepo) Insert(ctx context.Context, req Request) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO approval_requests (
    subject_type, subject_id, subject_number, amount, status, direction,
    counterparty_id, counterparty_name, payment_term, requested_by, created_at
) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, NOW())
RETURNING id`,
		req.SubjectType, req.SubjectID, req.SubjectNumber, req.Amount.String(), req.Status, req.Direction,
		req.CounterpartyID, req.CounterpartyName, req.PaymentTerm, req.RequestedBy,
	).Scan(&id)
	return id, err
}

func (r *txRepo) LockRequest(ctx context.Context, id int64) (Request, error) {
	req, err := scanRequest(r.tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM approval_requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Request{}, wrapRowErr(id, err)
	}
	return req, nil
}

func (r *txRepo) UpdateDecision(ctx context.Context, req Request) error {
	tag, err := r.tx.Exec(ctx, `UPDATE approval_requests
SET status = $2, approver_id = $3, decided_at = $4, note = $5
WHERE id = $1 AND status = $6`, req.ID, req.Status, req.ApproverID, req.DecidedAt, req.Note, StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("approval: request %d: %w", req.ID, shared.ErrInvalidState)
	}
	return nil
}

func (r *txRepo) InsertRecord(ctx context.Context, rec Record) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO approval_records (request_id, level, actor_id, actor_name, action, note, created_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)`, rec.RequestID, rec.Level, rec.ActorID, rec.ActorName, rec.Action, rec.Note, rec.CreatedAt)
	return err
}

func (r *txRepo) AppendAudit(ctx context.Context, entry shared.AuditEntry) error {
	return shared.WriteAudit(ctx, r.tx, entry)
}

func scanRequest(row pgx.Row) (Request, error) {
	var (
		req    Request
		amount string
		note   *string
		number *string
	)
	err := row.Scan(&req.ID, &req.SubjectType, &req.SubjectID, &number, &amount, &req.Status, &req.Direction,
		&req.CounterpartyID, &req.CounterpartyName, &req.PaymentTerm, &req.RequestedBy, &req.ApproverID,
		&req.DecidedAt, &note, &req.CreatedAt)
	if err != nil {
		return Request{}, err
	}
	if req.Amount, err = decimal.NewFromString(amount); err != nil {
		return Request{}, fmt.Errorf("approval: amount %q: %w", amount, err)
	}
	if note != nil {
		req.Note = *note
	}
	if number != nil {
		req.SubjectNumber = *number
	}
	return req, nil
}

func wrapRowErr(id int64, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("approval: request %d: %w", id, shared.ErrNotFound)
	}
	return fmt.Errorf("approval: request %d: %w", id, db.MapError(err))
}
