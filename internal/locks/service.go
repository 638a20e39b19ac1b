package locks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/bizcore/internal/shared"
)

// Coordinator grants and releases edit locks.
type Coordinator struct {
	store      Store
	defaultTTL time.Duration
	logger     *slog.Logger
	metrics    ConflictRecorder
	clock      func() time.Time
}

// NewCoordinator constructs a Coordinator. A non-positive ttl means DefaultTTL.
func NewCoordinator(store Store, ttl time.Duration, logger *slog.Logger, metrics ConflictRecorder) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:      store,
		defaultTTL: ttl,
		logger:     logger,
		metrics:    metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Acquire opens or refreshes an edit session. A lock held by someone else
// fails with *shared.LockHeldError.
func (c *Coordinator) Acquire(ctx context.Context, input AcquireInput) (EditLock, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return EditLock{}, err
	}
	ttl := input.TTL
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := c.clock()
	if _, err := c.store.Sweep(ctx, now); err != nil {
		return EditLock{}, fmt.Errorf("locks: sweep before acquire: %w", err)
	}

	want := EditLock{
		Table:      input.Table,
		RecordID:   input.RecordID,
		HolderID:   input.HolderID,
		HolderName: input.HolderName,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	got, ok, err := c.store.TryAcquire(ctx, want, now)
	if err != nil {
		return EditLock{}, fmt.Errorf("locks: acquire: %w", err)
	}
	if !ok {
		if c.metrics != nil {
			c.metrics.LockConflict(input.Table)
		}
		c.logger.Info("edit lock held",
			slog.String("table", input.Table),
			slog.Int64("record_id", input.RecordID),
			slog.Int64("requested_by", input.HolderID),
			slog.Int64("holder_id", got.HolderID),
		)
		return EditLock{}, &shared.LockHeldError{
			Table:      got.Table,
			RecordID:   got.RecordID,
			HolderID:   got.HolderID,
			HolderName: got.HolderName,
			ExpiresAt:  got.ExpiresAt,
		}
	}
	return got, nil
}

// Release ends the caller's edit session. Releasing a lock that does not
// exist, or that belongs to another user, is a no-op.
func (c *Coordinator) Release(ctx context.Context, table string, recordID, holderID int64) error {
	if table == "" || recordID <= 0 || holderID <= 0 {
		return fmt.Errorf("%w: table, record and holder required", shared.ErrValidation)
	}
	if err := c.store.Release(ctx, table, recordID, holderID); err != nil {
		return fmt.Errorf("locks: release: %w", err)
	}
	return nil
}

// Status reports whether holderID may edit the record.
func (c *Coordinator) Status(ctx context.Context, table string, recordID, holderID int64) (EditStatus, error) {
	lock, ok, err := c.store.Get(ctx, table, recordID, c.clock())
	if err != nil {
		return EditStatus{}, fmt.Errorf("locks: status: %w", err)
	}
	if !ok {
		return EditStatus{CanEdit: true}, nil
	}
	return EditStatus{CanEdit: lock.HolderID == holderID, Lock: &lock}, nil
}

// Sweep removes expired locks.
func (c *Coordinator) Sweep(ctx context.Context) (int64, error) {
	removed, err := c.store.Sweep(ctx, c.clock())
	if err != nil {
		return 0, fmt.Errorf("locks: sweep: %w", err)
	}
	if removed > 0 {
		c.logger.Debug("expired edit locks removed", slog.Int64("count", removed))
	}
	return removed, nil
}
