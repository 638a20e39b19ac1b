// Package locks implements cooperative, TTL-bounded edit locks that keep two
// users from editing the same record at once.
package locks

import (
	"context"
	"time"
)

// DefaultTTL bounds an edit session when the caller does not pick one.
const DefaultTTL = 15 * time.Minute

// EditLock is an active edit session on one record.
type EditLock struct {
	Table      string
	RecordID   int64
	HolderID   int64
	HolderName string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Active reports whether the lock is still in force at now.
func (l EditLock) Active(now time.Time) bool {
	return l.ExpiresAt.After(now)
}

// AcquireInput identifies the record and the user opening the edit session.
type AcquireInput struct {
	Table      string `validate:"required,max=63"`
	RecordID   int64  `validate:"gt=0"`
	HolderID   int64  `validate:"gt=0"`
	HolderName string `validate:"required"`
	TTL        time.Duration
}

// EditStatus answers whether a user may edit a record right now.
type EditStatus struct {
	CanEdit bool
	// Lock is the active lock on the record, if any.
	Lock *EditLock
}

// Store persists edit locks.
type Store interface {
	// TryAcquire installs lock unless a different holder has one active at
	// now. On refusal it returns the blocking lock and false.
	TryAcquire(ctx context.Context, lock EditLock, now time.Time) (EditLock, bool, error)
	// Release removes the lock only when holderID owns it.
	Release(ctx context.Context, table string, recordID, holderID int64) error
	// Get returns the lock active at now.
	Get(ctx context.Context, table string, recordID int64, now time.Time) (EditLock, bool, error)
	// Sweep deletes locks expired at now and returns how many were removed.
	Sweep(ctx context.Context, now time.Time) (int64, error)
}

// ConflictRecorder counts refused acquisitions.
type ConflictRecorder interface {
	LockConflict(table string)
}
