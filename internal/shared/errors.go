package shared

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates invalid caller input.
	ErrValidation = errors.New("validation failed")
	// ErrLockHeld indicates another user holds the edit lock.
	ErrLockHeld = errors.New("record is being edited by another user")
	// ErrConflict indicates the record changed since the caller read it.
	ErrConflict = errors.New("record was modified by another user")
	// ErrInvalidState indicates the action is not allowed in the current status.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrInsufficientPrivilege indicates the actor's role cannot perform the action.
	ErrInsufficientPrivilege = errors.New("insufficient privilege")
	// ErrParseFallback marks a payment term that fell back to the default plan.
	ErrParseFallback = errors.New("payment term not recognised")
	// ErrBusy indicates a lock wait timed out; the caller may retry.
	ErrBusy = errors.New("resource busy, retry later")
	// ErrDuplicateBatch indicates installments already exist for the origin document.
	ErrDuplicateBatch = errors.New("ledger batch already created for origin document")
	// ErrVersionRequired occurs when strict versioning is on and no version was supplied.
	ErrVersionRequired = fmt.Errorf("%w: version required", ErrValidation)
	// ErrNoteRequired occurs when a rejection carries no note.
	ErrNoteRequired = fmt.Errorf("%w: note required when rejecting", ErrValidation)
)

// LockHeldError describes the lock that blocked an acquire.
type LockHeldError struct {
	Table      string
	RecordID   int64
	HolderID   int64
	HolderName string
	ExpiresAt  time.Time
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("%s#%d is being edited by %s until %s", e.Table, e.RecordID, e.HolderName, e.ExpiresAt.Format(time.RFC3339))
}

// Is makes errors.Is(err, ErrLockHeld) match.
func (e *LockHeldError) Is(target error) bool {
	return target == ErrLockHeld
}

// ConflictError carries the stored version stamp the caller must reload.
type ConflictError struct {
	Table           string
	RecordID        int64
	SuppliedVersion int64
	CurrentVersion  int64
	LastModifiedBy  int64
	LastModifiedAt  time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s#%d: version %d is stale, current version is %d", e.Table, e.RecordID, e.SuppliedVersion, e.CurrentVersion)
}

// Is makes errors.Is(err, ErrConflict) match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// InsufficientPrivilegeError reports the approval level the actor failed to meet.
type InsufficientPrivilegeError struct {
	Role          string
	RequiredLevel int
	RequiredRank  int
}

func (e *InsufficientPrivilegeError) Error() string {
	return fmt.Sprintf("role %s cannot decide level %d (rank %d required)", e.Role, e.RequiredLevel, e.RequiredRank)
}

// Is makes errors.Is(err, ErrInsufficientPrivilege) match.
func (e *InsufficientPrivilegeError) Is(target error) bool {
	return target == ErrInsufficientPrivilege
}
