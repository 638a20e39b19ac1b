package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/bizcore/internal/shared"
)

// Postgres SQLSTATE codes the core reacts to.
const (
	CodeUniqueViolation      = "23505"
	CodeLockNotAvailable     = "55P03"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
	CodeUndefinedTable       = "42P01"
)

// MapError converts retryable lock failures into shared.ErrBusy and leaves
// everything else untouched.
func MapError(err error) error {
	if err == nil || errors.Is(err, shared.ErrBusy) {
		return err
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case CodeLockNotAvailable, CodeSerializationFailure, CodeDeadlockDetected:
		return fmt.Errorf("%w (sqlstate %s): %w", shared.ErrBusy, pgErr.Code, err)
	}
	return err
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	return hasCode(err, CodeUniqueViolation)
}

// IsUndefinedTable reports whether err refers to a missing relation.
func IsUndefinedTable(err error) bool {
	return hasCode(err, CodeUndefinedTable)
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
