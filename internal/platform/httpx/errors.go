// Package httpx maps core errors onto HTTP responses for route handlers.
package httpx

import (
	"errors"
	"net/http"
	"time"

	"github.com/odyssey-erp/bizcore/internal/rbac"
	"github.com/odyssey-erp/bizcore/internal/shared"
)

// StatusFor returns the HTTP status for err.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, shared.ErrLockHeld),
		errors.Is(err, shared.ErrConflict),
		errors.Is(err, shared.ErrDuplicateBatch):
		return http.StatusConflict
	case errors.Is(err, shared.ErrInsufficientPrivilege):
		return http.StatusForbidden
	case errors.Is(err, shared.ErrInvalidState),
		errors.Is(err, shared.ErrValidation),
		errors.Is(err, rbac.ErrUnknownRole):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondError writes err as an RFC7807 problem. Lock and version conflicts
// carry the holder or current version so clients can reload.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	problem := ProblemDetail{Title: http.StatusText(status), Status: status}
	if status != http.StatusInternalServerError {
		problem.Detail = err.Error()
	}

	var held *shared.LockHeldError
	var conflict *shared.ConflictError
	var priv *shared.InsufficientPrivilegeError
	switch {
	case errors.As(err, &held):
		problem.Type = "lock-held"
		problem.LockedBy = held.HolderName
		expires := held.ExpiresAt.UTC().Format(time.RFC3339)
		problem.LockExpiresAt = expires
	case errors.As(err, &conflict):
		problem.Type = "version-conflict"
		current := conflict.CurrentVersion
		problem.CurrentVersion = &current
	case errors.As(err, &priv):
		problem.Type = "insufficient-privilege"
		level := priv.RequiredLevel
		problem.RequiredLevel = &level
	case status == http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
	}
	Problem(w, problem)
}
