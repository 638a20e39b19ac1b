// Package approval runs the multi-level monetary approval workflow and hands
// approved documents to the ledger in the same transaction.
package approval

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/bizcore/internal/ledger"
	"github.com/odyssey-erp/bizcore/internal/rbac"
	"github.com/odyssey-erp/bizcore/internal/shared"
)

// Status of an approval request.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Terminal reports whether no further decision is possible.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Action is the decision taken by an approver.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// ParseAction accepts approve/reject in any case.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionApprove, ActionReject:
		return a, nil
	}
	return "", fmt.Errorf("%w: unknown action %q", shared.ErrValidation, s)
}

func (a Action) result() Status {
	if a == ActionApprove {
		return StatusApproved
	}
	return StatusRejected
}

// Request is a document waiting for (or past) a monetary decision.
type Request struct {
	ID               int64
	SubjectType      string
	SubjectID        int64
	SubjectNumber    string
	Amount           decimal.Decimal
	Status           Status
	Direction        ledger.Direction
	CounterpartyID   int64
	CounterpartyName string
	PaymentTerm      string
	RequestedBy      int64
	ApproverID       *int64
	DecidedAt        *time.Time
	Note             string
	CreatedAt        time.Time
}

// Record is one append-only row in approval_records.
type Record struct {
	RequestID int64
	Level     int
	ActorID   int64
	ActorName string
	Action    Action
	Note      string
	CreatedAt time.Time
}

// SubmitInput opens a new request.
type SubmitInput struct {
	SubjectType   string `validate:"required,max=64"`
	SubjectID     int64  `validate:"gt=0"`
	SubjectNumber string
	Amount        decimal.Decimal
	Direction     ledger.Direction
	Counterparty  ledger.Counterparty
	PaymentTerm   string
	Actor         rbac.Actor
}

// DecideInput is an approver's decision.
type DecideInput struct {
	RequestID int64
	Actor     rbac.Actor
	Action    Action
	Note      string
}

// Decision is the committed outcome of Decide.
type Decision struct {
	Request     Request
	Record      Record
	Requirement Requirement
	// Batch is set when the approval created ledger entries.
	Batch *ledger.Batch
}
