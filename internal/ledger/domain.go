// Package ledger turns approved commercial documents into batches of payable
// or receivable installment entries.
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/bizcore/internal/rbac"
	"github.com/odyssey-erp/bizcore/internal/shared"
)

// Direction separates money owed by us from money owed to us.
type Direction string

const (
	DirectionPayable    Direction = "PAYABLE"
	DirectionReceivable Direction = "RECEIVABLE"
)

// ParseDirection accepts either direction case-insensitively.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToUpper(strings.TrimSpace(s))); d {
	case DirectionPayable, DirectionReceivable:
		return d, nil
	}
	return "", fmt.Errorf("%w: unknown direction %q", shared.ErrValidation, s)
}

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionPayable || d == DirectionReceivable
}

// EntryStatus tracks settlement of an installment.
type EntryStatus string

const (
	EntryStatusPending EntryStatus = "PENDING"
	EntryStatusPaid    EntryStatus = "PAID"
)

// Origin identifies the commercial document behind a batch.
type Origin struct {
	Type   string `validate:"required,max=64"`
	ID     int64  `validate:"gt=0"`
	Number string
}

func (o Origin) label() string {
	if o.Number != "" {
		return o.Number
	}
	return fmt.Sprintf("%d", o.ID)
}

// Counterparty is the supplier or customer of the document.
type Counterparty struct {
	ID   int64  `validate:"gt=0"`
	Name string `validate:"required"`
}

// CreateInput describes an installment batch.
type CreateInput struct {
	Origin         Origin
	Counterparty   Counterparty
	Total          decimal.Decimal
	PaymentTerm    string
	Direction      Direction
	Actor          rbac.Actor
	IssueDate      time.Time
	IdempotencyKey string
}

// DefaultIdempotencyKey is claimed when the caller does not supply one.
func (in CreateInput) DefaultIdempotencyKey() string {
	return fmt.Sprintf("ledger:%s:%s:%d", in.Direction, in.Origin.Type, in.Origin.ID)
}

// Entry is one installment row in ledger_entries.
type Entry struct {
	ID               int64
	BatchID          uuid.UUID
	Direction        Direction
	CounterpartyID   int64
	CounterpartyName string
	Description      string
	Amount           decimal.Decimal
	IssueDate        time.Time
	DueDate          time.Time
	Status           EntryStatus
	OriginType       string
	OriginID         int64
	InstallmentIndex int
	InstallmentCount int
	FiscalNumber     string
	FiscalKey        string
	CreatedBy        int64
}

// Batch is the committed result of CreateInstallments.
type Batch struct {
	ID       uuid.UUID
	EntryIDs []int64
	Entries  []Entry
	Total    decimal.Decimal
	Fallback bool
}

// Sum adds the entry amounts.
func (b Batch) Sum() decimal.Decimal {
	sum := decimal.Zero
	for _, e := range b.Entries {
		sum = sum.Add(e.Amount)
	}
	return sum
}

// LinkInput attaches an issued fiscal document (NF-e) to a batch.
type LinkInput struct {
	Direction  Direction
	OriginType string `validate:"required"`
	OriginID   int64  `validate:"gt=0"`
	Number     string `validate:"required"`
	Key        string `validate:"omitempty,len=44,numeric"`
	Actor      rbac.Actor
}

// Exposure summarises what a customer still owes.
type Exposure struct {
	CounterpartyID int64
	PendingCount   int
	PendingTotal   decimal.Decimal
	OverdueCount   int
	OverdueTotal   decimal.Decimal
	OldestDue      *time.Time
	CanSell        bool
}

// ExposureRow is the raw aggregate read by the repository.
type ExposureRow struct {
	PendingCount int
	PendingTotal decimal.Decimal
	OverdueCount int
	OverdueTotal decimal.Decimal
	OldestDue    *time.Time
}

// PayrollLine is one employee's net pay.
type PayrollLine struct {
	EmployeeID   int64  `validate:"gt=0"`
	EmployeeName string `validate:"required"`
	Net          decimal.Decimal
}

// PayrollInput posts a payroll run as one consolidated payable.
type PayrollInput struct {
	// Period is the competence month, formatted YYYY-MM.
	Period  string        `validate:"required,datetime=2006-01"`
	PayDate time.Time     `validate:"required"`
	Lines   []PayrollLine `validate:"required,min=1,dive"`
	Actor   rbac.Actor
}
