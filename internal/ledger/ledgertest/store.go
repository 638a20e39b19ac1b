// Package ledgertest provides an in-memory ledger store for tests.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/bizcore/internal/ledger"
	"github.com/odyssey-erp/bizcore/internal/shared"
)

// ErrInjected is returned by FailInsertAt.
var ErrInjected = errors.New("ledgertest: injected failure")

// PayrollRow is a stored payroll detail line.
type PayrollRow struct {
	EntryID int64
	Period  string
	Line    ledger.PayrollLine
}

// State is the full content of the store.
type State struct {
	Entries []ledger.Entry
	Keys    map[string]struct{}
	Audits  []shared.AuditEntry
	Payroll []PayrollRow
	NextID  int64
}

func (s State) clone() State {
	out := State{
		Entries: append([]ledger.Entry(nil), s.Entries...),
		Keys:    make(map[string]struct{}, len(s.Keys)),
		Audits:  append([]shared.AuditEntry(nil), s.Audits...),
		Payroll: append([]PayrollRow(nil), s.Payroll...),
		NextID:  s.NextID,
	}
	for k := range s.Keys {
		out.Keys[k] = struct{}{}
	}
	return out
}

// Store implements ledger.RepositoryPort and ledger.TxRepository. WithTx
// serialises transactions and restores the previous state when fn fails.
type Store struct {
	txMu  sync.Mutex
	State State
	// FailInsertAt makes the Nth InsertEntry call (1-based, counted per
	// transaction) fail.
	FailInsertAt int
	inserts      int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{State: State{Keys: map[string]struct{}{}}}
}

// WithTx runs fn atomically.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.Atomically(func() error { return fn(ctx, s) })
}

// Atomically runs fn and rolls the state back on error. Callers that manage
// their own locking use it to join the ledger into a wider transaction.
func (s *Store) Atomically(fn func() error) error {
	snapshot := s.State.clone()
	s.inserts = 0
	if err := fn(); err != nil {
		s.State = snapshot
		return err
	}
	return nil
}

// ReceivableExposure aggregates pending receivables.
func (s *Store) ReceivableExposure(_ context.Context, counterpartyID int64, asOf time.Time) (ledger.ExposureRow, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	row := ledger.ExposureRow{PendingTotal: decimal.Zero, OverdueTotal: decimal.Zero}
	for _, e := range s.State.Entries {
		if e.Direction != ledger.DirectionReceivable || e.CounterpartyID != counterpartyID || e.Status != ledger.EntryStatusPending {
			continue
		}
		row.PendingCount++
		row.PendingTotal = row.PendingTotal.Add(e.Amount)
		if e.DueDate.Before(asOf) {
			row.OverdueCount++
			row.OverdueTotal = row.OverdueTotal.Add(e.Amount)
		}
		if row.OldestDue == nil || e.DueDate.Before(*row.OldestDue) {
			due := e.DueDate
			row.OldestDue = &due
		}
	}
	return row, nil
}

func (s *Store) ClaimIdempotencyKey(_ context.Context, key string) error {
	if _, ok := s.State.Keys[key]; ok {
		return fmt.Errorf("%w: %s", shared.ErrDuplicateBatch, key)
	}
	s.State.Keys[key] = struct{}{}
	return nil
}

func (s *Store) InsertEntry(_ context.Context, e ledger.Entry) (int64, error) {
	s.inserts++
	if s.FailInsertAt > 0 && s.inserts == s.FailInsertAt {
		return 0, ErrInjected
	}
	s.State.NextID++
	e.ID = s.State.NextID
	s.State.Entries = append(s.State.Entries, e)
	return e.ID, nil
}

func (s *Store) InsertPayrollLine(_ context.Context, entryID int64, period string, line ledger.PayrollLine) error {
	s.State.Payroll = append(s.State.Payroll, PayrollRow{EntryID: entryID, Period: period, Line: line})
	return nil
}

func (s *Store) LinkFiscalDocument(_ context.Context, in ledger.LinkInput) (int64, error) {
	var n int64
	for i := range s.State.Entries {
		e := &s.State.Entries[i]
		if e.Direction == in.Direction && e.OriginType == in.OriginType && e.OriginID == in.OriginID {
			e.FiscalNumber = in.Number
			e.FiscalKey = in.Key
			n++
		}
	}
	return n, nil
}

func (s *Store) AppendAudit(_ context.Context, entry shared.AuditEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	s.State.Audits = append(s.State.Audits, entry)
	return nil
}

// SetDue rewrites due dates for an origin, used to age receivables in tests.
func (s *Store) SetDue(originType string, originID int64, due time.Time) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	for i := range s.State.Entries {
		if s.State.Entries[i].OriginType == originType && s.State.Entries[i].OriginID == originID {
			s.State.Entries[i].DueDate = due
		}
	}
}

// Batches counts distinct batch ids.
func (s *Store) Batches() int {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	seen := map[string]struct{}{}
	for _, e := range s.State.Entries {
		seen[e.BatchID.String()] = struct{}{}
	}
	return len(seen)
}
