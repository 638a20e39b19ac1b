package approval

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/bizcore/internal/ledger"
	"github.com/odyssey-erp/bizcore/internal/ledger/ledgertest"
	"github.com/odyssey-erp/bizcore/internal/shared"
)

// fakeRepo keeps requests and the ledger in memory. WithTx holds one mutex
// for the whole transaction, which stands in for the row lock, and restores
// both stores when fn fails.
type fakeRepo struct {
	mu       sync.Mutex
	requests map[int64]Request
	records  []Record
	audits   []shared.AuditEntry
	nextID   int64
	ledger   *ledgertest.Store
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{requests: map[int64]Request{}, ledger: ledgertest.NewStore()}
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	requests := make(map[int64]Request, len(f.requests))
	for id, r := range f.requests {
		requests[id] = r
	}
	records := append([]Record(nil), f.records...)
	audits := append([]shared.AuditEntry(nil), f.audits...)
	nextID := f.nextID

	err := f.ledger.Atomically(func() error {
		return fn(ctx, fakeTx{f})
	})
	if err != nil {
		f.requests, f.records, f.audits, f.nextID = requests, records, audits, nextID
	}
	return err
}

func (f *fakeRepo) Get(_ context.Context, id int64) (Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return Request{}, shared.ErrNotFound
	}
	return req, nil
}

func (f *fakeRepo) ListPending(_ context.Context, maxAmount *decimal.Decimal) ([]Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Request
	for _, r := range f.requests {
		if r.Status != StatusPending {
			continue
		}
		if maxAmount != nil && r.Amount.GreaterThan(*maxAmount) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Amount.Equal(out[j].Amount) {
			return out[i].Amount.GreaterThan(out[j].Amount)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (f *fakeRepo) status(id int64) Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[id].Status
}

type fakeTx struct {
	f *fakeRepo
}

func (t fakeTx) Insert(_ context.Context, req Request) (int64, error) {
	t.f.nextID++
	req.ID = t.f.nextID
	t.f.requests[req.ID] = req
	return req.ID, nil
}

func (t fakeTx) LockRequest(_ context.Context, id int64) (Request, error) {
	req, ok := t.f.requests[id]
	if !ok {
		return Request{}, shared.ErrNotFound
	}
	return req, nil
}

func (t fakeTx) UpdateDecision(_ context.Context, req Request) error {
	cur, ok := t.f.requests[req.ID]
	if !ok || cur.Status != StatusPending {
		return shared.ErrInvalidState
	}
	t.f.requests[req.ID] = req
	return nil
}

func (t fakeTx) InsertRecord(_ context.Context, rec Record) error {
	t.f.records = append(t.f.records, rec)
	return nil
}

func (t fakeTx) AppendAudit(_ context.Context, entry shared.AuditEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	t.f.audits = append(t.f.audits, entry)
	return nil
}

func (t fakeTx) Ledger() ledger.TxRepository {
	return t.f.ledger
}
