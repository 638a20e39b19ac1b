package locks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/bizcore/internal/shared"
)

type memoryStore struct {
	mu    sync.Mutex
	locks map[string]EditLock
}

func newMemoryStore() *memoryStore {
	return &memoryStore{locks: map[string]EditLock{}}
}

func memKey(table string, id int64) string {
	return fmt.Sprintf("%s:%d", table, id)
}

func (m *memoryStore) TryAcquire(_ context.Context, lock EditLock, now time.Time) (EditLock, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey(lock.Table, lock.RecordID)
	if cur, ok := m.locks[k]; ok && cur.HolderID != lock.HolderID && cur.Active(now) {
		return cur, false, nil
	}
	m.locks[k] = lock
	return lock, true, nil
}

func (m *memoryStore) Release(_ context.Context, table string, recordID, holderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey(table, recordID)
	if cur, ok := m.locks[k]; ok && cur.HolderID == holderID {
		delete(m.locks, k)
	}
	return nil
}

func (m *memoryStore) Get(_ context.Context, table string, recordID int64, now time.Time) (EditLock, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.locks[memKey(table, recordID)]
	if !ok || !cur.Active(now) {
		return EditLock{}, false, nil
	}
	return cur, true, nil
}

func (m *memoryStore) Sweep(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for k, l := range m.locks {
		if !l.Active(now) {
			delete(m.locks, k)
			removed++
		}
	}
	return removed, nil
}

type conflictCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *conflictCounter) LockConflict(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[table]++
}

type fixedClock struct {
	now time.Time
}

func (f *fixedClock) Now() time.Time { return f.now }

func newTestCoordinator(t *testing.T, store Store) (*Coordinator, *fixedClock, *conflictCounter) {
	t.Helper()
	clock := &fixedClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	metrics := &conflictCounter{}
	c := NewCoordinator(store, 0, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics)
	c.clock = clock.Now
	return c, clock, metrics
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]Store{
		"memory": newMemoryStore(),
		"redis":  NewRedisStore(client),
	}
}

func input(holderID int64, name string) AcquireInput {
	return AcquireInput{Table: "pedidos_compra", RecordID: 7, HolderID: holderID, HolderName: name}
}

func TestAcquireRejectsSecondHolder(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			c, clock, metrics := newTestCoordinator(t, store)
			ctx := context.Background()

			lock, err := c.Acquire(ctx, input(1, "user1"))
			require.NoError(t, err)
			require.Equal(t, clock.now.Add(DefaultTTL), lock.ExpiresAt)

			clock.now = clock.now.Add(5 * time.Minute)
			_, err = c.Acquire(ctx, input(2, "user2"))
			require.ErrorIs(t, err, shared.ErrLockHeld)

			var held *shared.LockHeldError
			require.True(t, errors.As(err, &held))
			require.Equal(t, "user1", held.HolderName)
			require.Equal(t, int64(1), held.HolderID)
			require.True(t, lock.ExpiresAt.Equal(held.ExpiresAt))
			require.Equal(t, 1, metrics.counts["pedidos_compra"])
		})
	}
}

func TestAcquireIsReentrantForSameHolder(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			c, clock, _ := newTestCoordinator(t, store)
			ctx := context.Background()

			first, err := c.Acquire(ctx, input(1, "user1"))
			require.NoError(t, err)
			clock.now = clock.now.Add(10 * time.Minute)
			second, err := c.Acquire(ctx, input(1, "user1"))
			require.NoError(t, err)
			require.True(t, second.ExpiresAt.After(first.ExpiresAt))
		})
	}
}

func TestExpiredLockCanBeTakenOver(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			c, clock, _ := newTestCoordinator(t, store)
			ctx := context.Background()

			in := input(1, "user1")
			in.TTL = time.Minute
			_, err := c.Acquire(ctx, in)
			require.NoError(t, err)

			clock.now = clock.now.Add(2 * time.Minute)
			lock, err := c.Acquire(ctx, input(2, "user2"))
			require.NoError(t, err)
			require.Equal(t, int64(2), lock.HolderID)
		})
	}
}

func TestReleaseAndStatus(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			c, _, _ := newTestCoordinator(t, store)
			ctx := context.Background()

			status, err := c.Status(ctx, "pedidos_compra", 7, 2)
			require.NoError(t, err)
			require.True(t, status.CanEdit)
			require.Nil(t, status.Lock)

			_, err = c.Acquire(ctx, input(1, "user1"))
			require.NoError(t, err)

			status, err = c.Status(ctx, "pedidos_compra", 7, 2)
			require.NoError(t, err)
			require.False(t, status.CanEdit)
			require.Equal(t, "user1", status.Lock.HolderName)

			status, err = c.Status(ctx, "pedidos_compra", 7, 1)
			require.NoError(t, err)
			require.True(t, status.CanEdit)

			// Someone else's release leaves the lock in place.
			require.NoError(t, c.Release(ctx, "pedidos_compra", 7, 2))
			status, err = c.Status(ctx, "pedidos_compra", 7, 2)
			require.NoError(t, err)
			require.False(t, status.CanEdit)

			require.NoError(t, c.Release(ctx, "pedidos_compra", 7, 1))
			require.NoError(t, c.Release(ctx, "pedidos_compra", 7, 1))

			_, err = c.Acquire(ctx, input(2, "user2"))
			require.NoError(t, err)
		})
	}
}

func TestSweepRemovesExpiredLocks(t *testing.T) {
	store := newMemoryStore()
	c, clock, _ := newTestCoordinator(t, store)
	ctx := context.Background()

	short := input(1, "user1")
	short.TTL = time.Minute
	_, err := c.Acquire(ctx, short)
	require.NoError(t, err)
	other := input(3, "user3")
	other.RecordID = 8
	_, err = c.Acquire(ctx, other)
	require.NoError(t, err)

	clock.now = clock.now.Add(2 * time.Minute)
	removed, err := c.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)
	require.Len(t, store.locks, 1)
}

func TestAcquireValidatesInput(t *testing.T) {
	c, _, _ := newTestCoordinator(t, newMemoryStore())
	_, err := c.Acquire(context.Background(), AcquireInput{Table: "clientes", RecordID: 1, HolderID: 1})
	require.ErrorIs(t, err, shared.ErrValidation)

	err = c.Release(context.Background(), "", 1, 1)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestConcurrentAcquireGrantsOneHolder(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			c, _, _ := newTestCoordinator(t, store)
			ctx := context.Background()

			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				granted int
			)
			for i := int64(1); i <= 8; i++ {
				wg.Add(1)
				go func(holder int64) {
					defer wg.Done()
					_, err := c.Acquire(ctx, input(holder, "user"))
					if err == nil {
						mu.Lock()
						granted++
						mu.Unlock()
						return
					}
					if !errors.Is(err, shared.ErrLockHeld) {
						t.Errorf("unexpected error: %v", err)
					}
				}(i)
			}
			wg.Wait()
			require.Equal(t, 1, granted)
		})
	}
}
