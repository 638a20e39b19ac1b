package locks

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/bizcore/internal/platform/db"
)

// PostgresStore keeps locks in the edit_locks table, unique on (table_name, record_id).
type PostgresStore struct {
	q db.Querier
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(q db.Querier) *PostgresStore {
	return &PostgresStore{q: q}
}

const upsertLockSQL = `
INSERT INTO edit_locks (table_name, record_id, holder_id, holder_name, acquired_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (table_name, record_id) DO UPDATE
SET holder_id = EXCLUDED.holder_id,
    holder_name = EXCLUDED.holder_name,
    acquired_at = EXCLUDED.acquired_at,
    expires_at = EXCLUDED.expires_at
WHERE edit_locks.holder_id = EXCLUDED.holder_id OR edit_locks.expires_at <= $7
RETURNING table_name, record_id, holder_id, holder_name, acquired_at, expires_at`

const selectLockSQL = `
SELECT table_name, record_id, holder_id, holder_name, acquired_at, expires_at
FROM edit_locks
WHERE table_name = $1 AND record_id = $2 AND expires_at > $3`

// TryAcquire runs one upsert; the WHERE clause on the conflict branch keeps
// another holder's live lock intact.
func (s *PostgresStore) TryAcquire(ctx context.Context, lock EditLock, now time.Time) (EditLock, bool, error) {
	row := s.q.QueryRow(ctx, upsertLockSQL,
		lock.Table, lock.RecordID, lock.HolderID, lock.HolderName, lock.AcquiredAt, lock.ExpiresAt, now)
	got, err := scanLock(row)
	if err == nil {
		return got, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return EditLock{}, false, err
	}
	holder, ok, err := s.Get(ctx, lock.Table, lock.RecordID, now)
	if err != nil {
		return EditLock{}, false, err
	}
	if !ok {
		// The blocking lock expired or was released between the two statements.
		return s.TryAcquire(ctx, lock, now)
	}
	return holder, false, nil
}

// Release deletes the lock owned by holderID.
func (s *PostgresStore) Release(ctx context.Context, table string, recordID, holderID int64) error {
	_, err := s.q.Exec(ctx, `DELETE FROM edit_locks WHERE table_name = $1 AND record_id = $2 AND holder_id = $3`,
		table, recordID, holderID)
	return err
}

// Get returns the active lock on a record.
func (s *PostgresStore) Get(ctx context.Context, table string, recordID int64, now time.Time) (EditLock, bool, error) {
	lock, err := scanLock(s.q.QueryRow(ctx, selectLockSQL, table, recordID, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return EditLock{}, false, nil
	}
	if err != nil {
		return EditLock{}, false, err
	}
	return lock, true, nil
}

// Sweep deletes expired locks in a single statement.
func (s *PostgresStore) Sweep(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.q.Exec(ctx, `DELETE FROM edit_locks WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanLock(row pgx.Row) (EditLock, error) {
	var lock EditLock
	err := row.Scan(&lock.Table, &lock.RecordID, &lock.HolderID, &lock.HolderName, &lock.AcquiredAt, &lock.ExpiresAt)
	return lock, err
}
