package locks

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type scriptedRow struct {
	lock *EditLock
}

func (r scriptedRow) Scan(dest ...any) error {
	if r.lock == nil {
		return pgx.ErrNoRows
	}
	*dest[0].(*string) = r.lock.Table
	*dest[1].(*int64) = r.lock.RecordID
	*dest[2].(*int64) = r.lock.HolderID
	*dest[3].(*string) = r.lock.HolderName
	*dest[4].(*time.Time) = r.lock.AcquiredAt
	*dest[5].(*time.Time) = r.lock.ExpiresAt
	return nil
}

type scriptedQuerier struct {
	rows  []scriptedRow
	execs []string
	tag   pgconn.CommandTag
}

func (q *scriptedQuerier) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	q.execs = append(q.execs, strings.TrimSpace(sql))
	return q.tag, nil
}

func (q *scriptedQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not scripted")
}

func (q *scriptedQuerier) QueryRow(context.Context, string, ...any) pgx.Row {
	if len(q.rows) == 0 {
		return scriptedRow{}
	}
	row := q.rows[0]
	q.rows = q.rows[1:]
	return row
}

func TestPostgresStoreReturnsBlockingHolder(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	holder := EditLock{Table: "clientes", RecordID: 3, HolderID: 1, HolderName: "user1", AcquiredAt: now, ExpiresAt: now.Add(DefaultTTL)}
	q := &scriptedQuerier{rows: []scriptedRow{{}, {lock: &holder}}}
	store := NewPostgresStore(q)

	got, ok, err := store.TryAcquire(context.Background(), EditLock{Table: "clientes", RecordID: 3, HolderID: 2, HolderName: "user2", AcquiredAt: now, ExpiresAt: now.Add(time.Minute)}, now)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, "user1", got.HolderName)
}

func TestPostgresStoreGrantsOnUpsert(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	want := EditLock{Table: "clientes", RecordID: 3, HolderID: 2, HolderName: "user2", AcquiredAt: now, ExpiresAt: now.Add(time.Minute)}
	q := &scriptedQuerier{rows: []scriptedRow{{lock: &want}}}

	got, ok, err := NewPostgresStore(q).TryAcquire(context.Background(), want, now)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestPostgresStoreSweepReportsRowsAffected(t *testing.T) {
	q := &scriptedQuerier{tag: pgconn.NewCommandTag("DELETE 4")}
	removed, err := NewPostgresStore(q).Sweep(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(4), removed)
	require.Len(t, q.execs, 1)
	require.True(t, strings.HasPrefix(q.execs[0], "DELETE FROM edit_locks"))
}
