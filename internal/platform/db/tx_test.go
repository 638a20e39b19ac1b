package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/bizcore/internal/shared"
)

type fakeTx struct {
	pgx.Tx
	execs      []string
	args       [][]any
	committed  bool
	rolledBack bool
	commitErr  error
}

func (t *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.execs = append(t.execs, sql)
	t.args = append(t.args, args)
	return pgconn.NewCommandTag("SELECT 1"), nil
}

func (t *fakeTx) Commit(context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type fakeBeginner struct {
	tx   *fakeTx
	opts pgx.TxOptions
}

func (b *fakeBeginner) BeginTx(_ context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	b.opts = opts
	return b.tx, nil
}

func TestWithTxSetsLockTimeoutAndCommits(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	err := WithTxOptions(context.Background(), b, TxOptions{IsoLevel: pgx.ReadCommitted, LockTimeout: 1500 * time.Millisecond}, func(tx pgx.Tx) error {
		_, err := tx.Exec(context.Background(), "UPDATE approval_requests SET status = 'APPROVED'")
		return err
	})
	require.NoError(t, err)
	require.Equal(t, pgx.ReadCommitted, b.opts.IsoLevel)
	require.Contains(t, b.tx.execs[0], "set_config('lock_timeout'")
	require.Equal(t, []any{"1500ms"}, b.tx.args[0])
	require.True(t, b.tx.committed)
	require.False(t, b.tx.rolledBack)
}

func TestWithTxRollsBackAndMapsLockTimeout(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	err := WithTx(context.Background(), b, func(pgx.Tx) error {
		return &pgconn.PgError{Code: CodeLockNotAvailable}
	})
	require.ErrorIs(t, err, shared.ErrBusy)
	require.Equal(t, pgx.RepeatableRead, b.opts.IsoLevel)
	require.Equal(t, []any{"5000ms"}, b.tx.args[0])
	require.True(t, b.tx.rolledBack)
	require.False(t, b.tx.committed)
}

func TestWithTxCommitFailure(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{commitErr: errors.New("conn closed")}}
	err := WithTx(context.Background(), b, func(pgx.Tx) error { return nil })
	require.ErrorContains(t, err, "commit tx")
}
