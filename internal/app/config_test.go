package app

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/bizcore/internal/locks"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, LockBackendPostgres, cfg.LockBackend)
	require.Equal(t, 15*time.Minute, cfg.LockDefaultTTL)
	require.Equal(t, time.Minute, cfg.LockSweepInterval)
	require.Equal(t, 6*time.Hour, cfg.TokenPurgeInterval)
	require.Equal(t, 5*time.Second, cfg.DBLockTimeout)
	require.Contains(t, cfg.VersionedTables, "pedidos_compra")
	limit, err := cfg.CreditLimit()
	require.NoError(t, err)
	require.Equal(t, "5000", limit.String())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("LOCK_BACKEND", "Redis")
	t.Setenv("VERSION_REQUIRED", "true")
	t.Setenv("VERSIONED_TABLES", "a,b")
	t.Setenv("SCHEDULER", "asynq")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, LockBackendRedis, cfg.LockBackend)
	require.True(t, cfg.VersionRequired)
	require.Equal(t, []string{"a", "b"}, cfg.VersionedTables)
	require.Equal(t, "asynq", cfg.Scheduler)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Setenv("LOCK_BACKEND", "etcd")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("LOCK_BACKEND", "postgres")
	t.Setenv("LEDGER_CREDIT_LIMIT", "-1")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestNewLockStoreSelectsBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewLockStore(&Config{LockBackend: LockBackendRedis}, nil, client)
	require.NoError(t, err)
	require.IsType(t, &locks.RedisStore{}, store)

	_, err = NewLockStore(&Config{LockBackend: LockBackendRedis}, nil, nil)
	require.Error(t, err)
	_, err = NewLockStore(&Config{LockBackend: LockBackendPostgres}, nil, client)
	require.Error(t, err)
}
