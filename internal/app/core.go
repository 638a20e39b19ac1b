package app

import (
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/bizcore/internal/approval"
	"github.com/odyssey-erp/bizcore/internal/ledger"
	"github.com/odyssey-erp/bizcore/internal/locks"
	"github.com/odyssey-erp/bizcore/internal/observability"
	"github.com/odyssey-erp/bizcore/internal/versioning"
)

// Core bundles the business-process services built from configuration.
type Core struct {
	Locks     *locks.Coordinator
	Versions  *versioning.Guard
	Ledger    *ledger.Service
	Approvals *approval.Service
}

// NewCore wires the services. redisClient is only required when
// LOCK_BACKEND=redis.
func NewCore(cfg *Config, pool *pgxpool.Pool, redisClient redis.UniversalClient, logger *slog.Logger, metrics *observability.Metrics) (*Core, error) {
	lockStore, err := NewLockStore(cfg, pool, redisClient)
	if err != nil {
		return nil, err
	}
	limit, err := cfg.CreditLimit()
	if err != nil {
		return nil, err
	}
	policy, err := approval.LoadPolicy(cfg.ApprovalPolicyFile)
	if err != nil {
		return nil, err
	}

	ledgerSvc := ledger.NewService(ledger.NewRepository(pool, cfg.DBLockTimeout), ledger.Config{CreditLimit: limit}, logger, metrics)
	return &Core{
		Locks: locks.NewCoordinator(lockStore, cfg.LockDefaultTTL, logger, metrics),
		Versions: versioning.NewGuard(pool, versioning.Config{
			Tables:   cfg.VersionedTables,
			Required: cfg.VersionRequired,
		}, logger, metrics),
		Ledger:    ledgerSvc,
		Approvals: approval.NewService(approval.NewRepository(pool, cfg.DBLockTimeout), ledgerSvc, policy, logger, metrics),
	}, nil
}

// NewLockStore selects the edit-lock backend.
func NewLockStore(cfg *Config, pool *pgxpool.Pool, redisClient redis.UniversalClient) (locks.Store, error) {
	switch cfg.LockBackend {
	case LockBackendRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("app: LOCK_BACKEND=redis requires a redis client")
		}
		return locks.NewRedisStore(redisClient), nil
	case LockBackendPostgres, "":
		if pool == nil {
			return nil, fmt.Errorf("app: LOCK_BACKEND=postgres requires a database pool")
		}
		return locks.NewPostgresStore(pool), nil
	default:
		return nil, fmt.Errorf("app: unknown lock backend %q", cfg.LockBackend)
	}
}
