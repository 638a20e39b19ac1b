package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/bizcore/internal/app"
	jobmetrics "github.com/odyssey-erp/bizcore/internal/jobs"
	"github.com/odyssey-erp/bizcore/internal/locks"
	"github.com/odyssey-erp/bizcore/internal/observability"
	"github.com/odyssey-erp/bizcore/internal/platform/cache"
	"github.com/odyssey-erp/bizcore/internal/platform/db"
	"github.com/odyssey-erp/bizcore/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	var redisClient redis.UniversalClient
	if cfg.LockBackend == app.LockBackendRedis {
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Error("connect redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		redisClient = client
	}

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	lockStore, err := app.NewLockStore(cfg, pool, redisClient)
	if err != nil {
		logger.Error("init lock store", slog.Any("error", err))
		os.Exit(1)
	}
	coordinator := locks.NewCoordinator(lockStore, cfg.LockDefaultTTL, logger, metrics)
	sweepJob := jobs.NewLockSweepJob(coordinator, logger, jobMetrics)
	purgeJob := jobs.NewTokenPurgeJob(pool, cfg.TokenRetention, logger, jobMetrics)

	sweepTask, err := jobs.NewTask(jobs.TaskLockSweep)
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	purgeTask, err := jobs.NewTask(jobs.TaskTokenPurge)
	if err != nil {
		logger.Error("build purge task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLockSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskTokenPurge, Handler: purgeJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: jobs.Every(cfg.LockSweepInterval), Task: sweepTask},
			{Spec: jobs.Every(cfg.TokenPurgeInterval), Task: purgeTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
