package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/bizcore/cmd/odyssey/cli"
	"github.com/odyssey-erp/bizcore/internal/app"
	jobmetrics "github.com/odyssey-erp/bizcore/internal/jobs"
	"github.com/odyssey-erp/bizcore/internal/observability"
	"github.com/odyssey-erp/bizcore/internal/platform/cache"
	"github.com/odyssey-erp/bizcore/internal/platform/db"
	"github.com/odyssey-erp/bizcore/jobs"
	"github.com/odyssey-erp/bizcore/migrations"
)

func main() {
	if len(os.Args) > 1 {
		os.Exit(runCommand(os.Args[1], os.Args[2:]))
	}
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("odyssey exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func runCommand(name string, args []string) int {
	switch name {
	case "payterms":
		opts, err := cli.ParsePaytermsFlags(args, os.Stdout, os.Stderr)
		if err != nil {
			return 2
		}
		return cli.PaytermsCommand(opts)
	case "jobs":
		cfg, err := app.LoadConfig()
		if err != nil {
			slog.Default().Error("load config", slog.Any("error", err))
			return 1
		}
		jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
		if err != nil {
			slog.Default().Error("init jobs cli", slog.Any("error", err))
			return 1
		}
		defer func() { _ = jobsCLI.Close() }()
		return jobsCLI.Run(context.Background(), args, os.Stdout, os.Stderr)
	case "migrate":
		cfg, err := app.LoadConfig()
		if err != nil {
			slog.Default().Error("load config", slog.Any("error", err))
			return 1
		}
		ctx := context.Background()
		pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: 1})
		if err != nil {
			slog.Default().Error("connect postgres", slog.Any("error", err))
			return 1
		}
		defer pool.Close()
		if err := migrations.Apply(ctx, pool); err != nil {
			slog.Default().Error("apply migrations", slog.Any("error", err))
			return 1
		}
		return 0
	default:
		slog.Default().Error("unknown command", slog.String("command", name))
		return 2
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return err
	}
	defer pool.Close()

	var redisClient *redis.Client
	if cfg.LockBackend == app.LockBackendRedis || cfg.Scheduler == "asynq" {
		if redisClient, err = cache.New(ctx, cfg.RedisAddr); err != nil {
			return err
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	var universal redis.UniversalClient
	if redisClient != nil {
		universal = redisClient
	}
	core, err := app.NewCore(cfg, pool, universal, logger, metrics)
	if err != nil {
		return err
	}

	jobHandler := jobs.NewHandler(nil, logger)
	if cfg.Scheduler == "asynq" {
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() { _ = inspector.Close() }()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:     logger,
		Config:     cfg,
		DB:         pool,
		Locks:      core.Locks,
		Ledger:     core.Ledger,
		Approvals:  core.Approvals,
		JobHandler: jobHandler,
		Metrics:    metrics,
	})
	server := &http.Server{
		Addr:         cfg.OpsAddr,
		Handler:      router,
		ReadTimeout:  cfg.OpsReadTimeout,
		WriteTimeout: cfg.OpsWriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting ops server", slog.String("addr", cfg.OpsAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if cfg.Scheduler == "local" {
		sweep := jobs.NewLockSweepJob(core.Locks, logger, jobMetrics)
		purge := jobs.NewTokenPurgeJob(pool, cfg.TokenRetention, logger, jobMetrics)
		scheduler := jobs.NewScheduler(logger, nil,
			jobs.Entry{Name: jobs.TaskLockSweep, Interval: cfg.LockSweepInterval, Run: discardCount(sweep.Run)},
			jobs.Entry{Name: jobs.TaskTokenPurge, Interval: cfg.TokenPurgeInterval, Run: discardCount(purge.Run)},
		)
		g.Go(func() error {
			if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func discardCount(run func(context.Context) (int64, error)) jobs.RunFunc {
	return func(ctx context.Context) error {
		_, err := run(ctx)
		return err
	}
}
