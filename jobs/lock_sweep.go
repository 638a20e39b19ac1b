package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/bizcore/internal/jobs"
)

// LockSweeper is satisfied by locks.Coordinator.
type LockSweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// LockSweepJob deletes edit locks whose TTL elapsed.
type LockSweepJob struct {
	Sweeper LockSweeper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLockSweepJob constructs the job handler.
func NewLockSweepJob(sweeper LockSweeper, logger *slog.Logger, metrics *jobmetrics.Metrics) *LockSweepJob {
	return &LockSweepJob{Sweeper: sweeper, Logger: logger, Metrics: metrics}
}

// Handle adapts Run to asynq.
func (j *LockSweepJob) Handle(ctx context.Context, _ *asynq.Task) error {
	_, err := j.Run(ctx)
	return err
}

// Run executes one sweep and returns the number of locks removed.
func (j *LockSweepJob) Run(ctx context.Context) (removed int64, err error) {
	if j == nil || j.Sweeper == nil {
		return 0, errors.New("lock sweep: dependencies not configured")
	}
	tracker := j.Metrics.Track(TaskLockSweep)
	defer func() {
		err = tracker.End(err)
	}()

	removed, err = j.Sweeper.Sweep(ctx)
	if err != nil {
		j.log().Error("sweep expired locks", slog.Any("error", err))
		return 0, err
	}
	j.Metrics.AddPurged("edit_locks", removed)
	if removed > 0 {
		j.log().Debug("swept expired locks", slog.Int64("removed", removed))
	}
	return removed, nil
}

func (j *LockSweepJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
