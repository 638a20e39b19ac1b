package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/bizcore/internal/jobs"
	"github.com/odyssey-erp/bizcore/internal/platform/db"
	"github.com/odyssey-erp/bizcore/internal/shared"
)

const refreshTokensTable = "refresh_tokens"

// TokenPurgeJob removes refresh tokens that expired more than Retention ago.
// The table belongs to the auth module; when it is absent the job is a no-op.
type TokenPurgeJob struct {
	DB        db.Querier
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	probe     shared.FeatureProbe
	clock     func() time.Time
}

// NewTokenPurgeJob constructs the job handler.
func NewTokenPurgeJob(q db.Querier, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *TokenPurgeJob {
	return &TokenPurgeJob{
		DB:        q,
		Retention: retention,
		Logger:    logger,
		Metrics:   metrics,
		probe:     shared.NewFeatureProbe(q),
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle adapts Run to asynq.
func (j *TokenPurgeJob) Handle(ctx context.Context, _ *asynq.Task) error {
	_, err := j.Run(ctx)
	return err
}

// Run deletes expired tokens in a single statement.
func (j *TokenPurgeJob) Run(ctx context.Context) (purged int64, err error) {
	if j == nil || j.DB == nil {
		return 0, errors.New("token purge: dependencies not configured")
	}
	tracker := j.Metrics.Track(TaskTokenPurge)
	defer func() {
		err = tracker.End(err)
	}()

	exists, err := j.probe.TableExists(ctx, refreshTokensTable)
	if err != nil {
		return 0, err
	}
	if !exists {
		j.log().Debug("refresh token table absent, skipping purge")
		return 0, nil
	}

	cutoff := j.clock().Add(-j.Retention)
	tag, err := j.DB.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, cutoff)
	if db.IsUndefinedTable(err) {
		j.log().Debug("refresh token table dropped during purge")
		return 0, nil
	}
	if err != nil {
		j.log().Error("purge refresh tokens", slog.Any("error", err))
		return 0, fmt.Errorf("token purge: %w", db.MapError(err))
	}
	purged = tag.RowsAffected()
	j.Metrics.AddPurged(refreshTokensTable, purged)
	j.log().Info("purged refresh tokens", slog.Int64("rows", purged), slog.Time("cutoff", cutoff))
	return purged, nil
}

func (j *TokenPurgeJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
