package jobs

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLockSweep removes expired edit locks.
	TaskLockSweep = "locks:sweep"
	// TaskTokenPurge removes expired refresh tokens.
	TaskTokenPurge = "auth:token-purge"
)

// NewTask builds a payload-less maintenance task for one of the known types.
func NewTask(taskType string) (*asynq.Task, error) {
	switch taskType {
	case TaskLockSweep, TaskTokenPurge:
		return asynq.NewTask(taskType, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
	default:
		return nil, fmt.Errorf("jobs: unknown task type %q", taskType)
	}
}

// Every renders an asynq cron spec for a fixed interval.
func Every(interval time.Duration) string {
	return "@every " + interval.String()
}
