package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/bizcore/internal/jobs"
)

type sweeperFunc func(ctx context.Context) (int64, error)

func (f sweeperFunc) Sweep(ctx context.Context) (int64, error) { return f(ctx) }

func TestLockSweepJobCountsRemovedLocks(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	job := NewLockSweepJob(sweeperFunc(func(context.Context) (int64, error) { return 3, nil }), nil, metrics)

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskLockSweep, nil)))
	count, err := testutil.GatherAndCount(reg, "odyssey_jobs_purged_rows_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestLockSweepJobPropagatesFailure(t *testing.T) {
	boom := errors.New("boom")
	job := NewLockSweepJob(sweeperFunc(func(context.Context) (int64, error) { return 0, boom }), nil, nil)
	_, err := job.Run(context.Background())
	require.ErrorIs(t, err, boom)

	var empty *LockSweepJob
	_, err = empty.Run(context.Background())
	require.Error(t, err)
}

type boolRow struct {
	value bool
	err   error
}

func (r boolRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*bool) = r.value
	return nil
}

type purgeQuerier struct {
	tableExists bool
	probeErr    error
	execErr     error
	execSQL     string
	execArgs    []any
	rows        int64
}

func (q *purgeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.execSQL = sql
	q.execArgs = args
	if q.execErr != nil {
		return pgconn.CommandTag{}, q.execErr
	}
	return pgconn.NewCommandTag("DELETE " + strconv.FormatInt(q.rows, 10)), nil
}

func (q *purgeQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not scripted")
}

func (q *purgeQuerier) QueryRow(context.Context, string, ...any) pgx.Row {
	return boolRow{value: q.tableExists, err: q.probeErr}
}

func TestTokenPurgeDeletesPastRetention(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	q := &purgeQuerier{tableExists: true, rows: 4}
	job := NewTokenPurgeJob(q, 24*time.Hour, nil, nil)
	job.clock = func() time.Time { return now }

	purged, err := job.Run(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 4, purged)
	require.Contains(t, q.execSQL, "DELETE FROM refresh_tokens")
	require.Equal(t, []any{now.Add(-24 * time.Hour)}, q.execArgs)
}

func TestTokenPurgeSkipsMissingTable(t *testing.T) {
	q := &purgeQuerier{tableExists: false}
	job := NewTokenPurgeJob(q, time.Hour, nil, nil)

	purged, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, purged)
	require.Empty(t, q.execSQL)
}

func TestTokenPurgeToleratesDroppedTable(t *testing.T) {
	q := &purgeQuerier{tableExists: true, execErr: &pgconn.PgError{Code: "42P01"}}
	job := NewTokenPurgeJob(q, time.Hour, nil, nil)

	purged, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, purged)
}

func TestTokenPurgeSurfacesProbeErrors(t *testing.T) {
	q := &purgeQuerier{probeErr: errors.New("connection refused")}
	job := NewTokenPurgeJob(q, time.Hour, nil, nil)

	_, err := job.Run(context.Background())
	require.Error(t, err)
	require.Empty(t, q.execSQL)
}

type manualTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               { m.stopped.Store(true) }

func TestSchedulerRunsEntriesOnTickAndStops(t *testing.T) {
	ticker := &manualTicker{ch: make(chan time.Time)}
	var runs atomic.Int32
	done := make(chan struct{}, 3)
	sched := NewScheduler(nil, func(time.Duration) Ticker { return ticker }, Entry{
		Name:     TaskLockSweep,
		Interval: time.Minute,
		Run: func(context.Context) error {
			runs.Add(1)
			done <- struct{}{}
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sched.Run(ctx) }()

	for i := 0; i < 3; i++ {
		ticker.ch <- time.Now()
		<-done
	}
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
	require.EqualValues(t, 3, runs.Load())
	require.True(t, ticker.stopped.Load())
}

func TestSchedulerSkipsInvalidEntries(t *testing.T) {
	sched := NewScheduler(nil, nil, Entry{Name: "noop", Interval: 0, Run: func(context.Context) error { return nil }})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sched.Run(ctx), context.Canceled)
}

func TestNewTask(t *testing.T) {
	task, err := NewTask(TaskTokenPurge)
	require.NoError(t, err)
	require.Equal(t, TaskTokenPurge, task.Type())

	_, err = NewTask("mail:send")
	require.Error(t, err)
	require.Equal(t, "@every 1m0s", Every(time.Minute))
}

func TestNewWorkerValidatesConfig(t *testing.T) {
	_, err := NewWorker(WorkerConfig{})
	require.Error(t, err)

	task, err := NewTask(TaskLockSweep)
	require.NoError(t, err)
	handler := TaskHandler{Type: TaskLockSweep, Handler: func(context.Context, *asynq.Task) error { return nil }}
	_, err = NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"},
		Handlers:  []TaskHandler{handler},
		Cron:      []CronRegistration{{Spec: "every so often", Task: task}},
	})
	require.ErrorContains(t, err, TaskLockSweep)

	worker, err := NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"},
		Handlers:  []TaskHandler{handler},
		Cron:      []CronRegistration{{Spec: Every(time.Minute), Task: task}},
	})
	require.NoError(t, err)
	require.NotNil(t, worker)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }

func TestJobsHealth(t *testing.T) {
	cases := []struct {
		name      string
		inspector QueueInspector
		status    int
		pending   int
	}{
		{name: "local scheduler", inspector: nil, status: http.StatusOK},
		{name: "queue info", inspector: stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 7}}, status: http.StatusOK, pending: 7},
		{name: "redis down", inspector: stubInspector{err: errors.New("dial tcp")}, status: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := chi.NewRouter()
			NewHandler(tc.inspector, nil).MountRoutes(r)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, tc.status, rec.Code)
			if tc.status != http.StatusOK {
				return
			}
			var body queueHealth
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, QueueDefault, body.Queue)
			require.Equal(t, tc.pending, body.Pending)
		})
	}
}
