package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("locks:sweep").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("locks:sweep").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("locks:sweep", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("locks:sweep", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("locks:sweep")))
}

func TestAddPurgedIgnoresEmptyRuns(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddPurged("edit_locks", 0)
	m.AddPurged("edit_locks", 4)
	require.Equal(t, 4.0, testutil.ToFloat64(m.purged.WithLabelValues("edit_locks")))

	var nilMetrics *Metrics
	nilMetrics.AddPurged("edit_locks", 3)
	require.NoError(t, nilMetrics.Track("noop").End(nil))
}
