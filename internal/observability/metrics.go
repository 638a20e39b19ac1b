package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	lockConflicts     *prometheus.CounterVec
	versionConflicts  *prometheus.CounterVec
	versionMissing    *prometheus.CounterVec
	approvalDecisions *prometheus.CounterVec
	ledgerEntries     *prometheus.CounterVec
	termFallbacks     prometheus.Counter
	busyErrors        *prometheus.CounterVec
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	lockConflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_edit_lock_conflicts_total",
		Help: "Edit lock acquisitions refused because another holder is active.",
	}, []string{"table"})
	versionConflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_version_conflicts_total",
		Help: "Writes refused because the supplied version was stale.",
	}, []string{"table"})
	versionMissing := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_version_missing_total",
		Help: "Writes accepted without a version (compatibility path).",
	}, []string{"table"})
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_approval_decisions_total",
		Help: "Approval decisions by action and outcome.",
	}, []string{"action", "outcome"})
	entries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_ledger_entries_total",
		Help: "Ledger installment entries created by direction.",
	}, []string{"direction"})
	fallbacks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_payment_term_fallbacks_total",
		Help: "Payment terms that fell back to the default 30 day plan.",
	})
	busy := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_resource_busy_total",
		Help: "Operations aborted by lock wait timeouts.",
	}, []string{"operation"})
	registry.MustRegister(requests, duration, lockConflicts, versionConflicts, versionMissing, decisions, entries, fallbacks, busy)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		lockConflicts:     lockConflicts,
		versionConflicts:  versionConflicts,
		versionMissing:    versionMissing,
		approvalDecisions: decisions,
		ledgerEntries:     entries,
		termFallbacks:     fallbacks,
		busyErrors:        busy,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// LockConflict counts a refused edit lock.
func (m *Metrics) LockConflict(table string) {
	if m == nil {
		return
	}
	m.lockConflicts.WithLabelValues(table).Inc()
}

// VersionConflict counts a stale write.
func (m *Metrics) VersionConflict(table string) {
	if m == nil {
		return
	}
	m.versionConflicts.WithLabelValues(table).Inc()
}

// VersionMissing counts a write that skipped the version check.
func (m *Metrics) VersionMissing(table string) {
	if m == nil {
		return
	}
	m.versionMissing.WithLabelValues(table).Inc()
}

// ApprovalDecision counts a decide attempt.
func (m *Metrics) ApprovalDecision(action, outcome string) {
	if m == nil {
		return
	}
	m.approvalDecisions.WithLabelValues(action, outcome).Inc()
}

// LedgerEntries counts created installment rows.
func (m *Metrics) LedgerEntries(direction string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.ledgerEntries.WithLabelValues(direction).Add(float64(count))
}

// PaymentTermFallback counts an unrecognised payment term.
func (m *Metrics) PaymentTermFallback() {
	if m == nil {
		return
	}
	m.termFallbacks.Inc()
}

// ResourceBusy counts a lock wait timeout.
func (m *Metrics) ResourceBusy(operation string) {
	if m == nil {
		return
	}
	m.busyErrors.WithLabelValues(operation).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
