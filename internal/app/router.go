package app

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/bizcore/internal/approval"
	"github.com/odyssey-erp/bizcore/internal/ledger"
	"github.com/odyssey-erp/bizcore/internal/locks"
	"github.com/odyssey-erp/bizcore/internal/observability"
	"github.com/odyssey-erp/bizcore/internal/platform/httpx"
	"github.com/odyssey-erp/bizcore/internal/shared"
	"github.com/odyssey-erp/bizcore/jobs"
)

// Pinger reports database reachability; *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LockStatusReader is satisfied by locks.Coordinator.
type LockStatusReader interface {
	Status(ctx context.Context, table string, recordID, holderID int64) (locks.EditStatus, error)
}

// ExposureReader is satisfied by ledger.Service.
type ExposureReader interface {
	Exposure(ctx context.Context, counterpartyID int64, asOf time.Time) (ledger.Exposure, error)
}

// RequirementReader is satisfied by approval.Service.
type RequirementReader interface {
	Requirement(amount decimal.Decimal) approval.Requirement
}

// RouterParams groups dependencies for building the ops router.
type RouterParams struct {
	Logger     *slog.Logger
	Config     *Config
	DB         Pinger
	Locks      LockStatusReader
	Ledger     ExposureReader
	Approvals  RequirementReader
	JobHandler *jobs.Handler
	Metrics    *observability.Metrics
	clock      func() time.Time
}

// NewRouter constructs the chi.Router serving health, metrics and read-only
// diagnostics for the core.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	if params.clock == nil {
		params.clock = func() time.Time { return time.Now().UTC() }
	}
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.DB != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.DB.Ping(ctx); err != nil {
				params.Logger.Warn("healthz database ping", slog.Any("error", err))
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unreachable"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Locks != nil {
		r.Get("/locks/{table}/{recordID}", lockStatusHandler(params))
	}
	if params.Ledger != nil {
		r.Get("/ledger/exposure/{counterpartyID}", exposureHandler(params))
	}
	if params.Approvals != nil {
		r.Get("/approvals/requirement", requirementHandler(params))
	}
	return r
}

type lockStatusResponse struct {
	CanEdit    bool       `json:"can_edit"`
	LockedBy   string     `json:"locked_by,omitempty"`
	HolderID   int64      `json:"holder_id,omitempty"`
	AcquiredAt *time.Time `json:"acquired_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

func lockStatusHandler(params RouterParams) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recordID, err := pathInt(r, "recordID")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		var holderID int64
		if raw := r.URL.Query().Get("holder"); raw != "" {
			if holderID, err = strconv.ParseInt(raw, 10, 64); err != nil {
				httpx.RespondError(w, shared.ErrValidation)
				return
			}
		}
		status, err := params.Locks.Status(r.Context(), chi.URLParam(r, "table"), recordID, holderID)
		if err != nil {
			logUnexpected(params.Logger, "lock status", err)
			httpx.RespondError(w, err)
			return
		}
		resp := lockStatusResponse{CanEdit: status.CanEdit}
		if status.Lock != nil {
			resp.LockedBy = status.Lock.HolderName
			resp.HolderID = status.Lock.HolderID
			resp.AcquiredAt = &status.Lock.AcquiredAt
			resp.ExpiresAt = &status.Lock.ExpiresAt
		}
		httpx.JSON(w, http.StatusOK, resp)
	}
}

type exposureResponse struct {
	CounterpartyID int64      `json:"counterparty_id"`
	PendingCount   int        `json:"pending_count"`
	PendingTotal   string     `json:"pending_total"`
	OverdueCount   int        `json:"overdue_count"`
	OverdueTotal   string     `json:"overdue_total"`
	OldestDue      *time.Time `json:"oldest_due,omitempty"`
	CanSell        bool       `json:"can_sell"`
}

func exposureHandler(params RouterParams) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathInt(r, "counterpartyID")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		exp, err := params.Ledger.Exposure(r.Context(), id, params.clock())
		if err != nil {
			logUnexpected(params.Logger, "ledger exposure", err)
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, exposureResponse{
			CounterpartyID: exp.CounterpartyID,
			PendingCount:   exp.PendingCount,
			PendingTotal:   exp.PendingTotal.StringFixed(2),
			OverdueCount:   exp.OverdueCount,
			OverdueTotal:   exp.OverdueTotal.StringFixed(2),
			OldestDue:      exp.OldestDue,
			CanSell:        exp.CanSell,
		})
	}
}

type requirementResponse struct {
	Amount       string `json:"amount"`
	Level        int    `json:"level"`
	RequiredRole string `json:"required_role"`
	Automatic    bool   `json:"automatic"`
}

func requirementHandler(params RouterParams) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
		if err != nil || amount.IsNegative() {
			httpx.RespondError(w, shared.ErrValidation)
			return
		}
		req := params.Approvals.Requirement(amount)
		httpx.JSON(w, http.StatusOK, requirementResponse{
			Amount:       amount.StringFixed(2),
			Level:        req.Level,
			RequiredRole: req.RequiredRole.String(),
			Automatic:    req.Automatic(),
		})
	}
}

func pathInt(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v <= 0 {
		return 0, shared.ErrValidation
	}
	return v, nil
}

func logUnexpected(logger *slog.Logger, msg string, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		logger.Error(msg, slog.Any("error", err))
	}
}
