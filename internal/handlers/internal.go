package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/foodcourt/orders-api/internal/platform/httpx"
	"github.com/foodcourt/orders-api/internal/platform/observability"
	"github.com/foodcourt/orders-api/internal/services"
)

// OutboxRunner runs one dispatch pass over due outbox entries.
type OutboxRunner interface {
	DispatchDue(ctx context.Context) (services.DispatchReport, error)
}

// IdempotencyCleanupRunner removes expired idempotency records.
type IdempotencyCleanupRunner interface {
	Cleanup(ctx context.Context) (int, error)
}

// InternalHandlers serves scheduler-triggered maintenance endpoints.
// Callers are authenticated by OIDC middleware applied to the /internal group.
type InternalHandlers struct {
	outbox  OutboxRunner
	cleaner IdempotencyCleanupRunner
}

// NewInternalHandlers constructs the maintenance handlers.
func NewInternalHandlers(outbox OutboxRunner, cleaner IdempotencyCleanupRunner) *InternalHandlers {
	return &InternalHandlers{outbox: outbox, cleaner: cleaner}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/outbox:dispatch", h.dispatchOutbox)
	r.Post("/idempotency:cleanup", h.cleanupIdempotency)
}

type dispatchResponse struct {
	Claimed int `json:"claimed"`
	Done    int `json:"done"`
	Retried int `json:"retried"`
	Dead    int `json:"dead"`
}

type cleanupResponse struct {
	Removed int `json:"removed"`
}

func (h *InternalHandlers) dispatchOutbox(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.outbox == nil {
		httpx.WriteError(ctx, w, httpx.NewError("outbox_unavailable", "outbox dispatcher unavailable", http.StatusServiceUnavailable))
		return
	}
	report, err := h.outbox.DispatchDue(ctx)
	if err != nil {
		observability.FromContext(ctx).Warn("internal outbox dispatch failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("outbox_dispatch_failed", "outbox dispatch failed", http.StatusServiceUnavailable))
		return
	}
	writeJSONResponse(w, http.StatusOK, dispatchResponse{
		Claimed: report.Claimed,
		Done:    report.Done,
		Retried: report.Retried,
		Dead:    report.Dead,
	})
}

func (h *InternalHandlers) cleanupIdempotency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cleaner == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cleanup_unavailable", "idempotency cleaner unavailable", http.StatusServiceUnavailable))
		return
	}
	removed, err := h.cleaner.Cleanup(ctx)
	if err != nil {
		observability.FromContext(ctx).Warn("internal idempotency cleanup failed", zap.Error(err), zap.Int("removed", removed))
		httpx.WriteError(ctx, w, httpx.NewError("cleanup_failed", "idempotency cleanup failed", http.StatusServiceUnavailable).
			WithDetails(map[string]any{"removed": removed}))
		return
	}
	writeJSONResponse(w, http.StatusOK, cleanupResponse{Removed: removed})
}
