package httpx

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/proofwork/proofwork/internal/domain/model"
)

const (
	defaultDeadletterLimit = 50
	maxDeadletterLimit     = 500
)

// OutboxAdmin is the operator view of the outbox. *data.OutboxRepo satisfies it.
type OutboxAdmin interface {
	Stats(ctx context.Context) ([]model.OutboxStats, error)
	ListDeadletter(ctx context.Context, topic string, limit int) ([]model.OutboxEvent, error)
	Requeue(ctx context.Context, id string) (bool, error)
}

// DisputeResolver closes disputes. *service.DisputeService satisfies it.
type DisputeResolver interface {
	Resolve(ctx context.Context, disputeID string, resolution model.Resolution) (*model.Dispute, error)
}

// OpsHandlers serves the operator endpoints.
type OpsHandlers struct {
	Outbox   OutboxAdmin
	Disputes DisputeResolver
}

// OutboxStats handles GET /v1/ops/outbox/stats.
func (h *OpsHandlers) OutboxStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Outbox.Stats(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if stats == nil {
		stats = []model.OutboxStats{}
	}
	WriteJSON(w, http.StatusOK, stats)
}

// ListDeadletter handles GET /v1/ops/outbox/deadletter?topic=&limit=.
func (h *OpsHandlers) ListDeadletter(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultDeadletterLimit)
	if limit < 1 {
		limit = 1
	}
	if limit > maxDeadletterLimit {
		limit = maxDeadletterLimit
	}
	events, err := h.Outbox.ListDeadletter(r.Context(), r.URL.Query().Get("topic"), limit)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if events == nil {
		events = []model.OutboxEvent{}
	}
	WriteJSON(w, http.StatusOK, events)
}

// Requeue handles POST /v1/ops/outbox/{id}/requeue.
func (h *OpsHandlers) Requeue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ok, err := h.Outbox.Requeue(r.Context(), id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusConflict,
			ErrCode: "not_deadlettered",
			Err:     errors.New("event " + id + " is not in deadletter"),
		})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"id": id, "requeued": true})
}

type resolveDisputeRequest struct {
	Resolution model.Resolution `json:"resolution"`
}

// ResolveDispute handles POST /v1/ops/disputes/{id}/resolve.
func (h *OpsHandlers) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req resolveDisputeRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	d, err := h.Disputes.Resolve(r.Context(), r.PathValue("id"), req.Resolution)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, d)
}

// parseIntQuery returns the integer value of a query param or a default.
func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
