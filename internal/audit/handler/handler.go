package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"forgecert/internal/audit"
	"forgecert/internal/policy"
	"forgecert/internal/transport/http/shared"
	id "forgecert/pkg/domain"
	dErrors "forgecert/pkg/domain-errors"
	"forgecert/pkg/requestcontext"
)

// Chain defines the read-side chain operations the handler exposes.
// Appends happen only as side effects of the other services' mutations.
type Chain interface {
	List(ctx context.Context, filter audit.Filter) ([]audit.Entry, error)
	VerifyIntegrity(ctx context.Context) (audit.VerificationResult, error)
}

// Handler handles audit chain endpoints.
type Handler struct {
	chain  Chain
	logger *slog.Logger
}

func New(chain Chain, logger *slog.Logger) *Handler {
	return &Handler{chain: chain, logger: logger}
}

// Register mounts the audit routes on an authenticated router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/audit/entries", h.handleList)
	r.Get("/audit/verify", h.handleVerify)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	actor := requestcontext.Actor(r.Context())
	if err := policy.Authorize(actor, id.ActionAuditRead, ""); err != nil {
		shared.WriteError(w, err)
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	entries, err := h.chain.List(r.Context(), filter)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	actor := requestcontext.Actor(r.Context())
	if err := policy.Authorize(actor, id.ActionAuditVerify, ""); err != nil {
		shared.WriteError(w, err)
		return
	}

	result, err := h.chain.VerifyIntegrity(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, result)
}

func parseFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	filter := audit.Filter{
		ActorID:  id.ActorID(q.Get("actor_id")),
		Action:   q.Get("action"),
		EntityID: q.Get("entity_id"),
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.Filter{}, dErrors.New(dErrors.CodeInvalidInput, "from must be RFC3339")
		}
		filter.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.Filter{}, dErrors.New(dErrors.CodeInvalidInput, "to must be RFC3339")
		}
		filter.To = t
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return audit.Filter{}, dErrors.New(dErrors.CodeInvalidInput, "limit must be a non-negative integer")
		}
		filter.Limit = n
	}
	return filter, nil
}
