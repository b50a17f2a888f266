package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"forgecert/internal/forge/models"
	"forgecert/internal/transport/http/shared"
	id "forgecert/pkg/domain"
	dErrors "forgecert/pkg/domain-errors"
)

// Service defines the pipeline operations the handler exposes.
type Service interface {
	Create(ctx context.Context, name string) (*models.Forge, error)
	Get(ctx context.Context, forgeID id.ForgeID) (*models.Forge, error)
	List(ctx context.Context) ([]*models.Forge, error)
	Transition(ctx context.Context, forgeID id.ForgeID, target id.PipelineState) (*models.Forge, error)
	Rollback(ctx context.Context, forgeID id.ForgeID) (*models.Forge, error)
	Delete(ctx context.Context, forgeID id.ForgeID) error
}

// Handler handles forge pipeline endpoints.
type Handler struct {
	forges Service
	logger *slog.Logger
}

func New(forges Service, logger *slog.Logger) *Handler {
	return &Handler{forges: forges, logger: logger}
}

// Register mounts the forge routes on an authenticated router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/forges", h.handleCreate)
	r.Get("/forges", h.handleList)
	r.Get("/forges/{forgeID}", h.handleGet)
	r.Post("/forges/{forgeID}/transition", h.handleTransition)
	r.Post("/forges/{forgeID}/rollback", h.handleRollback)
	r.Delete("/forges/{forgeID}", h.handleDelete)
}

type createRequest struct {
	Name string `json:"name"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	forge, err := h.forges.Create(r.Context(), req.Name)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, forge)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	forges, err := h.forges.List(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, forges)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	forgeID, err := id.ParseForgeID(chi.URLParam(r, "forgeID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	forge, err := h.forges.Get(r.Context(), forgeID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, forge)
}

type transitionRequest struct {
	Target string `json:"target"`
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	forgeID, err := id.ParseForgeID(chi.URLParam(r, "forgeID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	target, err := id.ParsePipelineState(req.Target)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	forge, err := h.forges.Transition(r.Context(), forgeID, target)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, forge)
}

func (h *Handler) handleRollback(w http.ResponseWriter, r *http.Request) {
	forgeID, err := id.ParseForgeID(chi.URLParam(r, "forgeID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	forge, err := h.forges.Rollback(r.Context(), forgeID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, forge)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	forgeID, err := id.ParseForgeID(chi.URLParam(r, "forgeID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.forges.Delete(r.Context(), forgeID); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
