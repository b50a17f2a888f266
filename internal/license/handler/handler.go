package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"forgecert/internal/license/models"
	"forgecert/internal/license/service"
	"forgecert/internal/transport/http/shared"
	id "forgecert/pkg/domain"
	dErrors "forgecert/pkg/domain-errors"
)

// Service defines the license operations the handler exposes.
type Service interface {
	Create(ctx context.Context, req service.CreateRequest) (*models.License, error)
	Get(ctx context.Context, licenseID id.LicenseID) (*models.License, error)
	RecordUsage(ctx context.Context, licenseID id.LicenseID) error
	Revoke(ctx context.Context, licenseID id.LicenseID, reason string) error
	ListActive(ctx context.Context, twinID id.TwinID) ([]*models.License, error)
	ListByGrantee(ctx context.Context, granteeID id.ActorID) ([]*models.License, error)
}

// Handler handles license endpoints.
type Handler struct {
	licenses Service
	logger   *slog.Logger
}

func New(licenses Service, logger *slog.Logger) *Handler {
	return &Handler{licenses: licenses, logger: logger}
}

// Register mounts the license routes on an authenticated router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/licenses", h.handleCreate)
	r.Get("/licenses", h.handleList)
	r.Get("/licenses/{licenseID}", h.handleGet)
	r.Post("/licenses/{licenseID}/usage", h.handleRecordUsage)
	r.Post("/licenses/{licenseID}/revoke", h.handleRevoke)
}

type createRequest struct {
	DigitalTwinID string    `json:"digital_twin_id"`
	GranteeID     string    `json:"grantee_id"`
	UsageType     string    `json:"usage_type"`
	Territories   []string  `json:"territories"`
	ValidFrom     time.Time `json:"valid_from"`
	ValidUntil    time.Time `json:"valid_until"`
	MaxDownloads  *int      `json:"max_downloads,omitempty"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	twinID, err := id.ParseTwinID(req.DigitalTwinID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	usageType, err := models.ParseUsageType(req.UsageType)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	license, err := h.licenses.Create(r.Context(), service.CreateRequest{
		DigitalTwinID: twinID,
		GranteeID:     id.ActorID(req.GranteeID),
		UsageType:     usageType,
		Territories:   req.Territories,
		ValidFrom:     req.ValidFrom,
		ValidUntil:    req.ValidUntil,
		MaxDownloads:  req.MaxDownloads,
	})
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, license)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if twin := r.URL.Query().Get("digital_twin_id"); twin != "" {
		twinID, err := id.ParseTwinID(twin)
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		licenses, err := h.licenses.ListActive(r.Context(), twinID)
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		shared.WriteJSON(w, http.StatusOK, licenses)
		return
	}
	if grantee := r.URL.Query().Get("grantee_id"); grantee != "" {
		licenses, err := h.licenses.ListByGrantee(r.Context(), id.ActorID(grantee))
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		shared.WriteJSON(w, http.StatusOK, licenses)
		return
	}
	shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "digital_twin_id or grantee_id query parameter is required"))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	licenseID, err := id.ParseLicenseID(chi.URLParam(r, "licenseID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	license, err := h.licenses.Get(r.Context(), licenseID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, license)
}

func (h *Handler) handleRecordUsage(w http.ResponseWriter, r *http.Request) {
	licenseID, err := id.ParseLicenseID(chi.URLParam(r, "licenseID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.licenses.RecordUsage(r.Context(), licenseID); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	licenseID, err := id.ParseLicenseID(chi.URLParam(r, "licenseID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.licenses.Revoke(r.Context(), licenseID, req.Reason); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
