package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"forgecert/internal/certificate/models"
	"forgecert/internal/transport/http/shared"
	id "forgecert/pkg/domain"
	dErrors "forgecert/pkg/domain-errors"
)

// Service defines the certificate operations the handler exposes.
type Service interface {
	Issue(ctx context.Context, forgeID id.ForgeID) (*models.Certificate, error)
	Verify(ctx context.Context, code string) (*models.Certificate, error)
	Revoke(ctx context.Context, certID id.CertificateID, reason string) error
}

// Handler handles certificate endpoints.
type Handler struct {
	certs  Service
	logger *slog.Logger
}

func New(certs Service, logger *slog.Logger) *Handler {
	return &Handler{certs: certs, logger: logger}
}

// Register mounts authenticated certificate routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/certificates/issue", h.handleIssue)
	r.Post("/certificates/{certID}/revoke", h.handleRevoke)
}

// RegisterPublic mounts the unauthenticated verification route. Anyone
// holding a code may check a credential.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Get("/certificates/verify/{code}", h.handleVerify)
}

type issueRequest struct {
	ForgeID string `json:"forge_id"`
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	forgeID, err := id.ParseForgeID(req.ForgeID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	cert, err := h.certs.Issue(r.Context(), forgeID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, cert)
}

// verifyResponse is the constant-shape public verification envelope.
// REVOKED certificates expose the revocation reason as part of the public
// record; nothing else about the failure mode leaks.
type verifyResponse struct {
	Status           models.Status `json:"status"`
	VerificationCode string        `json:"verification_code"`
	DigitalTwinID    id.TwinID     `json:"digital_twin_id"`
	IssuedAt         time.Time     `json:"issued_at"`
	RevokedAt        *time.Time    `json:"revoked_at,omitempty"`
	RevokedReason    string        `json:"revoked_reason,omitempty"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	cert, err := h.certs.Verify(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, verifyResponse{
		Status:           cert.Status,
		VerificationCode: cert.VerificationCode,
		DigitalTwinID:    cert.DigitalTwinID,
		IssuedAt:         cert.IssuedAt,
		RevokedAt:        cert.RevokedAt,
		RevokedReason:    cert.RevokedReason,
	})
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	certID, err := id.ParseCertificateID(chi.URLParam(r, "certID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.certs.Revoke(r.Context(), certID, req.Reason); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
