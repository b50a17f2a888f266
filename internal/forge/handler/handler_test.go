package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"forgecert/internal/forge/models"
	id "forgecert/pkg/domain"
	dErrors "forgecert/pkg/domain-errors"
)

// stubService answers every handler call from canned fields.
type stubService struct {
	forge *models.Forge
	err   error
}

func (s *stubService) Create(context.Context, string) (*models.Forge, error) {
	return s.forge, s.err
}

func (s *stubService) Get(context.Context, id.ForgeID) (*models.Forge, error) {
	return s.forge, s.err
}

func (s *stubService) List(context.Context) ([]*models.Forge, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []*models.Forge{s.forge}, nil
}

func (s *stubService) Transition(context.Context, id.ForgeID, id.PipelineState) (*models.Forge, error) {
	return s.forge, s.err
}

func (s *stubService) Rollback(context.Context, id.ForgeID) (*models.Forge, error) {
	return s.forge, s.err
}

func (s *stubService) Delete(context.Context, id.ForgeID) error {
	return s.err
}

type HandlerSuite struct {
	suite.Suite
	stub   *stubService
	router chi.Router
}

func (s *HandlerSuite) SetupTest() {
	s.stub = &stubService{
		forge: &models.Forge{
			ID:           id.NewForgeID(),
			OwnerID:      "owner-1",
			Name:         "forge",
			CurrentState: id.StateDraft,
			Version:      1,
			CreatedAt:    time.Now().UTC(),
			UpdatedAt:    time.Now().UTC(),
		},
	}
	s.router = chi.NewRouter()
	New(s.stub, slog.Default()).Register(s.router)
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) errorCode(rec *httptest.ResponseRecorder) string {
	var envelope map[string]string
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope["error"]
}

func (s *HandlerSuite) TestCreate() {
	s.Run("returns 201 with the created forge", func() {
		rec := s.do(http.MethodPost, "/forges", `{"name":"forge"}`)
		s.Equal(http.StatusCreated, rec.Code)

		var got models.Forge
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &got))
		s.Equal(s.stub.forge.ID, got.ID)
	})

	s.Run("rejects a malformed body", func() {
		rec := s.do(http.MethodPost, "/forges", `{`)
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("maps validation errors to 400", func() {
		s.stub.err = dErrors.New(dErrors.CodeValidation, "forge name is required")
		rec := s.do(http.MethodPost, "/forges", `{"name":""}`)
		s.Equal(http.StatusBadRequest, rec.Code)
		s.Equal(string(dErrors.CodeValidation), s.errorCode(rec))
	})
}

func (s *HandlerSuite) TestGet() {
	s.Run("rejects a non-uuid id", func() {
		rec := s.do(http.MethodGet, "/forges/not-a-uuid", "")
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("maps not found to 404", func() {
		s.stub.err = dErrors.New(dErrors.CodeNotFound, "forge not found")
		rec := s.do(http.MethodGet, "/forges/"+id.NewForgeID().String(), "")
		s.Equal(http.StatusNotFound, rec.Code)
	})
}

func (s *HandlerSuite) TestTransition() {
	s.Run("returns the moved forge", func() {
		s.stub.forge.CurrentState = id.StateSubmitted
		rec := s.do(http.MethodPost, "/forges/"+id.NewForgeID().String()+"/transition", `{"target":"SUBMITTED"}`)
		s.Equal(http.StatusOK, rec.Code)

		var got models.Forge
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &got))
		s.Equal(id.StateSubmitted, got.CurrentState)
	})

	s.Run("rejects an unknown target before calling the service", func() {
		rec := s.do(http.MethodPost, "/forges/"+id.NewForgeID().String()+"/transition", `{"target":"SHIPPED"}`)
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("maps the terminal lock to 409", func() {
		s.stub.err = dErrors.New(dErrors.CodeInvariantViolation, "forge is certified and permanently locked")
		rec := s.do(http.MethodPost, "/forges/"+id.NewForgeID().String()+"/transition", `{"target":"DRAFT"}`)
		s.Equal(http.StatusConflict, rec.Code)
		s.Equal(string(dErrors.CodeInvariantViolation), s.errorCode(rec))
	})
}

func (s *HandlerSuite) TestDelete() {
	s.Run("returns 204 on success", func() {
		rec := s.do(http.MethodDelete, "/forges/"+id.NewForgeID().String(), "")
		s.Equal(http.StatusNoContent, rec.Code)
	})

	s.Run("maps forbidden to 403", func() {
		s.stub.err = dErrors.New(dErrors.CodeForbidden, "only the owner may delete this forge")
		rec := s.do(http.MethodDelete, "/forges/"+id.NewForgeID().String(), "")
		s.Equal(http.StatusForbidden, rec.Code)
	})
}
