// Package api exposes the conversation engine over HTTP. Ownership-chain
// authorization is the host product's concern, consumed here through the
// Authorizer interface and checked before any core operation runs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/conversation"
	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/engine"
	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/extractor"
	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/sanitize"
	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/schema"
	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/step"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// Engine is the slice of the orchestrator the HTTP surface drives.
type Engine interface {
	StartConversation(ctx context.Context, stepID uuid.UUID, stepType step.Type, ownerID uuid.UUID, opening string) (*conversation.Conversation, error)
	StartTurn(ctx context.Context, convID uuid.UUID, content string) (*engine.TurnResult, error)
	Regenerate(ctx context.Context, convID uuid.UUID) (*engine.TurnResult, error)
	Cancel(messageID uuid.UUID)
	ReviseExtraction(ctx context.Context, convID uuid.UUID, payload json.RawMessage) (*conversation.Conversation, error)
	ConfirmExtraction(ctx context.Context, convID uuid.UUID) (*conversation.Conversation, error)
	Reopen(ctx context.Context, convID uuid.UUID) (*conversation.Conversation, error)
	Conversation(ctx context.Context, id uuid.UUID) (*conversation.Conversation, error)
	ConversationByStep(ctx context.Context, stepID uuid.UUID) (*conversation.Conversation, error)
	Messages(ctx context.Context, convID uuid.UUID, limit, offset int) ([]conversation.Message, int, error)
}

// Authorizer walks the session→component→cycle→user ownership chain in the
// host product. An error blocks the request with 403.
type Authorizer interface {
	Authorize(r *http.Request, ownerID uuid.UUID) error
}

// AllowAll skips ownership checks, for deployments where the gateway
// already enforces them.
type AllowAll struct{}

func (AllowAll) Authorize(*http.Request, uuid.UUID) error { return nil }

type Server struct {
	router   *chi.Mux
	port     int
	engine   Engine
	auth     Authorizer
	apiToken string
	logger   *slog.Logger
	httpSrv  *http.Server
}

func NewServer(port int, eng Engine, auth Authorizer, apiToken string, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		port:     port,
		engine:   eng,
		auth:     auth,
		apiToken: apiToken,
		logger:   logger,
	}

	router.Get("/health", s.health)

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/steps/{stepID}/conversation", s.getConversationByStep)
		r.Get("/conversations/{id}/messages", s.listMessages)

		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)
			r.Post("/steps/{stepID}/conversation", s.createConversation)
			r.Post("/conversations/{id}/messages", s.sendMessage)
			r.Post("/conversations/{id}/regenerate", s.regenerate)
			r.Post("/conversations/{id}/cancel", s.cancelTurn)
			r.Post("/conversations/{id}/extraction/revise", s.reviseExtraction)
			r.Post("/conversations/{id}/extraction/confirm", s.confirmExtraction)
			r.Post("/conversations/{id}/reopen", s.reopen)
		})
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.httpSrv = &http.Server{Addr: addr, Handler: s.router}
	s.logger.Info("API server starting", "addr", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireToken enforces the bearer token on mutating routes when one is
// configured.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiToken != "" {
			header := r.Header.Get("Authorization")
			if header != "Bearer "+s.apiToken {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized", "missing or invalid bearer token"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func errorBody(kind, message string) map[string]string {
	return map[string]string{"error": kind, "message": message}
}

// writeError maps the engine's error taxonomy onto status codes:
// validation→400, state→409, not found→404, provider→502.
func writeError(w http.ResponseWriter, err error) {
	var (
		invalid  *conversation.InvalidContentError
		fieldErr *schema.FieldError
		parseErr *extractor.ParseError
		tooLong  *sanitize.TooLongError
		stateErr *conversation.StateError
		provErr  *engine.ProviderError
	)
	switch {
	case errors.As(err, &invalid), errors.As(err, &fieldErr), errors.As(err, &parseErr), errors.As(err, &tooLong):
		writeJSON(w, http.StatusBadRequest, errorBody("validation", err.Error()))
	case errors.As(err, &stateErr),
		errors.Is(err, engine.ErrTurnInFlight),
		errors.Is(err, engine.ErrConversationExists),
		errors.Is(err, engine.ErrNoPendingExtraction),
		errors.Is(err, engine.ErrLastMessageNotAssistant):
		writeJSON(w, http.StatusConflict, errorBody("state", err.Error()))
	case errors.Is(err, conversation.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not_found", err.Error()))
	case errors.As(err, &provErr):
		writeJSON(w, http.StatusBadGateway, errorBody("provider", err.Error()))
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody("internal", err.Error()))
	}
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %w", name, err)
	}
	return id, nil
}
