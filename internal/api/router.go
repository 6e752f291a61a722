// Package api exposes the chat proxy over HTTP and MCP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rugintel/sentinel/internal/pipeline"
	"github.com/rugintel/sentinel/internal/storage"
)

// ChatService answers questions against the knowledge base.
type ChatService interface {
	Answer(ctx context.Context, message string) (pipeline.Answer, error)
	Context(ctx context.Context) (string, error)
}

// InteractionStore reads and deletes recorded interactions.
type InteractionStore interface {
	ListInteractions(ctx context.Context, limit, offset int) ([]storage.Interaction, error)
	GetInteraction(ctx context.Context, id string) (storage.Interaction, error)
	DeleteInteraction(ctx context.Context, id string) error
}

// Deps holds the handler dependencies.
type Deps struct {
	Chat ChatService
	// Store is nil when interaction recording is disabled.
	Store InteractionStore
	// Token guards the management endpoints. Empty disables them.
	Token  string
	Logger *slog.Logger
}

// NewRouter builds the HTTP handler. The chat routes are served both at
// the root and under /api.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger))
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusNotFound, "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
	})

	r.Get("/health", handleHealth)

	chat := func(r chi.Router) {
		r.Get("/chatbot-status", handleChatbotStatus)
		r.Post("/chatbot", handleChatbot(deps))
	}
	chat(r)
	r.Route("/api", chat)

	if deps.Token != "" {
		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(deps.Token))
			r.Get("/interactions", handleListInteractions(deps))
			r.Get("/interactions/{id}", handleGetInteraction(deps))
			r.Delete("/interactions/{id}", handleDeleteInteraction(deps))
		})
	}

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
