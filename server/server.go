// Package server implements the HTTP API for the turnstiled daemon.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/turnstile-ai/turnstile/conversations"
	"github.com/turnstile-ai/turnstile/pipeline"
	"github.com/turnstile-ai/turnstile/prefs"
	"github.com/turnstile-ai/turnstile/resolver"
	"github.com/turnstile-ai/turnstile/traces"
)

// Server is the HTTP server for turnstiled.
type Server struct {
	orchestrator  *pipeline.Orchestrator
	conversations *conversations.Store
	traces        *traces.Store
	prefs         *prefs.Store
	resolver      *resolver.Resolver
	logger        zerolog.Logger

	httpServer *http.Server
	startedAt  time.Time
}

// Config holds server configuration options.
type Config struct {
	Addr   string
	Logger zerolog.Logger
}

// New creates the HTTP server.
func New(
	cfg Config,
	orchestrator *pipeline.Orchestrator,
	convStore *conversations.Store,
	traceStore *traces.Store,
	prefStore *prefs.Store,
	modelResolver *resolver.Resolver,
) *Server {
	s := &Server{
		orchestrator:  orchestrator,
		conversations: convStore,
		traces:        traceStore,
		prefs:         prefStore,
		resolver:      modelResolver,
		logger:        cfg.Logger.With().Str("component", "server").Logger(),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(s.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/turns", s.handleRunTurn)

		r.Route("/traces", func(r chi.Router) {
			r.Get("/{turnID}", s.handleGetTrace)
		})
		r.Get("/threads/{threadID}/traces", s.handleListThreadTraces)

		r.Route("/agents/{agentID}/preferences", func(r chi.Router) {
			r.Get("/", s.handleGetPreference)
			r.Put("/", s.handleSetPreference)
			r.Delete("/", s.handleDeletePreference)
		})
	})

	return r
}

// Start begins serving. It blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.startedAt = time.Now()
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "healthy",
		"uptimeSeconds": int64(time.Since(s.startedAt).Seconds()),
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
