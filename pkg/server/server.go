// Package server exposes an Engine over HTTP: JSON endpoints for blocking
// inference, batches and embeddings, and a WebSocket endpoint for streaming.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/germanamz/relay/pkg/engine"
	"github.com/germanamz/relay/pkg/model"
	"github.com/germanamz/relay/pkg/modeladapter"
	"github.com/germanamz/relay/pkg/modeladapter/usage"
)

// Gateway is the engine surface the server needs.
type Gateway interface {
	Infer(ctx context.Context, req *engine.InferenceRequest) (*engine.InferenceResponse, error)
	InferStream(ctx context.Context, req *engine.InferenceRequest) (*engine.InferenceStream, error)
	StartBatch(ctx context.Context, req *engine.BatchRequest) (*engine.BatchResponse, error)
	PollBatch(ctx context.Context, id uuid.UUID, creds modeladapter.Credentials) (*engine.BatchStatusResponse, error)
	Embed(ctx context.Context, req *engine.EmbeddingRequest) (*model.EmbeddingResponse, error)
	Functions() []string
	Usage() map[string]usage.Usage
}

// Config holds HTTP server settings.
type Config struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	// ShutdownTimeout bounds how long Serve waits for in-flight requests.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the default server settings.
func DefaultConfig() Config {
	return Config{
		Addr:              "127.0.0.1:3000",
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
	}
}

// Server serves a Gateway over HTTP.
type Server struct {
	cfg     Config
	gateway Gateway
	logger  *slog.Logger
	router  chi.Router
}

// New creates a Server. A nil logger uses slog.Default().
func New(gw Gateway, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{cfg: cfg, gateway: gw, logger: logger}
	s.router = s.routes()

	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)
	r.Get("/functions", s.functions)
	r.Get("/usage", s.usage)

	r.Post("/inference", s.infer)
	r.Get("/inference/stream", s.inferStream)

	r.Route("/batch", func(r chi.Router) {
		r.Post("/", s.startBatch)
		r.Get("/{id}", s.pollBatch)
		r.Post("/{id}", s.pollBatch)
	})

	r.Post("/embeddings", s.embed)

	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Serve listens on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}

	errc := make(chan error, 1)

	go func() {
		s.logger.Info("server listening", "addr", s.cfg.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("server shutting down")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}

	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}

	return nil
}
