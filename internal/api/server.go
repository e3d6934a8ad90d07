// Package api provides the Ollama-compatible HTTP surface of the RAG
// server.
//
// Endpoints:
//
//	POST /api/chat               → RAG answer (JSON or NDJSON stream),
//	                               foreign models proxied upstream
//	POST /api/generate           → RAG completion (JSON or NDJSON stream)
//	GET  /api/tags, /api/models  → served model list
//	GET  /api/ps                 → running model list
//	GET  /api/version            → compatibility version
//	GET  /api/show               → model details with active prompt
//	GET  /api/system-prompt      → active system prompt
//	POST /api/system-prompt      → swap system prompt
//	POST /api/system-prompt/reset→ restore default prompt
//	GET  /health                 → service health
//	GET  /api                    → API info
//	GET  /                       → compatibility banner
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: HTTP middleware (logging, recovery, CORS)
//   - chat.go: chat/generate endpoints
//   - models.go: model listing and details
//   - prompt.go: system prompt management
//   - health.go: health and info endpoints
//   - proxy.go: upstream LLM server proxy
//   - response.go: Ollama-compatible response helpers
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"ragserver/internal/rag"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "0.0.0.0:8000"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout is the timeout for reading request headers.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is generous because streamed answers pace themselves
	// over the wire.
	WriteTimeout = 120 * time.Second

	// IdleTimeout is the maximum keep-alive wait between requests.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP server for the RAG API.
type Server struct {
	mux    *http.ServeMux
	logger *slog.Logger

	chat   *ChatHandler
	models *ModelHandler
	prompt *PromptHandler
	health *HealthHandler
}

// NewServer creates the server with all routes registered. engine
// answers RAG questions, proxy forwards foreign chat models upstream.
func NewServer(engine *rag.Engine, proxy *Proxy, ragModel string, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		mux:    mux,
		logger: logger.With("component", "api"),
		chat:   NewChatHandler(engine, proxy, ragModel, logger),
		models: NewModelHandler(engine, ragModel),
		prompt: NewPromptHandler(engine),
		health: NewHealthHandler(engine, ragModel),
	}

	s.chat.RegisterRoutes(mux)
	s.models.RegisterRoutes(mux)
	s.prompt.RegisterRoutes(mux)
	s.health.RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → cors → logging → handler
func (s *Server) Handler() http.Handler {
	return chain(s.mux, recoveryMiddleware(s.logger), corsMiddleware, loggingMiddleware(s.logger))
}

// Run starts the HTTP server and blocks until the context is
// cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
