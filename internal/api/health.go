package api

import (
	"net/http"
	"time"

	"ragserver/internal/rag"
)

// serviceName identifies this server in health and info responses.
const serviceName = "ragserver"

// HealthHandler serves health and informational endpoints.
type HealthHandler struct {
	engine   *rag.Engine
	ragModel string
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(engine *rag.Engine, ragModel string) *HealthHandler {
	return &HealthHandler{engine: engine, ragModel: ragModel}
}

// RegisterRoutes registers the health endpoints on mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /api", h.Info)
	mux.HandleFunc("GET /{$}", h.Root)
}

// Health handles GET /health. The server is degraded when the RAG
// engine failed to initialize; requests then get 503 answers.
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	status := "healthy"
	handlerStatus := "initialized"
	if h.engine == nil {
		status = "degraded"
		handlerStatus = "not_initialized"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       status,
		"service":      serviceName,
		"timestamp":    time.Now().Unix(),
		"chat_handler": handlerStatus,
		"models": map[string]any{
			"rag_model":        h.ragModel,
			"supported_models": []string{h.ragModel},
			"total_models":     1,
		},
	})
}

// Info handles GET /api.
func (h *HealthHandler) Info(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message":           "RAG Server",
		"version":           "1.0.0",
		"ollama_compatible": true,
		"supported_model":   h.ragModel,
		"model_count":       1,
		"endpoints": []string{
			"/api/tags", "/api/models", "/api/ps", "/api/version",
			"/api/show", "/api/chat", "/api/generate",
			"/api/system-prompt", "/health",
		},
	})
}

// Root handles GET /. Ollama clients probe this exact banner.
func (h *HealthHandler) Root(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ollama is running"))
}
