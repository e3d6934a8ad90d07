package api

import (
	"crypto/sha256"
	"fmt"
	"net/http"

	"ragserver/internal/rag"
)

// Fixed model metadata published for Ollama-compatible frontends.
// The catalog always holds exactly one entry, the served RAG model.
const (
	modelModifiedAt = "2024-12-01T00:00:00.000000000Z"
	modelExpiresAt  = "2024-12-01T23:59:59.999999999Z"
	modelSize       = 2500000000
	modelSizeVRAM   = 2147483648
	ollamaVersion   = "0.1.16"
)

// modelDetails mirrors the Ollama model details object.
type modelDetails struct {
	ParentModel       string   `json:"parent_model"`
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

type modelEntry struct {
	Name       string       `json:"name"`
	Model      string       `json:"model"`
	ModifiedAt string       `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    modelDetails `json:"details"`
}

type runningModelEntry struct {
	modelEntry
	ExpiresAt string `json:"expires_at"`
	SizeVRAM  int64  `json:"size_vram"`
}

// ModelHandler serves model discovery endpoints.
type ModelHandler struct {
	engine   *rag.Engine
	ragModel string
}

// NewModelHandler creates a ModelHandler.
func NewModelHandler(engine *rag.Engine, ragModel string) *ModelHandler {
	return &ModelHandler{engine: engine, ragModel: ragModel}
}

// RegisterRoutes registers the model endpoints on mux.
func (h *ModelHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/tags", h.List)
	mux.HandleFunc("GET /api/models", h.List)
	mux.HandleFunc("GET /api/ps", h.ListRunning)
	mux.HandleFunc("GET /api/version", h.Version)
	mux.HandleFunc("GET /api/show", h.Show)
}

func (h *ModelHandler) entry() modelEntry {
	return modelEntry{
		Name:       h.ragModel,
		Model:      h.ragModel,
		ModifiedAt: modelModifiedAt,
		Size:       modelSize,
		Digest:     fmt.Sprintf("sha256:%x", sha256.Sum256([]byte(h.ragModel))),
		Details:    details(),
	}
}

func details() modelDetails {
	return modelDetails{
		ParentModel:       "",
		Format:            "gguf",
		Family:            "rag-enhanced",
		Families:          []string{"rag-enhanced"},
		ParameterSize:     "RAG+27B",
		QuantizationLevel: "Q4_K_M",
	}
}

// List handles GET /api/tags and its /api/models alias.
func (h *ModelHandler) List(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]modelEntry{"models": {h.entry()}})
}

// ListRunning handles GET /api/ps.
func (h *ModelHandler) ListRunning(w http.ResponseWriter, _ *http.Request) {
	running := runningModelEntry{
		modelEntry: h.entry(),
		ExpiresAt:  modelExpiresAt,
		SizeVRAM:   modelSizeVRAM,
	}
	writeJSON(w, http.StatusOK, map[string][]runningModelEntry{"models": {running}})
}

// Version handles GET /api/version. The reported version is the
// minimum OpenWebUI accepts.
func (h *ModelHandler) Version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": ollamaVersion})
}

// Show handles GET /api/show, exposing the active system prompt as the
// model's default so frontends display it.
func (h *ModelHandler) Show(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeJSON(w, http.StatusOK, ErrorResponse{Error: "model name required"})
		return
	}
	if name != h.ragModel {
		writeJSON(w, http.StatusOK, ErrorResponse{
			Error: fmt.Sprintf("model '%s' not found. Only '%s' is available on this RAG server.", name, h.ragModel),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"modelfile": "FROM " + h.ragModel,
		"parameters": map[string]any{
			"temperature": 0.7,
			"top_k":       40,
			"top_p":       0.9,
		},
		"template": "{{ .System }}{{ .Prompt }}",
		"system":   h.engine.CurrentPrompt(),
		"details":  details(),
	})
}
