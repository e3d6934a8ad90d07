package api

import (
	"encoding/json"
	"net/http"

	"ragserver/internal/rag"
)

// PromptHandler serves runtime system prompt management.
type PromptHandler struct {
	engine *rag.Engine
}

// NewPromptHandler creates a PromptHandler.
func NewPromptHandler(engine *rag.Engine) *PromptHandler {
	return &PromptHandler{engine: engine}
}

// RegisterRoutes registers the prompt endpoints on mux.
func (h *PromptHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/system-prompt", h.Get)
	mux.HandleFunc("POST /api/system-prompt", h.Update)
	mux.HandleFunc("POST /api/system-prompt/reset", h.Reset)
}

// Get handles GET /api/system-prompt.
func (h *PromptHandler) Get(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "success",
		"prompt": h.engine.CurrentPrompt(),
	})
}

// Update handles POST /api/system-prompt. The new prompt takes effect
// for requests that start after the swap; in-flight requests keep the
// prompt they started with.
func (h *PromptHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Prompt == "" {
		writeJSON(w, http.StatusOK, ErrorResponse{Error: "No prompt provided"})
		return
	}

	old := h.engine.CurrentPrompt()
	if !h.engine.UpdatePrompt(req.Prompt) {
		writeJSON(w, http.StatusOK, ErrorResponse{Error: "Failed to update system prompt"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "success",
		"message":    "System prompt updated successfully",
		"old_prompt": old,
		"new_prompt": req.Prompt,
	})
}

// Reset handles POST /api/system-prompt/reset.
func (h *PromptHandler) Reset(w http.ResponseWriter, _ *http.Request) {
	old := h.engine.CurrentPrompt()
	if !h.engine.ResetToDefault() {
		writeJSON(w, http.StatusOK, ErrorResponse{Error: "Failed to reset system prompt"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "success",
		"message":    "System prompt reset to default",
		"old_prompt": old,
		"new_prompt": h.engine.CurrentPrompt(),
	})
}
