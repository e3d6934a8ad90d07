package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Fixed token accounting for non-streamed responses. Generation runs
// upstream in full, so durations are placeholders.
const (
	totalDuration      = 1000000000
	loadDuration       = 100000000
	promptEvalCount    = 10
	promptEvalDuration = 200000000
	evalDuration       = 500000000
)

// writeJSON writes a JSON response with the given status code.
// If encoding fails after WriteHeader there is no way to notify the
// client; the error is only logged.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, err string) {
	writeJSON(w, status, ErrorResponse{Error: err})
}

func createdAt() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000Z")
}

// chatMessage mirrors the Ollama chat message object.
type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// chatResponse is a complete non-streamed chat answer.
type chatResponse struct {
	Model     string      `json:"model"`
	CreatedAt string      `json:"created_at"`
	Message   chatMessage `json:"message"`
	Done      bool        `json:"done"`

	TotalDuration      int64 `json:"total_duration,omitempty"`
	LoadDuration       int64 `json:"load_duration,omitempty"`
	PromptEvalCount    int   `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64 `json:"prompt_eval_duration,omitempty"`
	EvalCount          int   `json:"eval_count,omitempty"`
	EvalDuration       int64 `json:"eval_duration,omitempty"`
}

// generateResponse is a complete non-streamed completion answer.
type generateResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	Context   []int  `json:"context"`

	TotalDuration      int64 `json:"total_duration,omitempty"`
	LoadDuration       int64 `json:"load_duration,omitempty"`
	PromptEvalCount    int   `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64 `json:"prompt_eval_duration,omitempty"`
	EvalCount          int   `json:"eval_count,omitempty"`
	EvalDuration       int64 `json:"eval_duration,omitempty"`
}

func newChatResponse(model, content string) chatResponse {
	return chatResponse{
		Model:              model,
		CreatedAt:          createdAt(),
		Message:            chatMessage{Role: "assistant", Content: content},
		Done:               true,
		TotalDuration:      totalDuration,
		LoadDuration:       loadDuration,
		PromptEvalCount:    promptEvalCount,
		PromptEvalDuration: promptEvalDuration,
		EvalCount:          len(strings.Fields(content)),
		EvalDuration:       evalDuration,
	}
}

func newGenerateResponse(model, content string) generateResponse {
	return generateResponse{
		Model:              model,
		CreatedAt:          createdAt(),
		Response:           content,
		Done:               true,
		Context:            []int{},
		TotalDuration:      totalDuration,
		LoadDuration:       loadDuration,
		PromptEvalCount:    promptEvalCount,
		PromptEvalDuration: promptEvalDuration,
		EvalCount:          len(strings.Fields(content)),
		EvalDuration:       evalDuration,
	}
}

// newChatErrorResponse reports a failure inside a well-formed chat
// answer, keeping Ollama clients rendering instead of erroring.
func newChatErrorResponse(model, errText string) chatResponse {
	return chatResponse{
		Model:     model,
		CreatedAt: createdAt(),
		Message:   chatMessage{Role: "assistant", Content: "Error: " + errText},
		Done:      true,
	}
}

func newGenerateErrorResponse(model, errText string) generateResponse {
	return generateResponse{
		Model:     model,
		CreatedAt: createdAt(),
		Response:  "Error: " + errText,
		Done:      true,
		Context:   []int{},
	}
}
