package api

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"ragserver/internal/rag"
	"ragserver/internal/stream"
)

// ChatRequest is the Ollama chat request body.
type ChatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

// GenerateRequest is the Ollama generate request body.
type GenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	System  string         `json:"system,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// ChatHandler serves the chat and generate endpoints.
type ChatHandler struct {
	engine   *rag.Engine
	proxy    *Proxy
	ragModel string
	logger   *slog.Logger
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(engine *rag.Engine, proxy *Proxy, ragModel string, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{
		engine:   engine,
		proxy:    proxy,
		ragModel: ragModel,
		logger:   logger.With("handler", "chat"),
	}
}

// RegisterRoutes registers the chat endpoints on mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.Chat)
	mux.HandleFunc("POST /api/generate", h.Generate)
}

// Chat handles POST /api/chat. The served RAG model is answered
// locally; any other model is proxied to the upstream LLM server
// without conversation logging.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "chat handler not initialized")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	question, ok := lastUserMessage(req.Messages)
	if !ok {
		writeError(w, http.StatusBadRequest, "no user message found")
		return
	}

	if req.Model != h.ragModel {
		h.logger.Info("proxying foreign chat model", "model", req.Model)
		h.proxy.Chat(r.Context(), w, req)
		return
	}

	ragReq := requestFrom(r, question)

	if req.Stream {
		h.streamAnswer(w, r, ragReq, req.Model, stream.ModeChat)
		return
	}

	result, err := h.engine.Process(r.Context(), ragReq)
	if err != nil {
		h.logger.Error("chat processing failed", "error", err)
		writeJSON(w, http.StatusOK, newChatErrorResponse(req.Model, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, newChatResponse(req.Model, result.Response))
}

// Generate handles POST /api/generate. Only the served RAG model is
// supported; foreign models receive a not-supported error answer.
func (h *ChatHandler) Generate(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "chat handler not initialized")
		return
	}

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Model != h.ragModel {
		writeJSON(w, http.StatusOK, newGenerateErrorResponse(req.Model,
			"Model '"+req.Model+"' not supported. Only '"+h.ragModel+"' is available on this RAG server."))
		return
	}

	ragReq := requestFrom(r, req.Prompt)

	if req.Stream {
		h.streamAnswer(w, r, ragReq, req.Model, stream.ModeGenerate)
		return
	}

	result, err := h.engine.Process(r.Context(), ragReq)
	if err != nil {
		h.logger.Error("generate processing failed", "error", err)
		writeJSON(w, http.StatusOK, newGenerateErrorResponse(req.Model, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, newGenerateResponse(req.Model, result.Response))
}

// streamAnswer computes the full answer, then delivers it as NDJSON
// word units. Failures become a single terminal error unit.
func (h *ChatHandler) streamAnswer(w http.ResponseWriter, r *http.Request, ragReq rag.Request, model string, mode stream.Mode) {
	w.Header().Set("Content-Type", "application/x-ndjson")

	emitter := stream.NewEmitter(w, model, mode)
	result, err := h.engine.Process(r.Context(), ragReq)
	if err != nil {
		h.logger.Error("stream processing failed", "error", err)
		if emitErr := emitter.EmitError(err); emitErr != nil {
			h.logger.Error("emitting stream error failed", "error", emitErr)
		}
		return
	}

	if err := emitter.Emit(r.Context(), ragReq.Question, result.Response); err != nil {
		h.logger.Warn("stream delivery interrupted", "error", err)
	}
}

// lastUserMessage returns the content of the most recent user turn.
func lastUserMessage(messages []chatMessage) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content, true
		}
	}
	return "", false
}

// requestFrom builds the engine request with caller identity from
// headers.
func requestFrom(r *http.Request, question string) rag.Request {
	return rag.Request{
		Question:  question,
		SessionID: r.Header.Get("X-Session-Id"),
		UserIP:    clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// clientIP prefers the forwarded client address set by the reverse
// proxy, falling back to the socket peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
