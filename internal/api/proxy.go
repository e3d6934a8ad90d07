package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// proxyTimeout bounds a single upstream generation round trip.
const proxyTimeout = 120 * time.Second

// Proxy forwards chat requests for models this server does not serve
// to the upstream LLM server. Upstream failures are reported inside a
// well-formed answer so Ollama clients keep rendering.
type Proxy struct {
	baseURL string
	httpc   *http.Client
	logger  *slog.Logger
}

// NewProxy creates a proxy for the LLM server at baseURL.
func NewProxy(baseURL string, logger *slog.Logger) *Proxy {
	return &Proxy{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: proxyTimeout},
		logger:  logger.With("component", "proxy"),
	}
}

// Chat forwards req to the upstream /api/chat and relays the upstream
// JSON answer verbatim.
func (p *Proxy) Chat(ctx context.Context, w http.ResponseWriter, req ChatRequest) {
	body, err := p.forward(ctx, "/api/chat", req)
	if err != nil {
		writeJSON(w, http.StatusOK, newChatErrorResponse(req.Model, proxyErrorText(err)))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		p.logger.Warn("relaying upstream answer failed", "error", err)
	}
}

// errUpstreamStatus marks a non-200 upstream answer.
type errUpstreamStatus struct {
	status int
}

func (e errUpstreamStatus) Error() string {
	return "LLM server error: " + http.StatusText(e.status)
}

func (p *Proxy) forward(ctx context.Context, path string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpc.Do(httpReq)
	if err != nil {
		p.logger.Error("upstream request failed", "path", path, "error", err)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.logger.Error("upstream returned error status", "path", path, "status", resp.StatusCode)
		return nil, errUpstreamStatus{status: resp.StatusCode}
	}

	return io.ReadAll(resp.Body)
}

// proxyErrorText classifies upstream failures into the short phrases
// clients display inline.
func proxyErrorText(err error) string {
	var statusErr errUpstreamStatus
	switch {
	case errors.As(err, &statusErr):
		return statusErr.Error()
	case errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err):
		return "Request timeout"
	default:
		return "Connection error"
	}
}
