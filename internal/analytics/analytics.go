// Package analytics ships conversation records to the logging sidecar.
//
// Delivery is fire-and-forget: a failed or slow sidecar never blocks or
// fails the answer path. When no sidecar is configured the client is a
// no-op. All free-text fields are capped to the sidecar's column widths
// before sending.
package analytics

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// requestTimeout bounds one delivery attempt.
const requestTimeout = 5 * time.Second

// Sidecar column widths.
const (
	maxSessionID = 255
	maxQuestion  = 2000
	maxResponse  = 5000
	maxContent   = 5000
	maxShortText = 255
	maxMetaValue = 500
	maxModel     = 100
	maxLanguage  = 10
	maxUserIP    = 45
	maxUserAgent = 500
)

// serverName identifies this producer in conversation metadata.
const serverName = "ragserver"

// RetrievedContext is one chunk that informed an answer.
type RetrievedContext struct {
	Content         string            `json:"content"`
	SourceDocument  string            `json:"source_document"`
	Header1         string            `json:"header1"`
	Header2         string            `json:"header2"`
	SimilarityScore *float64          `json:"similarity_score"`
	ChunkMetadata   map[string]string `json:"chunk_metadata"`
}

// Conversation is one question/answer exchange to record.
type Conversation struct {
	SessionID        string
	UserQuestion     string
	Contexts         []RetrievedContext
	RAGResponse      string
	ModelUsed        string
	ResponseTimeMS   int64
	QuestionLanguage string
	ResponseLanguage string
	UserIP           string
	UserAgent        string
}

// logPayload is the wire shape of POST /api/log.
type logPayload struct {
	SessionID        string             `json:"session_id"`
	UserQuestion     string             `json:"user_question"`
	Contexts         []RetrievedContext `json:"contexts"`
	RAGResponse      string             `json:"rag_response"`
	ModelUsed        string             `json:"model_used"`
	ResponseTimeMS   int64              `json:"response_time_ms"`
	QuestionLanguage string             `json:"question_language"`
	ResponseLanguage string             `json:"response_language"`
	Metadata         logMetadata        `json:"metadata"`
}

type logMetadata struct {
	UserIP        string `json:"user_ip,omitempty"`
	UserAgent     string `json:"user_agent,omitempty"`
	ContextsCount int    `json:"contexts_count"`
	LoggedAt      string `json:"logged_at"`
	RAGServer     string `json:"rag_server"`
}

// Client delivers conversations to the logging sidecar.
type Client struct {
	baseURL string
	enabled bool
	httpc   *http.Client
	logger  *slog.Logger
	now     func() time.Time

	wg sync.WaitGroup
}

// New creates a Client. An empty baseURL or enabled=false yields a
// disabled client whose methods are no-ops.
func New(baseURL string, enabled bool, logger *slog.Logger) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		enabled: enabled && baseURL != "",
		httpc:   &http.Client{Timeout: requestTimeout},
		logger:  logger.With("component", "analytics"),
		now:     time.Now,
	}
	if !c.enabled {
		c.logger.Info("conversation logging disabled")
	} else {
		c.logger.Info("conversation logging enabled", "url", c.baseURL)
	}
	return c
}

// Enabled reports whether deliveries will be attempted.
func (c *Client) Enabled() bool { return c.enabled }

// Submit dispatches the conversation on a background goroutine and
// returns immediately. Delivery failures are logged, never surfaced.
func (c *Client) Submit(conv Conversation) {
	if !c.enabled {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := c.Log(ctx, conv); err != nil {
			c.logger.Warn("conversation delivery failed", "error", err)
		}
	}()
}

// Wait blocks until all background deliveries finish. Used on shutdown.
func (c *Client) Wait() { c.wg.Wait() }

// Log delivers one conversation synchronously.
func (c *Client) Log(ctx context.Context, conv Conversation) error {
	if !c.enabled {
		return nil
	}

	payload := c.buildPayload(conv)
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding conversation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/log", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building log request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("sending conversation: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("logging sidecar returned HTTP %d", resp.StatusCode)
	}

	var result struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && result.ConversationID != "" {
		c.logger.Debug("conversation recorded", "conversation_id", result.ConversationID)
	}
	return nil
}

// buildPayload caps every field to the sidecar's column widths.
func (c *Client) buildPayload(conv Conversation) logPayload {
	contexts := make([]RetrievedContext, len(conv.Contexts))
	for i, rc := range conv.Contexts {
		meta := make(map[string]string, len(rc.ChunkMetadata))
		for k, v := range rc.ChunkMetadata {
			meta[k] = bound(v, maxMetaValue)
		}
		contexts[i] = RetrievedContext{
			Content:         bound(rc.Content, maxContent),
			SourceDocument:  bound(rc.SourceDocument, maxShortText),
			Header1:         bound(rc.Header1, maxShortText),
			Header2:         bound(rc.Header2, maxShortText),
			SimilarityScore: rc.SimilarityScore,
			ChunkMetadata:   meta,
		}
	}

	return logPayload{
		SessionID:        bound(conv.SessionID, maxSessionID),
		UserQuestion:     bound(conv.UserQuestion, maxQuestion),
		Contexts:         contexts,
		RAGResponse:      bound(conv.RAGResponse, maxResponse),
		ModelUsed:        bound(conv.ModelUsed, maxModel),
		ResponseTimeMS:   conv.ResponseTimeMS,
		QuestionLanguage: bound(conv.QuestionLanguage, maxLanguage),
		ResponseLanguage: bound(conv.ResponseLanguage, maxLanguage),
		Metadata: logMetadata{
			UserIP:        bound(conv.UserIP, maxUserIP),
			UserAgent:     bound(conv.UserAgent, maxUserAgent),
			ContextsCount: len(contexts),
			LoggedAt:      c.now().Format(time.RFC3339),
			RAGServer:     serverName,
		},
	}
}

// bound caps s to max bytes on a rune boundary.
func bound(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}

// SessionID resolves the session identity for a request: an explicit
// id wins, then a stable per-day hash of the client IP, then a fresh
// temporary id.
func SessionID(explicit, userIP string, now time.Time) string {
	if explicit != "" {
		return bound(explicit, maxSessionID)
	}
	if userIP != "" {
		seed := fmt.Sprintf("%s_%s", userIP, now.Format("20060102"))
		sum := sha256.Sum256([]byte(seed))
		return fmt.Sprintf("ip_%x", sum[:6])
	}
	return "temp_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}
