package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Stats summarizes the sidecar's stored conversations.
type Stats struct {
	TotalConversations int64  `json:"total_conversations"`
	TotalSessions      int64  `json:"total_sessions"`
	Storage            string `json:"storage"`
}

// ConversationSummary is one stored exchange returned by search.
type ConversationSummary struct {
	ConversationID string `json:"conversation_id"`
	SessionID      string `json:"session_id"`
	UserQuestion   string `json:"user_question"`
	RAGResponse    string `json:"rag_response"`
	CreatedAt      string `json:"created_at"`
}

// Stats fetches aggregate counters from the sidecar.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	if !c.enabled {
		return nil, fmt.Errorf("conversation logging disabled")
	}

	var stats Stats
	if err := c.getJSON(ctx, c.baseURL+"/api/stats", &stats); err != nil {
		return nil, fmt.Errorf("fetching stats: %w", err)
	}
	return &stats, nil
}

// SearchConversations queries stored conversations by free text.
func (c *Client) SearchConversations(ctx context.Context, query string, limit int) ([]ConversationSummary, error) {
	if !c.enabled {
		return nil, fmt.Errorf("conversation logging disabled")
	}

	q := url.Values{}
	q.Set("q", query)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var result struct {
		Conversations []ConversationSummary `json:"conversations"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/api/search?"+q.Encode(), &result); err != nil {
		return nil, fmt.Errorf("searching conversations: %w", err)
	}
	return result.Conversations, nil
}

// Healthy reports whether the sidecar answers its health endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	if !c.enabled {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sidecar returned HTTP %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
