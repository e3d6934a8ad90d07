package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragserver/internal/analytics"
	"ragserver/internal/log"
	"ragserver/internal/rag"
	"ragserver/internal/vectorindex"
)

const testModel = "rag-support:latest"

type stubRetriever struct {
	records []vectorindex.Record
	err     error
}

func (s *stubRetriever) Retrieve(_ context.Context, _ string) ([]vectorindex.Record, error) {
	return s.records, s.err
}

type stubGenerator struct {
	response string
	err      error
}

func (s *stubGenerator) Generate(_ context.Context, _, _ string) (string, error) {
	return s.response, s.err
}

type stubRecorder struct{}

func (stubRecorder) Enabled() bool                   { return false }
func (stubRecorder) Submit(_ analytics.Conversation) {}

func testEngine(t *testing.T, response string) *rag.Engine {
	t.Helper()
	return rag.New(
		&stubRetriever{records: []vectorindex.Record{{PK: 1, Content: "doc"}}},
		&stubGenerator{response: response},
		stubRecorder{},
		"default system prompt",
		testModel,
		log.NewNop(),
	)
}

func testServer(t *testing.T, engine *rag.Engine) http.Handler {
	t.Helper()
	proxy := NewProxy("http://127.0.0.1:0", log.NewNop())
	return NewServer(engine, proxy, testModel, log.NewNop()).Handler()
}

func TestServer_Chat(t *testing.T) {
	handler := testServer(t, testEngine(t, "the answer"))

	body := `{"model":"` + testModel + `","messages":[{"role":"user","content":"how do I export?"}],"stream":false}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, testModel, resp.Model)
	assert.Equal(t, "assistant", resp.Message.Role)
	assert.Equal(t, "the answer", resp.Message.Content)
	assert.True(t, resp.Done)
	assert.Equal(t, 2, resp.EvalCount)
}

func TestServer_Chat_InternalFailureAnswersApology(t *testing.T) {
	engine := rag.New(
		&stubRetriever{},
		&stubGenerator{err: errors.New("backend down")},
		stubRecorder{},
		"default system prompt",
		testModel,
		log.NewNop(),
	)
	handler := testServer(t, engine)

	body := `{"model":"` + testModel + `","messages":[{"role":"user","content":"q"}],"stream":false}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "죄송합니다. 처리 중 오류가 발생했습니다.", resp.Message.Content)
	assert.NotContains(t, resp.Message.Content, "backend down")
	assert.True(t, resp.Done)
}

func TestServer_Chat_NoUserMessage(t *testing.T) {
	handler := testServer(t, testEngine(t, "unused"))

	body := `{"model":"` + testModel + `","messages":[{"role":"system","content":"rules"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "no user message found")
}

func TestServer_Chat_InvalidBody(t *testing.T) {
	handler := testServer(t, testEngine(t, "unused"))

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("{"))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_Chat_EngineNil(t *testing.T) {
	handler := testServer(t, nil)

	body := `{"model":"` + testModel + `","messages":[{"role":"user","content":"q"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServer_Chat_Stream(t *testing.T) {
	handler := testServer(t, testEngine(t, "one two three four"))

	body := `{"model":"` + testModel + `","messages":[{"role":"user","content":"q"}],"stream":true}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-ndjson", w.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	// Two words per unit plus the terminal unit.
	require.Len(t, lines, 3)

	var last struct {
		Done      bool `json:"done"`
		EvalCount int  `json:"eval_count"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &last))
	assert.True(t, last.Done)
	assert.Equal(t, 4, last.EvalCount)
}

func TestServer_Generate(t *testing.T) {
	handler := testServer(t, testEngine(t, "done deal"))

	body := `{"model":"` + testModel + `","prompt":"question","stream":false}`
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(body))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp generateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "done deal", resp.Response)
	assert.True(t, resp.Done)
	assert.NotNil(t, resp.Context)
	assert.Empty(t, resp.Context)
}

func TestServer_Generate_ForeignModel(t *testing.T) {
	handler := testServer(t, testEngine(t, "unused"))

	body := `{"model":"llama3:8b","prompt":"question"}`
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(body))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp generateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Response, "Error: Model 'llama3:8b' not supported")
	assert.Contains(t, resp.Response, testModel)
}

func TestServer_Chat_ForeignModelProxied(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3:8b", req.Model)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llama3:8b","message":{"role":"assistant","content":"upstream"},"done":true}`))
	}))
	defer upstream.Close()

	proxy := NewProxy(upstream.URL, log.NewNop())
	handler := NewServer(testEngine(t, "unused"), proxy, testModel, log.NewNop()).Handler()

	body := `{"model":"llama3:8b","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "upstream")
}

func TestServer_Chat_ProxyUpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	proxy := NewProxy(upstream.URL, log.NewNop())
	handler := NewServer(testEngine(t, "unused"), proxy, testModel, log.NewNop()).Handler()

	body := `{"model":"llama3:8b","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Message.Content, "Error: LLM server error")
	assert.True(t, resp.Done)
}

func TestServer_Chat_ProxyConnectionError(t *testing.T) {
	proxy := NewProxy("http://127.0.0.1:1", log.NewNop())
	handler := NewServer(testEngine(t, "unused"), proxy, testModel, log.NewNop()).Handler()

	body := `{"model":"llama3:8b","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Message.Content, "Error: Connection error")
}

func TestServer_CORS_Preflight(t *testing.T) {
	handler := testServer(t, testEngine(t, "unused"))

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
