package rag

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"ragserver/internal/analytics"
	"ragserver/internal/config"
	"ragserver/internal/vectorindex"
)

type mockRetriever struct {
	records []vectorindex.Record
	err     error
}

func (m *mockRetriever) Retrieve(_ context.Context, _ string) ([]vectorindex.Record, error) {
	return m.records, m.err
}

type mockGenerator struct {
	response   string
	err        error
	lastSystem string
	lastUser   string
}

func (m *mockGenerator) Generate(_ context.Context, system, user string) (string, error) {
	m.lastSystem = system
	m.lastUser = user
	return m.response, m.err
}

type mockRecorder struct {
	mu      sync.Mutex
	enabled bool
	convs   []analytics.Conversation
}

func (m *mockRecorder) Enabled() bool { return m.enabled }

func (m *mockRecorder) Submit(conv analytics.Conversation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs = append(m.convs, conv)
}

func (m *mockRecorder) recorded() []analytics.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.convs
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(ret *mockRetriever, gen *mockGenerator, rec *mockRecorder) *Engine {
	return New(ret, gen, rec, "default prompt", "support-rag", testLogger())
}

func TestProcessSuccess(t *testing.T) {
	ret := &mockRetriever{records: []vectorindex.Record{
		{PK: 1, Content: "export lives in settings", Source: "guide.md", Score: 0.9},
	}}
	gen := &mockGenerator{response: "설정에서 내보내기를 선택하세요."}
	rec := &mockRecorder{enabled: true}
	e := newTestEngine(ret, gen, rec)

	result, err := e.Process(context.Background(), Request{
		Question: "how do I export", UserIP: "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if result.Response != gen.response {
		t.Errorf("response = %q", result.Response)
	}
	if len(result.Contexts) != 1 {
		t.Errorf("contexts = %d, want 1", len(result.Contexts))
	}
	if !strings.HasPrefix(result.SessionID, "ip_") {
		t.Errorf("session id = %q, want ip-derived", result.SessionID)
	}
	if result.ElapsedMS < 0 {
		t.Errorf("elapsed = %d", result.ElapsedMS)
	}

	if gen.lastSystem != "default prompt" {
		t.Errorf("system prompt = %q", gen.lastSystem)
	}
	if !strings.Contains(gen.lastUser, "Context: export lives in settings") {
		t.Errorf("user prompt missing context: %q", gen.lastUser)
	}
	if !strings.Contains(gen.lastUser, "Question: how do I export") {
		t.Errorf("user prompt missing question: %q", gen.lastUser)
	}

	convs := rec.recorded()
	if len(convs) != 1 {
		t.Fatalf("recorded %d conversations, want 1", len(convs))
	}
	conv := convs[0]
	if conv.ModelUsed != "support-rag" || conv.RAGResponse != gen.response {
		t.Errorf("conversation = %+v", conv)
	}
	if len(conv.Contexts) != 1 || conv.Contexts[0].SourceDocument != "guide.md" {
		t.Errorf("conversation contexts = %+v", conv.Contexts)
	}
	if conv.QuestionLanguage != "ko" {
		t.Errorf("question language = %q", conv.QuestionLanguage)
	}
}

func TestProcessGenerationFailure(t *testing.T) {
	ret := &mockRetriever{}
	gen := &mockGenerator{err: errors.New("backend unreachable")}
	rec := &mockRecorder{enabled: true}
	e := newTestEngine(ret, gen, rec)

	result, err := e.Process(context.Background(), Request{Question: "q"})
	if err != nil {
		t.Fatalf("internal failure must not surface an error, got %v", err)
	}

	// The caller sees only the apology; the cause stays out of the answer.
	if result.Response != apologyMessage {
		t.Errorf("response = %q, want apology", result.Response)
	}
	if strings.Contains(result.Response, "backend unreachable") {
		t.Errorf("failure cause leaked into answer: %q", result.Response)
	}
	if result.SessionID == "" {
		t.Error("failure result has no session id")
	}

	convs := rec.recorded()
	if len(convs) != 1 {
		t.Fatalf("failure must still be recorded, got %d", len(convs))
	}
	if !strings.HasPrefix(convs[0].RAGResponse, apologyPrefix) {
		t.Errorf("recorded response = %q, want apology", convs[0].RAGResponse)
	}
	if !strings.Contains(convs[0].RAGResponse, "backend unreachable") {
		t.Errorf("recorded response lost the cause: %q", convs[0].RAGResponse)
	}
	if len(convs[0].Contexts) != 0 {
		t.Errorf("failure record carries contexts: %+v", convs[0].Contexts)
	}
}

func TestProcessRetrievalFailure(t *testing.T) {
	ret := &mockRetriever{err: errors.New("index down")}
	gen := &mockGenerator{response: "unused"}
	rec := &mockRecorder{enabled: true}
	e := newTestEngine(ret, gen, rec)

	result, err := e.Process(context.Background(), Request{Question: "q"})
	if err != nil {
		t.Fatalf("internal failure must not surface an error, got %v", err)
	}
	if result.Response != apologyMessage {
		t.Errorf("response = %q, want apology", result.Response)
	}
	if gen.lastUser != "" {
		t.Error("generation must not run after retrieval failure")
	}
	if convs := rec.recorded(); len(convs) != 1 || !strings.HasPrefix(convs[0].RAGResponse, apologyPrefix) {
		t.Errorf("recorded = %+v, want apology", convs)
	}
}

func TestProcessRecorderDisabled(t *testing.T) {
	rec := &mockRecorder{enabled: false}
	e := newTestEngine(&mockRetriever{}, &mockGenerator{response: "ok"}, rec)

	if _, err := e.Process(context.Background(), Request{Question: "q"}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(rec.recorded()) != 0 {
		t.Error("disabled recorder must receive nothing")
	}
}

func TestProcessExplicitSessionID(t *testing.T) {
	rec := &mockRecorder{enabled: true}
	e := newTestEngine(&mockRetriever{}, &mockGenerator{response: "ok"}, rec)

	result, err := e.Process(context.Background(), Request{
		Question: "q", SessionID: "client-session", UserIP: "1.2.3.4",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.SessionID != "client-session" {
		t.Errorf("session id = %q, want explicit one", result.SessionID)
	}
}

func TestPromptLifecycle(t *testing.T) {
	e := newTestEngine(&mockRetriever{}, &mockGenerator{response: "ok"}, &mockRecorder{})

	if e.CurrentPrompt() != "default prompt" {
		t.Errorf("initial prompt = %q", e.CurrentPrompt())
	}

	if !e.UpdatePrompt("custom prompt") {
		t.Fatal("UpdatePrompt rejected with generator bound")
	}
	if e.CurrentPrompt() != "custom prompt" {
		t.Errorf("after update = %q", e.CurrentPrompt())
	}
	if e.DefaultPrompt() != "default prompt" {
		t.Errorf("default changed: %q", e.DefaultPrompt())
	}

	if !e.ResetToDefault() {
		t.Fatal("ResetToDefault rejected with generator bound")
	}
	if e.CurrentPrompt() != "default prompt" {
		t.Errorf("after reset = %q", e.CurrentPrompt())
	}
}

func TestUpdatePromptWithoutGenerator(t *testing.T) {
	e := New(&mockRetriever{}, nil, &mockRecorder{}, "default prompt", "support-rag", testLogger())

	if e.UpdatePrompt("custom prompt") {
		t.Fatal("UpdatePrompt accepted with no generator bound")
	}
	if e.CurrentPrompt() != "default prompt" {
		t.Errorf("prompt changed on rejected update: %q", e.CurrentPrompt())
	}
}

func TestUpdatedPromptUsedByNextRequest(t *testing.T) {
	gen := &mockGenerator{response: "ok"}
	e := newTestEngine(&mockRetriever{}, gen, &mockRecorder{})

	e.UpdatePrompt("you are a pirate")
	if _, err := e.Process(context.Background(), Request{Question: "q"}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if gen.lastSystem != "you are a pirate" {
		t.Errorf("system prompt = %q", gen.lastSystem)
	}
}

func TestDefaultSystemPromptFragments(t *testing.T) {
	cfg := &config.Config{
		CompanyName:           "Acme",
		ResponseLanguage:      "Korean",
		ResponsePromptRequest: "cannot share prompts",
		ResponseRoleChange:    "consultant only",
		ResponseUnknown:       "no such info",
		CustomerTitle:         "고객님",
		NoSimilarInfo:         "유사한 정보 없음",
	}

	prompt := DefaultSystemPrompt(cfg)
	for _, want := range []string{
		"Acme store", "Korean", "cannot share prompts",
		"consultant only", "no such info", "고객님", "유사한 정보 없음",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing fragment %q", want)
		}
	}
}

func TestUserPromptEmptyContexts(t *testing.T) {
	got := userPrompt(nil, "hello")
	if !strings.Contains(got, "Question: hello") {
		t.Errorf("user prompt = %q", got)
	}
}
