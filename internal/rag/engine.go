// Package rag orchestrates the answer path: retrieve context chunks,
// generate a grounded answer under the active system prompt, and hand
// the exchange to the analytics sidecar.
//
// The system prompt and its generation binding live in one immutable
// snapshot swapped atomically, so a request never observes a new prompt
// paired with an old binding or vice versa.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"ragserver/internal/analytics"
	"ragserver/internal/vectorindex"
)

// languageCode tags logged conversations. Detection is out of scope;
// the corpus and answers are Korean.
const languageCode = "ko"

// apologyMessage is the answer returned when processing fails. The
// failure cause stays in the server log and the analytics record; the
// caller only sees this text.
const apologyMessage = "죄송합니다. 처리 중 오류가 발생했습니다."

// apologyPrefix opens the cause-bearing answer recorded for analytics.
const apologyPrefix = "죄송합니다. 처리 중 오류가 발생했습니다"

// Generator produces an answer from a system prompt and a user prompt.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Retriever selects context chunks for a question.
type Retriever interface {
	Retrieve(ctx context.Context, question string) ([]vectorindex.Record, error)
}

// Recorder receives finished exchanges. Implemented by analytics.Client.
type Recorder interface {
	Enabled() bool
	Submit(conv analytics.Conversation)
}

// binding is one immutable prompt/generator snapshot.
type binding struct {
	systemPrompt string
	generator    Generator
}

// Request is one question with its caller identity.
type Request struct {
	Question  string
	SessionID string // explicit session id, may be empty
	UserIP    string
	UserAgent string
}

// Result is a completed exchange.
type Result struct {
	Response  string
	Contexts  []vectorindex.Record
	SessionID string
	ElapsedMS int64
}

// Engine runs the retrieval-augmented answer path.
type Engine struct {
	current       atomic.Pointer[binding]
	defaultPrompt string
	retriever     Retriever
	recorder      Recorder
	modelName     string
	logger        *slog.Logger
	now           func() time.Time
}

// New creates an Engine bound to defaultPrompt. modelName is the served
// model identity recorded with each conversation.
func New(retriever Retriever, generator Generator, recorder Recorder, defaultPrompt, modelName string, logger *slog.Logger) *Engine {
	e := &Engine{
		defaultPrompt: defaultPrompt,
		retriever:     retriever,
		recorder:      recorder,
		modelName:     modelName,
		logger:        logger.With("component", "rag"),
		now:           time.Now,
	}
	e.current.Store(&binding{systemPrompt: defaultPrompt, generator: generator})
	return e
}

// CurrentPrompt returns the active system prompt.
func (e *Engine) CurrentPrompt() string {
	return e.current.Load().systemPrompt
}

// DefaultPrompt returns the startup system prompt.
func (e *Engine) DefaultPrompt() string {
	return e.defaultPrompt
}

// UpdatePrompt swaps in a new system prompt. The swap is all-or-nothing:
// in-flight requests keep the snapshot they started with. Reports false
// and leaves state unchanged when no generator is bound.
func (e *Engine) UpdatePrompt(prompt string) bool {
	old := e.current.Load()
	if old.generator == nil {
		e.logger.Error("system prompt update rejected, no generator bound")
		return false
	}
	e.current.Store(&binding{systemPrompt: prompt, generator: old.generator})
	e.logger.Info("system prompt updated", "length", len(prompt))
	return true
}

// ResetToDefault restores the startup system prompt.
func (e *Engine) ResetToDefault() bool {
	return e.UpdatePrompt(e.defaultPrompt)
}

// Process answers one question. The exchange, successful or not, is
// submitted to the recorder; recording never blocks or fails the
// answer. Internal failures are not surfaced to the caller: the
// returned Result carries the localized apology in the answer slot and
// the cause goes only to the server log and the analytics record.
func (e *Engine) Process(ctx context.Context, req Request) (Result, error) {
	start := e.now()
	sessionID := analytics.SessionID(req.SessionID, req.UserIP, start)
	snapshot := e.current.Load()

	contexts, err := e.retriever.Retrieve(ctx, req.Question)
	if err != nil {
		return e.failure(req, sessionID, start, fmt.Errorf("retrieving context: %w", err)), nil
	}
	e.logger.Debug("contexts retrieved", "count", len(contexts))

	response, err := snapshot.generator.Generate(ctx, snapshot.systemPrompt, userPrompt(contexts, req.Question))
	elapsed := e.now().Sub(start).Milliseconds()

	if err != nil {
		return e.failure(req, sessionID, start, fmt.Errorf("generating answer: %w", err)), nil
	}

	e.record(req, sessionID, contexts, response, elapsed)
	e.logger.Info("question answered", "session_id", sessionID, "elapsed_ms", elapsed)

	return Result{
		Response:  response,
		Contexts:  contexts,
		SessionID: sessionID,
		ElapsedMS: elapsed,
	}, nil
}

// failure turns an internal error into the apology answer. The
// analytics record keeps the cause-bearing text so operators can trace
// the failure without it reaching the caller.
func (e *Engine) failure(req Request, sessionID string, start time.Time, cause error) Result {
	elapsed := e.now().Sub(start).Milliseconds()
	e.logger.Error("processing failed", "session_id", sessionID, "error", cause)
	e.record(req, sessionID, nil, fmt.Sprintf("%s: %v", apologyPrefix, cause), elapsed)
	return Result{
		Response:  apologyMessage,
		SessionID: sessionID,
		ElapsedMS: elapsed,
	}
}

func (e *Engine) record(req Request, sessionID string, contexts []vectorindex.Record, response string, elapsedMS int64) {
	if !e.recorder.Enabled() {
		return
	}
	e.recorder.Submit(analytics.Conversation{
		SessionID:        sessionID,
		UserQuestion:     req.Question,
		Contexts:         toAnalyticsContexts(contexts),
		RAGResponse:      response,
		ModelUsed:        e.modelName,
		ResponseTimeMS:   elapsedMS,
		QuestionLanguage: languageCode,
		ResponseLanguage: languageCode,
		UserIP:           req.UserIP,
		UserAgent:        req.UserAgent,
	})
}

// userPrompt renders the retrieved context and the question into the
// user turn of the chat template.
func userPrompt(contexts []vectorindex.Record, question string) string {
	contents := make([]string, len(contexts))
	for i, c := range contexts {
		contents[i] = c.Content
	}
	return fmt.Sprintf("Context: %s\n---\nQuestion: %s",
		strings.Join(contents, "\n\n"), question)
}

func toAnalyticsContexts(records []vectorindex.Record) []analytics.RetrievedContext {
	out := make([]analytics.RetrievedContext, len(records))
	for i, r := range records {
		score := r.Score
		out[i] = analytics.RetrievedContext{
			Content:         r.Content,
			SourceDocument:  r.Source,
			Header1:         r.Header1,
			Header2:         r.Header2,
			SimilarityScore: &score,
			ChunkMetadata: map[string]string{
				"pk": fmt.Sprintf("%d", r.PK),
			},
		}
	}
	return out
}
