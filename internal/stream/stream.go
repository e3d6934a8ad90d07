// Package stream converts a fully computed answer into the incremental
// NDJSON delivery sequence that Ollama-compatible clients expect.
//
// The answer is split into fixed-size word units emitted with a small
// delay between them, followed by exactly one terminal unit carrying
// token accounting. Errors produce a single terminal unit and nothing
// else.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Delivery tuning.
const (
	// ChunkWords is the number of words per non-terminal unit.
	ChunkWords = 2

	// UnitDelay paces non-terminal units so clients render the answer
	// progressively.
	UnitDelay = 30 * time.Millisecond
)

// Synthetic token accounting for the terminal unit. The upstream
// generation already happened in full, so these are fixed placeholders
// except for the word counts.
const (
	totalDuration      = 1000000000
	loadDuration       = 100000000
	promptEvalDuration = 200000000
	evalDuration       = 500000000
)

// Mode selects the wire shape of each unit.
type Mode int

const (
	// ModeChat emits chat-completion units with a message object.
	ModeChat Mode = iota

	// ModeGenerate emits completion units with a flat response field.
	ModeGenerate
)

// Chunks splits text into units of n words. Every unit except the last
// carries a trailing space so concatenation reproduces the text.
func Chunks(text string, n int) []string {
	words := strings.Fields(text)
	if len(words) == 0 || n <= 0 {
		return nil
	}

	var units []string
	for i := 0; i < len(words); i += n {
		end := min(i+n, len(words))
		unit := strings.Join(words[i:end], " ")
		if end < len(words) {
			unit += " "
		}
		units = append(units, unit)
	}
	return units
}

// message mirrors the Ollama chat message object.
type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// unit is one NDJSON line. Chat mode uses Message, generate mode uses
// Response; the accounting fields appear only on the terminal unit.
type unit struct {
	Model     string   `json:"model"`
	CreatedAt string   `json:"created_at"`
	Message   *message `json:"message,omitempty"`
	Response  *string  `json:"response,omitempty"`
	Done      bool     `json:"done"`

	Context            *[]int `json:"context,omitempty"`
	TotalDuration      *int64 `json:"total_duration,omitempty"`
	LoadDuration       *int64 `json:"load_duration,omitempty"`
	PromptEvalCount    *int   `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration *int64 `json:"prompt_eval_duration,omitempty"`
	EvalCount          *int   `json:"eval_count,omitempty"`
	EvalDuration       *int64 `json:"eval_duration,omitempty"`
}

// Emitter writes a delivery sequence to one response writer.
type Emitter struct {
	w     io.Writer
	model string
	mode  Mode
	delay time.Duration
	now   func() time.Time
}

// NewEmitter creates an Emitter for one request. model is echoed into
// every unit.
func NewEmitter(w io.Writer, model string, mode Mode) *Emitter {
	return &Emitter{
		w:     w,
		model: model,
		mode:  mode,
		delay: UnitDelay,
		now:   time.Now,
	}
}

// Emit streams the response as word units followed by the terminal
// unit. question is only used for prompt token accounting. Stops early
// if ctx is canceled (client gone).
func (e *Emitter) Emit(ctx context.Context, question, response string) error {
	units := Chunks(response, ChunkWords)

	for _, u := range units {
		if err := e.writeUnit(e.contentUnit(u, false)); err != nil {
			return err
		}
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	final := e.contentUnit("", true)
	td, ld, ped, ed := int64(totalDuration), int64(loadDuration), int64(promptEvalDuration), int64(evalDuration)
	promptCount := len(strings.Fields(question))
	evalCount := len(strings.Fields(response))
	final.TotalDuration = &td
	final.LoadDuration = &ld
	final.PromptEvalCount = &promptCount
	final.PromptEvalDuration = &ped
	final.EvalCount = &evalCount
	final.EvalDuration = &ed
	if e.mode == ModeGenerate {
		final.Context = &[]int{}
	}

	return e.writeUnit(final)
}

// EmitError writes the single terminal unit for a failed request.
func (e *Emitter) EmitError(err error) error {
	return e.writeUnit(e.contentUnit(fmt.Sprintf("Error: %v", err), true))
}

func (e *Emitter) contentUnit(content string, done bool) unit {
	u := unit{
		Model:     e.model,
		CreatedAt: e.now().UTC().Format("2006-01-02T15:04:05.000000Z"),
		Done:      done,
	}
	if e.mode == ModeChat {
		u.Message = &message{Role: "assistant", Content: content}
	} else {
		u.Response = &content
	}
	return u
}

func (e *Emitter) writeUnit(u unit) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encoding stream unit: %w", err)
	}
	if _, err := e.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing stream unit: %w", err)
	}
	if f, ok := e.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
