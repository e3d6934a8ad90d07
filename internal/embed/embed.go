// Package embed wraps a Genkit ai.Embedder behind a batched provider
// tuned for accelerator-backed embedding servers.
//
// Documents are embedded in fixed-size sequential batches. When the
// backend reports resource exhaustion the failing batch is retried with
// a halved batch size, down to single documents, before the error is
// surfaced.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
)

// BatchSize is the number of documents sent per embedding request,
// tuned for the memory of the accelerator serving the embedding model.
const BatchSize = 16

// Dimension is the embedding width of the bge-m3 family.
const Dimension = 1024

// ErrResourceExhausted reports that the embedding backend ran out of
// memory even at the smallest batch size.
var ErrResourceExhausted = errors.New("embedding backend resource exhausted")

// ErrEmptyEmbedding reports a response with no vector for an input.
var ErrEmptyEmbedding = errors.New("embedding response is empty")

// Provider embeds documents and queries through a Genkit embedder.
type Provider struct {
	embedder ai.Embedder
	logger   *slog.Logger
}

// NewProvider creates a Provider. The embedder must produce vectors of
// Dimension width; mismatches surface at index insert time.
func NewProvider(embedder ai.Embedder, logger *slog.Logger) *Provider {
	return &Provider{
		embedder: embedder,
		logger:   logger.With("component", "embed"),
	}
}

// Documents embeds texts in order, batched at BatchSize. The returned
// slice is index-aligned with texts.
func (p *Provider) Documents(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	batches := (len(texts) + BatchSize - 1) / BatchSize

	for i := 0; i < len(texts); i += BatchSize {
		end := min(i+BatchSize, len(texts))
		batch := texts[i:end]

		p.logger.Debug("embedding batch",
			"batch", i/BatchSize+1, "total", batches, "size", len(batch))

		vecs, err := p.embedBatch(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d/%d: %w", i/BatchSize+1, batches, err)
		}
		vectors = append(vectors, vecs...)
	}

	return vectors, nil
}

// Query embeds a single search query.
func (p *Provider) Query(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embedOnce(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return vecs[0], nil
}

// embedBatch embeds one batch, shrinking on resource exhaustion. Each
// retry halves the size until single documents go through; a failure at
// size one is final.
func (p *Provider) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := p.embedOnce(ctx, texts)
	if err == nil {
		return vecs, nil
	}
	if !isResourceExhausted(err) {
		return nil, err
	}
	if len(texts) == 1 {
		return nil, fmt.Errorf("%w: %v", ErrResourceExhausted, err)
	}

	half := len(texts) / 2
	p.logger.Warn("embedding backend exhausted, shrinking batch",
		"from", len(texts), "to", half)

	left, err := p.embedBatch(ctx, texts[:half])
	if err != nil {
		return nil, err
	}
	right, err := p.embedBatch(ctx, texts[half:])
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}

func (p *Provider) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	docs := make([]*ai.Document, len(texts))
	for i, t := range texts {
		docs[i] = ai.DocumentFromText(t, nil)
	}

	resp, err := p.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs",
			ErrEmptyEmbedding, len(resp.Embeddings), len(texts))
	}

	vecs := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if len(e.Embedding) == 0 {
			return nil, fmt.Errorf("%w: input %d", ErrEmptyEmbedding, i)
		}
		vecs[i] = e.Embedding
	}
	return vecs, nil
}

// isResourceExhausted classifies backend out-of-memory errors. The
// embedding servers report these as text, not typed errors.
func isResourceExhausted(err error) bool {
	if errors.Is(err, ErrResourceExhausted) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "out of memory") ||
		strings.Contains(msg, "cuda")
}
