// Package retrieve selects context chunks for a question under one of
// three policies:
//
//   - top_k: the k most similar chunks
//   - score_threshold: top results with low-similarity matches dropped
//   - max_marginal_relevance: rerank a wider candidate pool to balance
//     similarity against redundancy between picked chunks
//
// The policy is fixed at construction; an unknown policy name is a
// constructor error, not a silent fallback.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"ragserver/internal/config"
	"ragserver/internal/vectorindex"
)

// ErrUnknownPolicy reports a retrieval policy name this package does
// not implement.
var ErrUnknownPolicy = errors.New("unknown retrieval policy")

// Policy tuning.
const (
	defaultK       = 4
	scoreThreshold = 0.2
	mmrFetchK      = 20
	mmrLambda      = 0.5
)

// Searcher is the vector index surface the retriever needs.
type Searcher interface {
	Search(ctx context.Context, query string, opts vectorindex.SearchOptions) ([]vectorindex.Record, error)
}

// Retriever runs similarity search under a fixed policy.
type Retriever struct {
	index  Searcher
	policy string
	logger *slog.Logger
}

// New creates a Retriever. policy must be one of the config.Policy*
// names.
func New(index Searcher, policy string, logger *slog.Logger) (*Retriever, error) {
	switch policy {
	case config.PolicyTopK, config.PolicyScoreThreshold, config.PolicyMMR:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
	}
	return &Retriever{
		index:  index,
		policy: policy,
		logger: logger.With("component", "retrieve", "policy", policy),
	}, nil
}

// Policy returns the active policy name.
func (r *Retriever) Policy() string { return r.policy }

// Retrieve returns context chunks for the question, most similar first.
// An empty result is valid and means the collection had nothing usable.
func (r *Retriever) Retrieve(ctx context.Context, question string) ([]vectorindex.Record, error) {
	switch r.policy {
	case config.PolicyTopK:
		return r.index.Search(ctx, question, vectorindex.SearchOptions{K: defaultK})

	case config.PolicyScoreThreshold:
		records, err := r.index.Search(ctx, question, vectorindex.SearchOptions{K: defaultK})
		if err != nil {
			return nil, err
		}
		kept := records[:0]
		for _, rec := range records {
			if rec.Score >= scoreThreshold {
				kept = append(kept, rec)
			}
		}
		if len(kept) < len(records) {
			r.logger.Debug("low-similarity results dropped",
				"dropped", len(records)-len(kept))
		}
		return kept, nil

	case config.PolicyMMR:
		candidates, err := r.index.Search(ctx, question, vectorindex.SearchOptions{
			K:           mmrFetchK,
			WithVectors: true,
		})
		if err != nil {
			return nil, err
		}
		return maximalMarginalRelevance(candidates, defaultK, mmrLambda), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, r.policy)
	}
}

// maximalMarginalRelevance greedily picks k records, each step trading
// query similarity against the highest similarity to anything already
// picked: lambda*relevance - (1-lambda)*redundancy.
func maximalMarginalRelevance(candidates []vectorindex.Record, k int, lambda float64) []vectorindex.Record {
	if k <= 0 {
		return nil
	}
	if len(candidates) <= 1 {
		return candidates
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	picked := make([]vectorindex.Record, 0, k)
	remaining := make([]vectorindex.Record, len(candidates))
	copy(remaining, candidates)

	// Candidates arrive sorted, so the first pick is the most relevant.
	picked = append(picked, remaining[0])
	remaining = remaining[1:]

	for len(picked) < k && len(remaining) > 0 {
		bestIdx := 0
		bestScore := math.Inf(-1)

		for i, cand := range remaining {
			redundancy := math.Inf(-1)
			for _, p := range picked {
				if sim := cosineSimilarity(cand.Vector, p.Vector); sim > redundancy {
					redundancy = sim
				}
			}
			score := lambda*cand.Score - (1-lambda)*redundancy
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}

		picked = append(picked, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return picked
}

// cosineSimilarity of two vectors; zero when either has no magnitude.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
