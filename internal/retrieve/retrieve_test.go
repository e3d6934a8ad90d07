package retrieve

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"ragserver/internal/config"
	"ragserver/internal/vectorindex"
)

// mockSearcher returns canned records and captures the options used.
type mockSearcher struct {
	records  []vectorindex.Record
	err      error
	lastOpts vectorindex.SearchOptions
}

func (m *mockSearcher) Search(_ context.Context, _ string, opts vectorindex.SearchOptions) ([]vectorindex.Record, error) {
	m.lastOpts = opts
	if m.err != nil {
		return nil, m.err
	}
	return m.records, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewUnknownPolicy(t *testing.T) {
	_, err := New(&mockSearcher{}, "similarity", testLogger())
	if !errors.Is(err, ErrUnknownPolicy) {
		t.Fatalf("New() err = %v, want ErrUnknownPolicy", err)
	}
}

func TestNewKnownPolicies(t *testing.T) {
	for _, policy := range []string{config.PolicyTopK, config.PolicyScoreThreshold, config.PolicyMMR} {
		if _, err := New(&mockSearcher{}, policy, testLogger()); err != nil {
			t.Errorf("New(%q) = %v", policy, err)
		}
	}
}

func TestRetrieveTopK(t *testing.T) {
	mock := &mockSearcher{records: []vectorindex.Record{
		{PK: 1, Score: 0.9}, {PK: 2, Score: 0.5},
	}}
	r, err := New(mock, config.PolicyTopK, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	records, err := r.Retrieve(context.Background(), "q")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if mock.lastOpts.K != 4 {
		t.Errorf("K = %d, want 4", mock.lastOpts.K)
	}
	if mock.lastOpts.WithVectors {
		t.Error("top_k must not request vectors")
	}
}

func TestRetrieveScoreThreshold(t *testing.T) {
	mock := &mockSearcher{records: []vectorindex.Record{
		{PK: 1, Score: 0.9},
		{PK: 2, Score: 0.2},
		{PK: 3, Score: 0.19},
		{PK: 4, Score: -0.4},
	}}
	r, err := New(mock, config.PolicyScoreThreshold, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	records, err := r.Retrieve(context.Background(), "q")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2 (threshold is inclusive)", len(records))
	}
	if records[0].PK != 1 || records[1].PK != 2 {
		t.Errorf("kept = %v, %v; want 1, 2", records[0].PK, records[1].PK)
	}
}

func TestRetrieveMMRFetchesWiderPool(t *testing.T) {
	mock := &mockSearcher{records: []vectorindex.Record{
		{PK: 1, Score: 0.9, Vector: []float32{1, 0}},
		{PK: 2, Score: 0.8, Vector: []float32{0.99, 0.01}},
	}}
	r, err := New(mock, config.PolicyMMR, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := r.Retrieve(context.Background(), "q"); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if mock.lastOpts.K != 20 {
		t.Errorf("fetch K = %d, want 20", mock.lastOpts.K)
	}
	if !mock.lastOpts.WithVectors {
		t.Error("mmr reranking needs vectors")
	}
}

func TestRetrievePropagatesError(t *testing.T) {
	wantErr := errors.New("index down")
	r, err := New(&mockSearcher{err: wantErr}, config.PolicyTopK, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Retrieve(context.Background(), "q"); !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}

func TestMMRPrefersDiversity(t *testing.T) {
	// Candidates 1 and 2 are near-duplicates; 3 is distinct but still
	// relevant. MMR at k=2 should pick 1 then 3, not the duplicate.
	candidates := []vectorindex.Record{
		{PK: 1, Score: 0.95, Vector: []float32{1, 0, 0}},
		{PK: 2, Score: 0.94, Vector: []float32{0.999, 0.01, 0}},
		{PK: 3, Score: 0.70, Vector: []float32{0, 1, 0}},
	}

	picked := maximalMarginalRelevance(candidates, 2, 0.5)
	if len(picked) != 2 {
		t.Fatalf("got %d picks, want 2", len(picked))
	}
	if picked[0].PK != 1 {
		t.Errorf("first pick = %d, want most relevant (1)", picked[0].PK)
	}
	if picked[1].PK != 3 {
		t.Errorf("second pick = %d, want diverse candidate (3)", picked[1].PK)
	}
}

func TestMMRFewerCandidatesThanK(t *testing.T) {
	candidates := []vectorindex.Record{
		{PK: 1, Score: 0.9, Vector: []float32{1, 0}},
		{PK: 2, Score: 0.1, Vector: []float32{0, 1}},
	}
	picked := maximalMarginalRelevance(candidates, 4, 0.5)
	if len(picked) != 2 {
		t.Fatalf("got %d picks, want all 2 candidates", len(picked))
	}
}

func TestCosineSimilarity(t *testing.T) {
	if sim := cosineSimilarity([]float32{1, 0}, []float32{1, 0}); sim < 0.999 {
		t.Errorf("identical vectors sim = %f, want 1", sim)
	}
	if sim := cosineSimilarity([]float32{1, 0}, []float32{0, 1}); sim != 0 {
		t.Errorf("orthogonal vectors sim = %f, want 0", sim)
	}
	if sim := cosineSimilarity([]float32{1, 0}, []float32{0, 0}); sim != 0 {
		t.Errorf("zero vector sim = %f, want 0", sim)
	}
	if sim := cosineSimilarity([]float32{1}, []float32{1, 0}); sim != 0 {
		t.Errorf("mismatched lengths sim = %f, want 0", sim)
	}
}
