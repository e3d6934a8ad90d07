// Package ingest runs the build phase: chunk the corpus directory and
// load the chunks into the vector index.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ragserver/internal/chunk"
)

// ErrEmptyCorpus reports a corpus directory that produced no chunks.
// Serving without any indexed knowledge is a misconfiguration, so
// startup treats this as fatal.
var ErrEmptyCorpus = errors.New("corpus produced no chunks")

// Inserter loads chunks into the vector index. Implemented by
// vectorindex.Index.
type Inserter interface {
	Insert(ctx context.Context, chunks []chunk.Chunk) ([]int64, error)
}

// Summary accounts for one ingestion pass.
type Summary struct {
	MarkdownChunks int
	CSVChunks      int
	FilteredRows   int
	Inserted       int
}

// Run chunks every markdown and CSV file under dir and inserts the
// result. Chunk ordering within each source file is preserved through
// to the index.
func Run(ctx context.Context, dir string, index Inserter, logger *slog.Logger) (*Summary, error) {
	logger = logger.With("component", "ingest")

	mdChunks, err := chunk.MarkdownDir(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("chunking markdown corpus: %w", err)
	}

	csvChunks, csvStats, err := chunk.CSVDir(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("chunking csv corpus: %w", err)
	}

	summary := &Summary{
		MarkdownChunks: len(mdChunks),
		CSVChunks:      len(csvChunks),
	}
	for _, s := range csvStats {
		summary.FilteredRows += s.Filtered
	}

	all := make([]chunk.Chunk, 0, len(mdChunks)+len(csvChunks))
	all = append(all, mdChunks...)
	all = append(all, csvChunks...)

	if len(all) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyCorpus, dir)
	}

	pks, err := index.Insert(ctx, all)
	if err != nil {
		return nil, fmt.Errorf("loading chunks into index: %w", err)
	}
	summary.Inserted = len(pks)

	logger.Info("ingestion complete",
		"markdown_chunks", summary.MarkdownChunks,
		"csv_chunks", summary.CSVChunks,
		"filtered_rows", summary.FilteredRows,
		"inserted", summary.Inserted)
	return summary, nil
}
