package vectorindex

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"ragserver/internal/config"
)

// Query-time tuning, paired with the build parameters in indexDDL.
const (
	hnswEFSearch  = 64
	ivfFlatProbes = 10
)

// SearchOptions controls one search call.
type SearchOptions struct {
	// K is the number of results wanted. Clamped to the collection's
	// current record count.
	K int

	// WithVectors additionally returns each record's stored vector, for
	// rerankers that need raw embeddings.
	WithVectors bool
}

// Search embeds the query text and returns the nearest records ordered
// by descending similarity. An empty collection yields no results and
// no error.
func (idx *Index) Search(ctx context.Context, query string, opts SearchOptions) ([]Record, error) {
	total, err := idx.Count(ctx)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		idx.logger.Warn("search on empty collection")
		return nil, nil
	}

	k := opts.K
	if int64(k) > total {
		k = int(total)
	}
	if k <= 0 {
		return nil, nil
	}

	queryVec, err := idx.embedder.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding search query: %w", err)
	}
	if len(queryVec) != Dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, want %d",
			ErrSchemaMismatch, len(queryVec), Dimension)
	}

	// SET LOCAL scopes the tuning parameter to this transaction.
	tx, err := idx.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning search transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if tuning := tuningSQL(idx.cfg.Family); tuning != "" {
		if _, err := tx.Exec(ctx, tuning); err != nil {
			return nil, fmt.Errorf("setting search tuning: %w", err)
		}
	}

	sql, err := searchSQL(idx.cfg.Collection, idx.cfg.Metric, opts.WithVectors)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, sql, pgvector.NewVector(queryVec), k)
	if err != nil {
		return nil, fmt.Errorf("searching collection: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r   Record
			vec pgvector.Vector
		)
		if opts.WithVectors {
			err = rows.Scan(&r.PK, &r.Header1, &r.Header2, &r.Source, &r.Content, &r.Score, &vec)
		} else {
			err = rows.Scan(&r.PK, &r.Header1, &r.Header2, &r.Source, &r.Content, &r.Score)
		}
		if err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		if opts.WithVectors {
			r.Vector = vec.Slice()
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search results: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("finishing search transaction: %w", err)
	}

	idx.logger.Debug("search complete", "requested", opts.K, "returned", len(records))
	return records, nil
}

// tuningSQL returns the per-transaction tuning statement for the
// family. FLAT has nothing to tune.
func tuningSQL(family string) string {
	switch family {
	case config.IndexHNSW:
		return fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", hnswEFSearch)
	case config.IndexIVFFlat:
		return fmt.Sprintf("SET LOCAL ivfflat.probes = %d", ivfFlatProbes)
	default:
		return ""
	}
}

// searchSQL builds the ranked retrieval query. The score column is
// normalized so higher always means more similar: inner product
// distance (<#>) is negated, cosine distance (<=>) is flipped to
// cosine similarity.
func searchSQL(table, metric string, withVectors bool) (string, error) {
	var scoreExpr, orderExpr string
	switch metric {
	case config.MetricInnerProduct:
		scoreExpr = "-(vector <#> $1)"
		orderExpr = "vector <#> $1"
	case config.MetricCosine:
		scoreExpr = "1 - (vector <=> $1)"
		orderExpr = "vector <=> $1"
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}

	cols := "pk, header1, header2, source, content, " + scoreExpr
	if withVectors {
		cols += ", vector"
	}

	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT $2", cols, table, orderExpr), nil
}
