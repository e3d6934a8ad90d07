// Package vectorindex stores embedded chunks in PostgreSQL with
// pgvector and serves similarity search over them.
//
// A collection is one table holding vectors plus bounded metadata
// columns. The index family decides the secondary index built over the
// vector column:
//
//   - HNSW: graph index, m=8, ef_construction=64, ef_search=64
//   - IVF_FLAT: cluster index, lists=128, probes=10
//   - FLAT: no secondary index, sequential scan
//
// A record becomes searchable only after its insert transaction has
// committed; Insert commits before returning.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"ragserver/internal/chunk"
	"ragserver/internal/config"
)

// Dimension is the collection-wide vector width.
const Dimension = 1024

var (
	// ErrSchemaMismatch reports a vector whose width differs from the
	// collection dimension. Nothing from the batch is inserted.
	ErrSchemaMismatch = errors.New("vector dimension does not match collection schema")

	// ErrUnknownMetric reports an unsupported similarity metric.
	ErrUnknownMetric = errors.New("unknown similarity metric")

	// ErrUnknownFamily reports an unsupported index family.
	ErrUnknownFamily = errors.New("unknown index family")

	// ErrInvalidCollection reports a collection name that is not a safe
	// SQL identifier.
	ErrInvalidCollection = errors.New("invalid collection name")
)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// DB is the subset of pgxpool.Pool the index uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Embedder turns text into vectors. Implemented by embed.Provider.
type Embedder interface {
	Documents(ctx context.Context, texts []string) ([][]float32, error)
	Query(ctx context.Context, text string) ([]float32, error)
}

// Config selects the collection and its index behavior.
type Config struct {
	// Collection is the table name. Must be a lowercase SQL identifier.
	Collection string

	// Metric is config.MetricInnerProduct or config.MetricCosine.
	Metric string

	// Family is config.IndexHNSW, config.IndexIVFFlat or config.IndexFlat.
	Family string

	// Rebuild drops and recreates the collection on startup. When false
	// an existing collection is reused.
	Rebuild bool
}

// Record is one stored chunk returned from search.
type Record struct {
	PK      int64
	Content string
	Header1 string
	Header2 string
	Source  string

	// Score is similarity, higher is better, regardless of metric.
	Score float64

	// Vector is populated only when search is asked for vectors.
	Vector []float32
}

// Index is a pgvector-backed vector collection.
type Index struct {
	db       DB
	embedder Embedder
	cfg      Config
	logger   *slog.Logger
}

// New validates cfg and prepares the collection per the rebuild policy.
func New(ctx context.Context, db DB, embedder Embedder, cfg Config, logger *slog.Logger) (*Index, error) {
	if !identRe.MatchString(cfg.Collection) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCollection, cfg.Collection)
	}
	if _, err := operatorClass(cfg.Metric); err != nil {
		return nil, err
	}
	switch cfg.Family {
	case config.IndexHNSW, config.IndexIVFFlat, config.IndexFlat:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, cfg.Family)
	}

	idx := &Index{
		db:       db,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger.With("component", "vectorindex", "collection", cfg.Collection),
	}
	if err := idx.setup(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

// Collection returns the collection name.
func (idx *Index) Collection() string { return idx.cfg.Collection }

// setup creates the extension, the table and the vector index.
func (idx *Index) setup(ctx context.Context) error {
	if _, err := idx.db.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("creating vector extension: %w", err)
	}

	if idx.cfg.Rebuild {
		idx.logger.Info("rebuilding collection")
		if _, err := idx.db.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", idx.cfg.Collection)); err != nil {
			return fmt.Errorf("dropping collection: %w", err)
		}
	}

	if _, err := idx.db.Exec(ctx, createTableSQL(idx.cfg.Collection)); err != nil {
		return fmt.Errorf("creating collection: %w", err)
	}

	ddl, ok, err := indexDDL(idx.cfg.Collection, idx.cfg.Family, idx.cfg.Metric)
	if err != nil {
		return err
	}
	if !ok {
		idx.logger.Info("flat collection, no vector index built")
		return nil
	}
	if _, err := idx.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("creating vector index: %w", err)
	}
	idx.logger.Info("vector index ready",
		"family", idx.cfg.Family, "metric", idx.cfg.Metric)
	return nil
}

// Insert embeds the chunks and writes them in one transaction. The
// commit is the durability flush; on return the records are searchable.
// Returns the primary keys in chunk order.
func (idx *Index) Insert(ctx context.Context, chunks []chunk.Chunk) ([]int64, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := idx.embedder.Documents(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding chunks: %w", err)
	}

	for i, v := range vectors {
		if len(v) != Dimension {
			return nil, fmt.Errorf("%w: chunk %d has %d dimensions, want %d",
				ErrSchemaMismatch, i, len(v), Dimension)
		}
	}

	tx, err := idx.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (vector, header1, header2, source, content) VALUES ($1, $2, $3, $4, $5) RETURNING pk",
		idx.cfg.Collection)

	pks := make([]int64, len(chunks))
	for i, c := range chunks {
		var pk int64
		err := tx.QueryRow(ctx, insertSQL,
			pgvector.NewVector(vectors[i]),
			c.Meta.Header1,
			c.Meta.Header2,
			c.Meta.Source,
			truncateContent(c.Content),
		).Scan(&pk)
		if err != nil {
			return nil, fmt.Errorf("inserting chunk %d: %w", i, classifyPgError(err))
		}
		pks[i] = pk
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("flushing insert: %w", err)
	}

	idx.logger.Info("chunks inserted", "count", len(chunks))
	return pks, nil
}

// Count returns the number of records in the collection.
func (idx *Index) Count(ctx context.Context) (int64, error) {
	var n int64
	sql := fmt.Sprintf("SELECT COUNT(*) FROM %s", idx.cfg.Collection)
	if err := idx.db.QueryRow(ctx, sql).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

// maxContentLen mirrors the content column bound.
const maxContentLen = 65535

func truncateContent(s string) string {
	if len(s) <= maxContentLen {
		return s
	}
	cut := maxContentLen
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}

// classifyPgError maps backend dimension errors onto ErrSchemaMismatch.
func classifyPgError(err error) error {
	if strings.Contains(err.Error(), "dimensions") {
		return fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	return err
}

func createTableSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	pk BIGSERIAL PRIMARY KEY,
	vector vector(%d) NOT NULL,
	header1 VARCHAR(200) NOT NULL DEFAULT '',
	header2 VARCHAR(200) NOT NULL DEFAULT '',
	source VARCHAR(100) NOT NULL DEFAULT '',
	content VARCHAR(%d) NOT NULL
)`, table, Dimension, maxContentLen)
}

// operatorClass returns the pgvector operator class for the metric.
func operatorClass(metric string) (string, error) {
	switch metric {
	case config.MetricInnerProduct:
		return "vector_ip_ops", nil
	case config.MetricCosine:
		return "vector_cosine_ops", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}
}

// indexDDL returns the CREATE INDEX statement for the family, or
// ok=false for FLAT which builds no index.
func indexDDL(table, family, metric string) (string, bool, error) {
	opclass, err := operatorClass(metric)
	if err != nil {
		return "", false, err
	}

	switch family {
	case config.IndexHNSW:
		return fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS idx_%s_vector ON %s USING hnsw (vector %s) WITH (m = 8, ef_construction = 64)",
			table, table, opclass), true, nil
	case config.IndexIVFFlat:
		return fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS idx_%s_vector ON %s USING ivfflat (vector %s) WITH (lists = 128)",
			table, table, opclass), true, nil
	case config.IndexFlat:
		return "", false, nil
	default:
		return "", false, fmt.Errorf("%w: %q", ErrUnknownFamily, family)
	}
}
