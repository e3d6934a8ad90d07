package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"

	"ragserver/internal/analytics"
	"ragserver/internal/api"
	"ragserver/internal/config"
	"ragserver/internal/embed"
	"ragserver/internal/ingest"
	"ragserver/internal/log"
	"ragserver/internal/rag"
	"ragserver/internal/retrieve"
	"ragserver/internal/vectorindex"
)

// Setup creates and initializes the application. The corpus is chunked
// and indexed before the server starts accepting requests, so a ready
// server always answers from a populated index.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	g, embedder, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	provider := embed.NewProvider(embedder, logger)

	index, err := vectorindex.New(ctx, pool, provider, vectorindex.Config{
		Collection: cfg.CollectionName(),
		Metric:     cfg.MetricType,
		Family:     cfg.IndexType,
		Rebuild:    cfg.IndexRebuild,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing vector index: %w", err)
	}
	a.Index = index

	if _, err := ingest.Run(ctx, cfg.CorpusDir, index, logger); err != nil {
		return nil, fmt.Errorf("ingesting corpus: %w", err)
	}

	retriever, err := retrieve.New(index, cfg.RetrieverPolicy, logger)
	if err != nil {
		return nil, err
	}

	a.Analytics = analytics.New(cfg.LoggingServerURL, cfg.EnableLogging, logger)

	a.Engine = rag.New(
		retriever,
		rag.NewGenkitGenerator(g, cfg.LLMModelName),
		a.Analytics,
		rag.DefaultSystemPrompt(cfg),
		cfg.RAGModelName,
		logger,
	)

	proxy := api.NewProxy(cfg.LLMServerURL, logger)
	a.Server = api.NewServer(a.Engine, proxy, cfg.RAGModelName, logger)

	return a, nil
}

// provideGenkit initializes Genkit with the Ollama plugin and registers
// the chat model and the embedder. Ollama has no auto-discovery, both
// must be defined explicitly.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, ai.Embedder, error) {
	ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.LLMServerURL}

	g := genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
	if g == nil {
		return nil, nil, errors.New("initializing genkit with ollama provider")
	}

	ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
		Name: cfg.LLMModelName,
		Type: "chat",
	}, nil)
	ollamaPlugin.DefineEmbedder(g, cfg.LLMServerURL, cfg.EmbedderModel, nil)

	embedder := ollama.Embedder(g, cfg.LLMServerURL)
	if embedder == nil {
		return nil, nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}

	logger.Info("initialized Genkit with ollama provider",
		"model", cfg.LLMModelName, "embedder", cfg.EmbedderModel, "host", cfg.LLMServerURL)

	return g, embedder, nil
}

// provideDBPool creates the PostgreSQL connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}
