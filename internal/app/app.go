// Package app provides application initialization and dependency
// wiring.
//
// Setup builds the full serving stack from configuration: Genkit with
// the Ollama plugin, the PostgreSQL pool, the vector index with the
// ingested corpus, the retriever, the RAG engine, the analytics client
// and the HTTP server. Call Close to release everything.
package app

import (
	"context"
	"log/slog"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"ragserver/internal/analytics"
	"ragserver/internal/api"
	"ragserver/internal/config"
	"ragserver/internal/rag"
	"ragserver/internal/vectorindex"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit    *genkit.Genkit
	DBPool    *pgxpool.Pool
	Index     *vectorindex.Index
	Engine    *rag.Engine
	Analytics *analytics.Client
	Server    *api.Server
}

// Close gracefully shuts down all resources. Pending analytics
// submissions are drained before the database pool closes.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")

	if a.Analytics != nil {
		a.Analytics.Wait()
	}

	if a.DBPool != nil {
		a.DBPool.Close()
		a.Logger.Info("database pool closed")
	}

	return nil
}

// Run serves the HTTP API until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	return a.Server.Run(ctx, a.Config.ListenAddr)
}
