package store

import (
	"context"
	"fmt"

	"github.com/avillela/seekd/config"
)

// NewFromConfig builds the configured vector store backend for a project.
// The returned store is not yet loaded; callers decide when to pay that cost.
func NewFromConfig(ctx context.Context, cfg *config.Config, projectRoot string) (VectorStore, error) {
	dims := cfg.Embedder.GetDimensions()

	switch cfg.Store.Backend {
	case "", "hnsw":
		return NewHNSWStore(
			config.GetVectorIndexPath(projectRoot),
			config.GetDocumentsPath(projectRoot),
			dims,
			WithHNSWParams(cfg.Store.HNSW.M, cfg.Store.HNSW.EFConstruction),
		), nil

	case "postgres":
		if cfg.Store.Postgres.DSN == "" {
			return nil, fmt.Errorf("postgres backend requires store.postgres.dsn")
		}
		return NewPostgresStore(ctx, cfg.Store.Postgres.DSN, projectRoot, dims)

	case "qdrant":
		if cfg.Store.Qdrant.Endpoint == "" {
			return nil, fmt.Errorf("qdrant backend requires store.qdrant.endpoint")
		}
		return NewQdrantStore(ctx,
			cfg.Store.Qdrant.Endpoint,
			cfg.Store.Qdrant.Port,
			cfg.Store.Qdrant.Collection,
			cfg.Store.Qdrant.APIKey,
			cfg.Store.Qdrant.UseTLS,
			dims)

	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
}
