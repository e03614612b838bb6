package embedder

import "context"

// Embedder converts text into vector embeddings.
type Embedder interface {
	// Embed returns the embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns embeddings for multiple texts in one call
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimensionality
	Dimensions() int

	// Ping checks that the provider is reachable
	Ping(ctx context.Context) error

	// Close releases provider resources
	Close() error
}
