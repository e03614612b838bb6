// Package store holds the vector storage backends. All of them speak
// VectorStore; the local HNSW backend is the default, postgres and
// qdrant serve setups where the index lives off the developer machine.
package store

import (
	"context"
	"time"
)

// Chunk is one embedded slice of a source file. The vector travels with
// the chunk on write; backends may strip it on read paths that only
// need metadata.
type Chunk struct {
	ID        string    `json:"id"`
	FilePath  string    `json:"file_path"`
	StartLine int       `json:"start_line"`
	EndLine   int       `json:"end_line"`
	Content   string    `json:"content"`
	Vector    []float32 `json:"vector"`
	Hash      string    `json:"hash"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Document records per-file index state. Hash is the content hash the
// indexer diffs against to skip unchanged files.
type Document struct {
	Path     string    `json:"path"`
	Hash     string    `json:"hash"`
	ModTime  time.Time `json:"mod_time"`
	ChunkIDs []string  `json:"chunk_ids"`
}

// SearchResult pairs a chunk with its relevance score. Higher is more
// relevant across every backend.
type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"`
}

// IndexStats summarizes what the index currently holds.
type IndexStats struct {
	TotalFiles  int       `json:"total_files"`
	TotalChunks int       `json:"total_chunks"`
	IndexSize   int64     `json:"index_size"` // bytes
	LastUpdated time.Time `json:"last_updated"`
}

// VectorStore is the contract every backend implements. Load must be
// called before queries; Persist flushes buffered state and Close
// implies a final Persist for backends that buffer.
type VectorStore interface {
	// SaveChunks stores a batch of chunks with their vectors.
	SaveChunks(ctx context.Context, chunks []Chunk) error

	// DeleteByFile drops every chunk belonging to filePath, and the
	// document record with them.
	DeleteByFile(ctx context.Context, filePath string) error

	// Search returns up to limit chunks ranked by similarity to the
	// query vector.
	Search(ctx context.Context, queryVector []float32, limit int) ([]SearchResult, error)

	// GetDocument returns the document record for filePath, or nil when
	// the file was never indexed.
	GetDocument(ctx context.Context, filePath string) (*Document, error)

	// SaveDocument upserts a document record.
	SaveDocument(ctx context.Context, doc Document) error

	// DeleteDocument drops only the document record.
	DeleteDocument(ctx context.Context, filePath string) error

	// ListDocuments returns the paths of every indexed file.
	ListDocuments(ctx context.Context) ([]string, error)

	// Load brings the index into a queryable state.
	Load(ctx context.Context) error

	// Persist flushes in-memory state to durable storage.
	Persist(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error

	// GetStats reports index size and freshness.
	GetStats(ctx context.Context) (*IndexStats, error)

	// Clear empties the index entirely.
	Clear(ctx context.Context) error
}
