package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avillela/seekd/embedder"
	"github.com/avillela/seekd/fulltext"
	"github.com/avillela/seekd/store"
)

// Indexer drives the scan -> chunk -> embed -> store pipeline. It keeps
// the vector store and the fulltext index in step with each other.
type Indexer struct {
	root     string
	store    store.VectorStore
	fulltext *fulltext.Index // may be nil
	embedder embedder.Embedder
	chunker  *Chunker
	scanner  *Scanner
	logger   *slog.Logger
}

type Stats struct {
	FilesIndexed  int
	FilesSkipped  int
	ChunksCreated int
	FilesRemoved  int
	Duration      time.Duration
}

// ProgressInfo reports per-file indexing progress.
type ProgressInfo struct {
	Current     int // 1-indexed
	Total       int
	CurrentFile string
}

type ProgressCallback func(info ProgressInfo)

func New(
	root string,
	st store.VectorStore,
	ft *fulltext.Index,
	emb embedder.Embedder,
	chunker *Chunker,
	scanner *Scanner,
	logger *slog.Logger,
) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		root:     root,
		store:    st,
		fulltext: ft,
		embedder: emb,
		chunker:  chunker,
		scanner:  scanner,
		logger:   logger,
	}
}

// IndexAll brings the indexes up to date with the tree: new and changed
// files are (re)indexed, files that disappeared are removed.
func (idx *Indexer) IndexAll(ctx context.Context, onProgress ProgressCallback) (*Stats, error) {
	start := time.Now()
	stats := &Stats{}

	files, skipped, err := idx.scanner.Scan()
	if err != nil {
		return nil, fmt.Errorf("failed to scan files: %w", err)
	}
	stats.FilesSkipped = len(skipped)

	existingDocs, err := idx.store.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	stale := make(map[string]bool, len(existingDocs))
	for _, doc := range existingDocs {
		stale[doc] = true
	}

	for i, file := range files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if onProgress != nil {
			onProgress(ProgressInfo{Current: i + 1, Total: len(files), CurrentFile: file.Path})
		}
		delete(stale, file.Path)

		doc, err := idx.store.GetDocument(ctx, file.Path)
		if err != nil {
			return stats, fmt.Errorf("failed to get document %s: %w", file.Path, err)
		}
		if doc != nil && doc.Hash == file.Hash {
			continue // unchanged
		}

		chunks, err := idx.IndexFile(ctx, file)
		if err != nil {
			idx.logger.Warn("failed to index file", "path", file.Path, "error", err)
			continue
		}
		stats.FilesIndexed++
		stats.ChunksCreated += chunks
	}

	for path := range stale {
		if err := idx.RemoveFile(ctx, path); err != nil {
			idx.logger.Warn("failed to remove file", "path", path, "error", err)
			continue
		}
		stats.FilesRemoved++
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

// IndexFile (re)indexes a single file and returns the chunk count.
func (idx *Indexer) IndexFile(ctx context.Context, file FileInfo) (int, error) {
	if err := idx.store.DeleteByFile(ctx, file.Path); err != nil {
		return 0, fmt.Errorf("failed to delete existing chunks: %w", err)
	}
	if idx.fulltext != nil {
		if err := idx.fulltext.DeleteByFile(ctx, file.Path); err != nil {
			return 0, fmt.Errorf("failed to delete fulltext chunks: %w", err)
		}
	}

	chunkInfos := idx.chunker.Chunk(file.Path, file.Content)
	if len(chunkInfos) == 0 {
		return 0, idx.store.SaveDocument(ctx, store.Document{
			Path:    file.Path,
			Hash:    file.Hash,
			ModTime: time.Unix(file.ModTime, 0),
		})
	}

	contents := make([]string, len(chunkInfos))
	for i, c := range chunkInfos {
		contents[i] = c.Content
	}

	embeddings, err := idx.embedder.EmbedBatch(ctx, contents)
	if err != nil {
		return 0, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(embeddings) != len(chunkInfos) {
		return 0, fmt.Errorf("expected %d embeddings, got %d", len(chunkInfos), len(embeddings))
	}

	now := time.Now()
	chunks := make([]store.Chunk, len(chunkInfos))
	chunkIDs := make([]string, len(chunkInfos))
	for i, info := range chunkInfos {
		chunks[i] = store.Chunk{
			ID:        info.ID,
			FilePath:  info.FilePath,
			StartLine: info.StartLine,
			EndLine:   info.EndLine,
			Content:   info.Content,
			Vector:    embeddings[i],
			Hash:      info.Hash,
			UpdatedAt: now,
		}
		chunkIDs[i] = info.ID
	}

	if idx.fulltext != nil {
		if err := idx.fulltext.SaveChunks(ctx, chunks); err != nil {
			return 0, fmt.Errorf("failed to save fulltext chunks: %w", err)
		}
	}
	if err := idx.store.SaveChunks(ctx, chunks); err != nil {
		return 0, fmt.Errorf("failed to save chunks: %w", err)
	}

	doc := store.Document{
		Path:     file.Path,
		Hash:     file.Hash,
		ModTime:  time.Unix(file.ModTime, 0),
		ChunkIDs: chunkIDs,
	}
	if err := idx.store.SaveDocument(ctx, doc); err != nil {
		return 0, fmt.Errorf("failed to save document: %w", err)
	}

	return len(chunks), nil
}

// RemoveFile drops a file from both indexes.
func (idx *Indexer) RemoveFile(ctx context.Context, path string) error {
	if err := idx.store.DeleteByFile(ctx, path); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if err := idx.store.DeleteDocument(ctx, path); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if idx.fulltext != nil {
		if err := idx.fulltext.DeleteByFile(ctx, path); err != nil {
			return fmt.Errorf("failed to delete fulltext chunks: %w", err)
		}
	}
	return nil
}

// Scanner exposes the indexer's scanner for change-driven reindexing.
func (idx *Indexer) Scanner() *Scanner {
	return idx.scanner
}
