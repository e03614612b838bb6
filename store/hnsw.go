package store

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hupe1980/vecgo"

	"github.com/avillela/seekd/internal/fileutil"
)

// HNSWStore is the default local backend. Vectors live in an in-memory HNSW
// graph (persisted as a single snapshot file, mmap-loaded on open); chunk
// contents and document metadata live in a gob sidecar next to it. Loading
// the snapshot is the expensive step the daemon exists to amortize.
type HNSWStore struct {
	indexPath string
	docsPath  string
	lockPath  string

	dimension      int
	m              int
	efConstruction int

	mu        sync.RWMutex
	index     *vecgo.Vecgo[string] // payload is the chunk ID
	chunks    map[string]Chunk     // id -> chunk (vectors stripped, they live in the index)
	documents map[string]Document  // path -> document
	vecIDs    map[string]uint64    // chunk id -> numeric id inside the index
}

type hnswSidecar struct {
	Chunks    map[string]Chunk
	Documents map[string]Document
	VecIDs    map[string]uint64
}

type HNSWOption func(*HNSWStore)

func WithHNSWParams(m, efConstruction int) HNSWOption {
	return func(s *HNSWStore) {
		if m > 0 {
			s.m = m
		}
		if efConstruction > 0 {
			s.efConstruction = efConstruction
		}
	}
}

func NewHNSWStore(indexPath, docsPath string, dimension int, opts ...HNSWOption) *HNSWStore {
	s := &HNSWStore{
		indexPath:      indexPath,
		docsPath:       docsPath,
		lockPath:       indexPath + ".lock",
		dimension:      dimension,
		m:              16,
		efConstruction: 200,
		chunks:         make(map[string]Chunk),
		documents:      make(map[string]Document),
		vecIDs:         make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newIndex builds an empty HNSW index with the configured parameters.
func (s *HNSWStore) newIndex() (*vecgo.Vecgo[string], error) {
	return vecgo.HNSW[string](s.dimension).
		Cosine().
		M(s.m).
		EFConstruction(s.efConstruction).
		Build()
}

func (s *HNSWStore) SaveChunks(ctx context.Context, chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index == nil {
		idx, err := s.newIndex()
		if err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
		s.index = idx
	}

	for _, chunk := range chunks {
		id, err := s.index.Insert(ctx, vecgo.VectorWithData[string]{
			Vector: chunk.Vector,
			Data:   chunk.ID,
		})
		if err != nil {
			return fmt.Errorf("failed to insert vector for chunk %s: %w", chunk.ID, err)
		}
		s.vecIDs[chunk.ID] = id

		// The vector is owned by the index from here on.
		chunk.Vector = nil
		s.chunks[chunk.ID] = chunk
	}

	return nil
}

func (s *HNSWStore) DeleteByFile(ctx context.Context, filePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[filePath]
	if !ok {
		return nil
	}

	for _, chunkID := range doc.ChunkIDs {
		if vecID, ok := s.vecIDs[chunkID]; ok && s.index != nil {
			if err := s.index.Delete(ctx, vecID); err != nil {
				return fmt.Errorf("failed to delete vector for chunk %s: %w", chunkID, err)
			}
			delete(s.vecIDs, chunkID)
		}
		delete(s.chunks, chunkID)
	}

	return nil
}

func (s *HNSWStore) Search(ctx context.Context, queryVector []float32, limit int) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.index == nil || len(s.chunks) == 0 {
		return nil, nil
	}

	if limit <= 0 {
		limit = 10
	}

	hits, err := s.index.KNNSearch(ctx, queryVector, limit)
	if err != nil {
		return nil, fmt.Errorf("knn search failed: %w", err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		chunk, ok := s.chunks[hit.Data]
		if !ok {
			continue
		}
		// Cosine distance in [0,2]; fold back into a similarity score.
		score := 1 - hit.Distance
		if score < 0 {
			score = 0
		}
		results = append(results, SearchResult{Chunk: chunk, Score: score})
	}

	return results, nil
}

func (s *HNSWStore) GetDocument(ctx context.Context, filePath string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[filePath]
	if !ok {
		return nil, nil
	}

	return &doc, nil
}

func (s *HNSWStore) SaveDocument(ctx context.Context, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.documents[doc.Path] = doc
	return nil
}

func (s *HNSWStore) DeleteDocument(ctx context.Context, filePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.documents, filePath)
	return nil
}

func (s *HNSWStore) ListDocuments(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths := make([]string, 0, len(s.documents))
	for path := range s.documents {
		paths = append(paths, path)
	}

	return paths, nil
}

func (s *HNSWStore) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Shared file lock for cross-process safety; proceed unlocked if the
	// lock file cannot be created (backward compat with read-only setups).
	lockFile, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return s.loadUnlocked()
	}
	defer lockFile.Close()

	if err := fileutil.FlockShared(lockFile, false); err != nil {
		return s.loadUnlocked()
	}
	defer func() {
		_ = fileutil.Funlock(lockFile)
	}()

	return s.loadUnlocked()
}

func (s *HNSWStore) loadUnlocked() error {
	if _, err := os.Stat(s.indexPath); err != nil {
		if os.IsNotExist(err) {
			// Nothing indexed yet; start empty.
			idx, err := s.newIndex()
			if err != nil {
				return fmt.Errorf("failed to create index: %w", err)
			}
			s.index = idx
			return nil
		}
		return fmt.Errorf("failed to stat index file: %w", err)
	}

	idx, err := vecgo.NewFromFile[string](s.indexPath)
	if err != nil {
		return fmt.Errorf("failed to load vector index: %w", err)
	}
	s.index = idx

	file, err := os.Open(s.docsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open documents file: %w", err)
	}
	defer file.Close()

	var side hnswSidecar
	if err := gob.NewDecoder(file).Decode(&side); err != nil {
		return fmt.Errorf("failed to decode documents file: %w", err)
	}

	s.chunks = side.Chunks
	s.documents = side.Documents
	s.vecIDs = side.VecIDs

	if s.chunks == nil {
		s.chunks = make(map[string]Chunk)
	}
	if s.documents == nil {
		s.documents = make(map[string]Document)
	}
	if s.vecIDs == nil {
		s.vecIDs = make(map[string]uint64)
	}

	return nil
}

func (s *HNSWStore) Persist(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lockFile, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return s.persistUnlocked()
	}
	defer lockFile.Close()

	if err := fileutil.FlockExclusive(lockFile, false); err != nil {
		return s.persistUnlocked()
	}
	defer func() {
		_ = fileutil.Funlock(lockFile)
	}()

	return s.persistUnlocked()
}

func (s *HNSWStore) persistUnlocked() error {
	if err := fileutil.EnsureParentDir(s.indexPath); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	if s.index != nil {
		if err := s.index.SaveToFile(s.indexPath); err != nil {
			return fmt.Errorf("failed to save vector index: %w", err)
		}
	}

	// Write the sidecar to a temp file first so a crash mid-write never
	// leaves a truncated documents file next to a valid index.
	tempPath := s.docsPath + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create documents file: %w", err)
	}

	side := hnswSidecar{
		Chunks:    s.chunks,
		Documents: s.documents,
		VecIDs:    s.vecIDs,
	}
	if err := gob.NewEncoder(file).Encode(side); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode documents file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close documents file: %w", err)
	}

	return fileutil.ReplaceFileAtomically(tempPath, s.docsPath)
}

func (s *HNSWStore) Close() error {
	return s.Persist(context.Background())
}

func (s *HNSWStore) GetStats(ctx context.Context) (*IndexStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var lastUpdated time.Time
	for _, chunk := range s.chunks {
		if chunk.UpdatedAt.After(lastUpdated) {
			lastUpdated = chunk.UpdatedAt
		}
	}

	var size int64
	if info, err := os.Stat(s.indexPath); err == nil {
		size = info.Size()
	}
	if info, err := os.Stat(s.docsPath); err == nil {
		size += info.Size()
	}

	return &IndexStats{
		TotalFiles:  len(s.documents),
		TotalChunks: len(s.chunks),
		IndexSize:   size,
		LastUpdated: lastUpdated,
	}, nil
}

func (s *HNSWStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.newIndex()
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	s.index = idx
	s.chunks = make(map[string]Chunk)
	s.documents = make(map[string]Document)
	s.vecIDs = make(map[string]uint64)

	for _, path := range []string{s.indexPath, s.docsPath} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}

	return nil
}
