package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *HNSWStore {
	t.Helper()
	dir := t.TempDir()
	s := NewHNSWStore(
		filepath.Join(dir, "vectors.idx"),
		filepath.Join(dir, "documents.gob"),
		3,
	)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return s
}

func testChunks() []Chunk {
	now := time.Now()
	return []Chunk{
		{
			ID:        "chunk-1",
			FilePath:  "main.go",
			StartLine: 1,
			EndLine:   10,
			Content:   "func main() {}",
			Vector:    []float32{1, 0, 0},
			Hash:      "h1",
			UpdatedAt: now,
		},
		{
			ID:        "chunk-2",
			FilePath:  "main.go",
			StartLine: 11,
			EndLine:   20,
			Content:   "func helper() {}",
			Vector:    []float32{0, 1, 0},
			Hash:      "h2",
			UpdatedAt: now,
		},
		{
			ID:        "chunk-3",
			FilePath:  "util.go",
			StartLine: 1,
			EndLine:   5,
			Content:   "package util",
			Vector:    []float32{0, 0, 1},
			Hash:      "h3",
			UpdatedAt: now,
		},
	}
}

func TestHNSWStoreSearch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.SaveChunks(ctx, testChunks()); err != nil {
		t.Fatalf("SaveChunks failed: %v", err)
	}

	results, err := s.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected search results, got none")
	}
	if results[0].Chunk.ID != "chunk-1" {
		t.Errorf("expected chunk-1 as top result, got %s", results[0].Chunk.ID)
	}
	if results[0].Score < 0.9 {
		t.Errorf("expected near-perfect score for exact match, got %f", results[0].Score)
	}
}

func TestHNSWStoreSearchEmpty(t *testing.T) {
	s := newTestStore(t)

	results, err := s.Search(context.Background(), []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results on empty store, got %d", len(results))
	}
}

func TestHNSWStoreDeleteByFile(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.SaveChunks(ctx, testChunks()); err != nil {
		t.Fatalf("SaveChunks failed: %v", err)
	}
	if err := s.SaveDocument(ctx, Document{
		Path:     "main.go",
		Hash:     "filehash",
		ModTime:  time.Now(),
		ChunkIDs: []string{"chunk-1", "chunk-2"},
	}); err != nil {
		t.Fatalf("SaveDocument failed: %v", err)
	}

	if err := s.DeleteByFile(ctx, "main.go"); err != nil {
		t.Fatalf("DeleteByFile failed: %v", err)
	}

	results, err := s.Search(ctx, []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	for _, r := range results {
		if r.Chunk.FilePath == "main.go" {
			t.Errorf("found chunk from deleted file: %s", r.Chunk.ID)
		}
	}
}

func TestHNSWStorePersistLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "vectors.idx")
	docsPath := filepath.Join(dir, "documents.gob")

	s1 := NewHNSWStore(indexPath, docsPath, 3)
	if err := s1.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := s1.SaveChunks(ctx, testChunks()); err != nil {
		t.Fatalf("SaveChunks failed: %v", err)
	}
	if err := s1.SaveDocument(ctx, Document{
		Path:     "main.go",
		Hash:     "filehash",
		ModTime:  time.Now(),
		ChunkIDs: []string{"chunk-1", "chunk-2"},
	}); err != nil {
		t.Fatalf("SaveDocument failed: %v", err)
	}
	if err := s1.Persist(ctx); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	s2 := NewHNSWStore(indexPath, docsPath, 3)
	if err := s2.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	doc, err := s2.GetDocument(ctx, "main.go")
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if doc == nil {
		t.Fatal("expected document after reload, got nil")
	}
	if len(doc.ChunkIDs) != 2 {
		t.Errorf("expected 2 chunk IDs, got %d", len(doc.ChunkIDs))
	}

	results, err := s2.Search(ctx, []float32{0, 1, 0}, 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) == 0 || results[0].Chunk.ID != "chunk-2" {
		t.Errorf("expected chunk-2 after reload, got %+v", results)
	}

	stats, err := s2.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TotalChunks != 3 {
		t.Errorf("expected 3 chunks, got %d", stats.TotalChunks)
	}
	if stats.TotalFiles != 1 {
		t.Errorf("expected 1 file, got %d", stats.TotalFiles)
	}
}

func TestHNSWStoreClear(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.SaveChunks(ctx, testChunks()); err != nil {
		t.Fatalf("SaveChunks failed: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TotalChunks != 0 {
		t.Errorf("expected empty store after clear, got %d chunks", stats.TotalChunks)
	}

	paths, err := s.ListDocuments(ctx)
	if err != nil {
		t.Fatalf("ListDocuments failed: %v", err)
	}
	if len(paths) != 0 {
		t.Errorf("expected no documents after clear, got %d", len(paths))
	}
}
