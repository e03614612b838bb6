package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/avillela/seekd/store"
)

// stubEmbedder returns a fixed-direction vector per text length, enough
// to exercise the pipeline without a real provider.
type stubEmbedder struct {
	calls int
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := []float32{0, 0, 0}
		v[len(text)%3] = 1
		out[i] = v
	}
	return out, nil
}

func (e *stubEmbedder) Dimensions() int                { return 3 }
func (e *stubEmbedder) Ping(ctx context.Context) error { return nil }
func (e *stubEmbedder) Close() error                   { return nil }

func newTestIndexer(t *testing.T, root string) (*Indexer, *stubEmbedder) {
	t.Helper()

	dataDir := t.TempDir()
	st := store.NewHNSWStore(
		filepath.Join(dataDir, "vectors.idx"),
		filepath.Join(dataDir, "documents.gob"),
		3,
	)
	if err := st.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	emb := &stubEmbedder{}
	idx := New(root, st, nil, emb,
		NewChunker(512, 50),
		NewScanner(root, nil),
		nil)
	return idx, emb
}

func TestIndexAll(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.go"), "package main\n\nfunc main() {}\n")
	writeFile(t, filepath.Join(root, "util.go"), "package main\n\nfunc util() {}\n")

	idx, _ := newTestIndexer(t, root)

	stats, err := idx.IndexAll(ctx, nil)
	if err != nil {
		t.Fatalf("IndexAll failed: %v", err)
	}
	if stats.FilesIndexed != 2 {
		t.Errorf("expected 2 files indexed, got %d", stats.FilesIndexed)
	}
	if stats.ChunksCreated == 0 {
		t.Error("expected chunks to be created")
	}
}

func TestIndexAllSkipsUnchanged(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.go"), "package main\n")

	idx, emb := newTestIndexer(t, root)

	if _, err := idx.IndexAll(ctx, nil); err != nil {
		t.Fatalf("IndexAll failed: %v", err)
	}
	callsAfterFirst := emb.calls

	stats, err := idx.IndexAll(ctx, nil)
	if err != nil {
		t.Fatalf("IndexAll failed: %v", err)
	}
	if stats.FilesIndexed != 0 {
		t.Errorf("expected 0 files on unchanged reindex, got %d", stats.FilesIndexed)
	}
	if emb.calls != callsAfterFirst {
		t.Error("embedder must not be called for unchanged files")
	}
}

func TestIndexAllRemovesDeleted(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	path := filepath.Join(root, "gone.go")
	writeFile(t, path, "package main\n")

	idx, _ := newTestIndexer(t, root)

	if _, err := idx.IndexAll(ctx, nil); err != nil {
		t.Fatalf("IndexAll failed: %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	stats, err := idx.IndexAll(ctx, nil)
	if err != nil {
		t.Fatalf("IndexAll failed: %v", err)
	}
	if stats.FilesRemoved != 1 {
		t.Errorf("expected 1 file removed, got %d", stats.FilesRemoved)
	}
}
