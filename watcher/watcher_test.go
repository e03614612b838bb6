package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func startWatcher(t *testing.T, root string) *Watcher {
	t.Helper()
	w, err := New(root, nil, 50*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func waitBatch(t *testing.T, w *Watcher) []FileEvent {
	t.Helper()
	select {
	case batch := <-w.Batches():
		return batch
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event batch")
		return nil
	}
}

func TestWatcherDeliversBatch(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	if err := os.WriteFile(filepath.Join(root, "a.go"), []byte("package a\n"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	batch := waitBatch(t, w)
	if len(batch) == 0 {
		t.Fatal("expected events in batch")
	}
	found := false
	for _, ev := range batch {
		if ev.Path == "a.go" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected event for a.go, got %+v", batch)
	}
}

func TestWatcherCoalescesBurst(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	path := filepath.Join(root, "b.go")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("package b\n"), 0644); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	batch := waitBatch(t, w)
	count := 0
	for _, ev := range batch {
		if ev.Path == "b.go" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected burst to coalesce to 1 event, got %d", count)
	}
}

func TestWatcherIgnoresUnsupported(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	if err := os.WriteFile(filepath.Join(root, "photo.jpg"), []byte{1, 2, 3}, 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "c.go"), []byte("package c\n"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	batch := waitBatch(t, w)
	for _, ev := range batch {
		if ev.Path == "photo.jpg" {
			t.Error("unsupported file must not produce events")
		}
	}
}
