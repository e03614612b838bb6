package indexer

import (
	"os"
	"path/filepath"
	"testing"
)

func TestScannerScan(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.go"), "package main\n")
	writeFile(t, filepath.Join(root, "sub", "util.py"), "def f(): pass\n")
	writeFile(t, filepath.Join(root, "image.png"), "not really a png")
	writeFile(t, filepath.Join(root, "node_modules", "dep.js"), "module.exports = {}\n")

	m, err := NewIgnoreMatcher(root, []string{"node_modules"})
	if err != nil {
		t.Fatalf("NewIgnoreMatcher failed: %v", err)
	}

	files, skipped, err := NewScanner(root, m).Scan()
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	got := make(map[string]FileInfo)
	for _, f := range files {
		got[f.Path] = f
	}

	if _, ok := got["main.go"]; !ok {
		t.Error("expected main.go to be scanned")
	}
	if _, ok := got["sub/util.py"]; !ok {
		t.Error("expected sub/util.py to be scanned")
	}
	if _, ok := got["node_modules/dep.js"]; ok {
		t.Error("node_modules must be pruned")
	}

	foundSkipped := false
	for _, s := range skipped {
		if s == "image.png" {
			foundSkipped = true
		}
	}
	if !foundSkipped {
		t.Error("expected image.png in skipped list")
	}

	if got["main.go"].Hash == "" {
		t.Error("expected content hash to be set")
	}
	if got["main.go"].Content != "package main\n" {
		t.Errorf("unexpected content: %q", got["main.go"].Content)
	}
}

func TestScannerSkipsBinary(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "blob.txt"), []byte{'a', 0, 'b'}, 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	files, skipped, err := NewScanner(root, nil).Scan()
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("expected binary file to be skipped, got %d files", len(files))
	}
	if len(skipped) != 1 {
		t.Errorf("expected 1 skipped file, got %d", len(skipped))
	}
}

func TestIsSupported(t *testing.T) {
	cases := map[string]bool{
		"main.go":      true,
		"app.TS":       true,
		"Makefile":     true,
		"photo.jpg":    false,
		"archive.tar":  false,
		"sub/query.sql": true,
	}
	for path, want := range cases {
		if got := IsSupported(path); got != want {
			t.Errorf("IsSupported(%q) = %v, want %v", path, got, want)
		}
	}
}
