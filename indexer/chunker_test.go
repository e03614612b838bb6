package indexer

import (
	"strings"
	"testing"
)

func TestChunkSmallFile(t *testing.T) {
	c := NewChunker(512, 50)

	chunks := c.Chunk("main.go", "package main\n\nfunc main() {}\n")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].StartLine != 1 {
		t.Errorf("expected start line 1, got %d", chunks[0].StartLine)
	}
	if chunks[0].ID == "" || chunks[0].Hash == "" {
		t.Error("expected chunk ID and hash to be set")
	}
}

func TestChunkEmptyFile(t *testing.T) {
	c := NewChunker(512, 50)

	if chunks := c.Chunk("empty.go", "   \n\n"); chunks != nil {
		t.Errorf("expected no chunks for blank file, got %d", len(chunks))
	}
}

func TestChunkSplitsLargeFile(t *testing.T) {
	c := NewChunker(200, 0)

	var sb strings.Builder
	for i := 0; i < 100; i++ {
		sb.WriteString("line with some padding to fill space\n")
	}

	chunks := c.Chunk("big.txt", sb.String())
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	// Chunks must tile the file without gaps.
	for i := 1; i < len(chunks); i++ {
		if chunks[i].StartLine > chunks[i-1].EndLine+1 {
			t.Errorf("gap between chunk %d (ends %d) and %d (starts %d)",
				i-1, chunks[i-1].EndLine, i, chunks[i].StartLine)
		}
	}
	if chunks[len(chunks)-1].EndLine < 100 {
		t.Errorf("last chunk ends at %d, want 100", chunks[len(chunks)-1].EndLine)
	}
}

func TestChunkOverlap(t *testing.T) {
	c := NewChunker(200, 80)

	var sb strings.Builder
	for i := 0; i < 60; i++ {
		sb.WriteString("another reasonably sized line of text here\n")
	}

	chunks := c.Chunk("notes.txt", sb.String())
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].StartLine > chunks[i-1].EndLine {
			t.Errorf("expected chunk %d to overlap chunk %d", i, i-1)
		}
	}
}

func TestChunkGoDeclarationBoundaries(t *testing.T) {
	src := `package main

func first() {
	a := 1
	b := 2
	_ = a + b
}

func second() {
	x := "hello"
	_ = x
}

func third() {
	y := 42
	_ = y
}
`
	// Size forces a split; the cut should land on a func boundary.
	c := NewChunker(120, 0)
	chunks := c.Chunk("funcs.go", src)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	for i := 1; i < len(chunks); i++ {
		first := strings.SplitN(chunks[i].Content, "\n", 2)[0]
		trimmed := strings.TrimSpace(first)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "func ") && !strings.HasPrefix(trimmed, "package ") {
			t.Errorf("chunk %d starts mid-declaration: %q", i, first)
		}
	}
}
