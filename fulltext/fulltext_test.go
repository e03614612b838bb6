package fulltext

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/avillela/seekd/store"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(filepath.Join(t.TempDir(), "fulltext.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func seedChunks(t *testing.T, ix *Index) {
	t.Helper()
	now := time.Now()
	err := ix.SaveChunks(context.Background(), []store.Chunk{
		{
			ID:        "c1",
			FilePath:  "auth/login.go",
			StartLine: 1,
			EndLine:   20,
			Content:   "func Login(username, password string) error { return validateCredentials(username, password) }",
			Hash:      "h1",
			UpdatedAt: now,
		},
		{
			ID:        "c2",
			FilePath:  "auth/session.go",
			StartLine: 1,
			EndLine:   15,
			Content:   "func NewSession(userID string) *Session { return &Session{ID: userID} }",
			Hash:      "h2",
			UpdatedAt: now,
		},
		{
			ID:        "c3",
			FilePath:  "db/conn.go",
			StartLine: 1,
			EndLine:   10,
			Content:   "func Connect(dsn string) (*sql.DB, error) { return sql.Open(\"postgres\", dsn) }",
			Hash:      "h3",
			UpdatedAt: now,
		},
	})
	if err != nil {
		t.Fatalf("SaveChunks failed: %v", err)
	}
}

func TestSearchMatchesKeyword(t *testing.T) {
	ix := openTestIndex(t)
	seedChunks(t, ix)

	results, err := ix.Search(context.Background(), "password", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Chunk.ID != "c1" {
		t.Errorf("expected c1, got %s", results[0].Chunk.ID)
	}
	if results[0].Score <= 0 {
		t.Errorf("expected positive score, got %f", results[0].Score)
	}
}

func TestSearchSpecialCharacters(t *testing.T) {
	ix := openTestIndex(t)
	seedChunks(t, ix)

	// Raw FTS5 operators in user input must not break the query.
	for _, q := range []string{`"unbalanced`, `NEAR(`, `a AND`, `*`} {
		if _, err := ix.Search(context.Background(), q, 5); err != nil {
			t.Errorf("Search(%q) failed: %v", q, err)
		}
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	ix := openTestIndex(t)
	seedChunks(t, ix)

	results, err := ix.Search(context.Background(), "   ", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results for blank query, got %d", len(results))
	}
}

func TestDeleteByFile(t *testing.T) {
	ctx := context.Background()
	ix := openTestIndex(t)
	seedChunks(t, ix)

	if err := ix.DeleteByFile(ctx, "auth/login.go"); err != nil {
		t.Fatalf("DeleteByFile failed: %v", err)
	}

	results, err := ix.Search(ctx, "password", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results after delete, got %d", len(results))
	}

	n, err := ix.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 chunks after delete, got %d", n)
	}
}

func TestSaveChunksUpsert(t *testing.T) {
	ctx := context.Background()
	ix := openTestIndex(t)
	seedChunks(t, ix)

	err := ix.SaveChunks(ctx, []store.Chunk{{
		ID:        "c1",
		FilePath:  "auth/login.go",
		StartLine: 1,
		EndLine:   25,
		Content:   "func Login(token string) error { return validateToken(token) }",
		Hash:      "h1b",
		UpdatedAt: time.Now(),
	}})
	if err != nil {
		t.Fatalf("SaveChunks failed: %v", err)
	}

	// Old content is gone from the index.
	results, err := ix.Search(ctx, "password", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected stale content to be replaced, got %d results", len(results))
	}

	results, err = ix.Search(ctx, "validateToken", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.ID != "c1" {
		t.Errorf("expected updated c1, got %+v", results)
	}
}
