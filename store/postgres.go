package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// PostgresStore stores chunks in Postgres with pgvector for similarity
// search. Rows are scoped by project so one database can serve multiple
// repositories.
type PostgresStore struct {
	pool      *pgxpool.Pool
	projectID string
	dims      int
}

func NewPostgresStore(ctx context.Context, dsn, projectID string, dims int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres DSN: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s := &PostgresStore{pool: pool, projectID: projectID, dims: dims}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS seekd_chunks (
			id TEXT PRIMARY KEY,
			project TEXT NOT NULL,
			file_path TEXT NOT NULL,
			start_line INT NOT NULL,
			end_line INT NOT NULL,
			content TEXT NOT NULL,
			hash TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			embedding vector(%d)
		)`, s.dims),
		`CREATE INDEX IF NOT EXISTS seekd_chunks_project_file_idx
			ON seekd_chunks (project, file_path)`,
		`CREATE TABLE IF NOT EXISTS seekd_documents (
			project TEXT NOT NULL,
			path TEXT NOT NULL,
			hash TEXT NOT NULL,
			mod_time TIMESTAMPTZ NOT NULL,
			chunk_ids TEXT[] NOT NULL,
			PRIMARY KEY (project, path)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveChunks(ctx context.Context, chunks []Chunk) error {
	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`INSERT INTO seekd_chunks
			(id, project, file_path, start_line, end_line, content, hash, updated_at, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				file_path = EXCLUDED.file_path,
				start_line = EXCLUDED.start_line,
				end_line = EXCLUDED.end_line,
				content = EXCLUDED.content,
				hash = EXCLUDED.hash,
				updated_at = EXCLUDED.updated_at,
				embedding = EXCLUDED.embedding`,
			c.ID, s.projectID, c.FilePath, c.StartLine, c.EndLine,
			c.Content, c.Hash, c.UpdatedAt, pgvector.NewVector(c.Vector))
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range chunks {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to save chunk: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) DeleteByFile(ctx context.Context, filePath string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM seekd_chunks WHERE project = $1 AND file_path = $2`,
		s.projectID, filePath)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

func (s *PostgresStore) Search(ctx context.Context, queryVector []float32, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, file_path, start_line, end_line, content, hash, updated_at,
			1 - (embedding <=> $2) AS score
		FROM seekd_chunks
		WHERE project = $1
		ORDER BY embedding <=> $2
		LIMIT $3`,
		s.projectID, pgvector.NewVector(queryVector), limit)
	if err != nil {
		return nil, fmt.Errorf("search query failed: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var score float64
		if err := rows.Scan(&r.Chunk.ID, &r.Chunk.FilePath, &r.Chunk.StartLine,
			&r.Chunk.EndLine, &r.Chunk.Content, &r.Chunk.Hash,
			&r.Chunk.UpdatedAt, &score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.Score = float32(score)
		results = append(results, r)
	}

	return results, rows.Err()
}

func (s *PostgresStore) GetDocument(ctx context.Context, filePath string) (*Document, error) {
	var doc Document
	err := s.pool.QueryRow(ctx,
		`SELECT path, hash, mod_time, chunk_ids FROM seekd_documents
		WHERE project = $1 AND path = $2`,
		s.projectID, filePath).Scan(&doc.Path, &doc.Hash, &doc.ModTime, &doc.ChunkIDs)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

func (s *PostgresStore) SaveDocument(ctx context.Context, doc Document) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO seekd_documents (project, path, hash, mod_time, chunk_ids)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (project, path) DO UPDATE SET
			hash = EXCLUDED.hash,
			mod_time = EXCLUDED.mod_time,
			chunk_ids = EXCLUDED.chunk_ids`,
		s.projectID, doc.Path, doc.Hash, doc.ModTime, doc.ChunkIDs)
	if err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, filePath string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM seekd_documents WHERE project = $1 AND path = $2`,
		s.projectID, filePath)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT path FROM seekd_documents WHERE project = $1`, s.projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// Load is a no-op: Postgres rows are always current.
func (s *PostgresStore) Load(ctx context.Context) error { return nil }

// Persist is a no-op: writes are durable as they happen.
func (s *PostgresStore) Persist(ctx context.Context) error { return nil }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetStats(ctx context.Context) (*IndexStats, error) {
	stats := &IndexStats{}

	err := s.pool.QueryRow(ctx,
		`SELECT count(*), coalesce(max(updated_at), 'epoch'::timestamptz)
		FROM seekd_chunks WHERE project = $1`, s.projectID).
		Scan(&stats.TotalChunks, &stats.LastUpdated)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`SELECT count(*) FROM seekd_documents WHERE project = $1`, s.projectID).
		Scan(&stats.TotalFiles)
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}

	if stats.LastUpdated.Equal(time.Unix(0, 0).UTC()) {
		stats.LastUpdated = time.Time{}
	}

	return stats, nil
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM seekd_chunks WHERE project = $1`, s.projectID); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM seekd_documents WHERE project = $1`, s.projectID); err != nil {
		return fmt.Errorf("failed to clear documents: %w", err)
	}
	return nil
}
