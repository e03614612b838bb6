package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantStore keeps chunks in a Qdrant collection. Document metadata lives in
// a sibling collection with placeholder vectors, since Qdrant has no
// vector-less storage.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	docsColl   string
	dims       int
}

func NewQdrantStore(ctx context.Context, host string, port int, collection, apiKey string, useTLS bool, dims int) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	if collection == "" {
		collection = "seekd"
	}

	s := &QdrantStore{
		client:     client,
		collection: collection,
		docsColl:   collection + "_documents",
		dims:       dims,
	}
	if err := s.ensureCollections(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	return s, nil
}

func (s *QdrantStore) ensureCollections(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.dims),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	}

	exists, err = s.client.CollectionExists(ctx, s.docsColl)
	if err != nil {
		return fmt.Errorf("failed to check documents collection: %w", err)
	}
	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.docsColl,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     1,
				Distance: qdrant.Distance_Dot,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create documents collection: %w", err)
		}
	}

	return nil
}

// docPointID derives a stable point ID from a file path.
func docPointID(path string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(path)).String())
}

func (s *QdrantStore) SaveChunks(ctx context.Context, chunks []Chunk) error {
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(c.ID),
			Vectors: qdrant.NewVectors(c.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"file_path":  c.FilePath,
				"start_line": int64(c.StartLine),
				"end_line":   int64(c.EndLine),
				"content":    c.Content,
				"hash":       c.Hash,
				"updated_at": c.UpdatedAt.Format(time.RFC3339Nano),
			}),
		})
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}
	return nil
}

func (s *QdrantStore) DeleteByFile(ctx context.Context, filePath string) error {
	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("file_path", filePath),
			},
		}),
		Wait: &wait,
	})
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

func (s *QdrantStore) Search(ctx context.Context, queryVector []float32, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	lim := uint64(limit)
	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(queryVector...),
		Limit:          &lim,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("search query failed: %w", err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		chunk := chunkFromPayload(hit.Payload)
		if id := hit.Id.GetUuid(); id != "" {
			chunk.ID = id
		}
		results = append(results, SearchResult{Chunk: chunk, Score: hit.Score})
	}

	return results, nil
}

func chunkFromPayload(payload map[string]*qdrant.Value) Chunk {
	var c Chunk
	if v, ok := payload["file_path"]; ok {
		c.FilePath = v.GetStringValue()
	}
	if v, ok := payload["start_line"]; ok {
		c.StartLine = int(v.GetIntegerValue())
	}
	if v, ok := payload["end_line"]; ok {
		c.EndLine = int(v.GetIntegerValue())
	}
	if v, ok := payload["content"]; ok {
		c.Content = v.GetStringValue()
	}
	if v, ok := payload["hash"]; ok {
		c.Hash = v.GetStringValue()
	}
	if v, ok := payload["updated_at"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v.GetStringValue()); err == nil {
			c.UpdatedAt = t
		}
	}
	return c
}

func (s *QdrantStore) GetDocument(ctx context.Context, filePath string) (*Document, error) {
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.docsColl,
		Ids:            []*qdrant.PointId{docPointID(filePath)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	if len(points) == 0 {
		return nil, nil
	}

	doc := documentFromPayload(points[0].Payload)
	return &doc, nil
}

func documentFromPayload(payload map[string]*qdrant.Value) Document {
	var doc Document
	if v, ok := payload["path"]; ok {
		doc.Path = v.GetStringValue()
	}
	if v, ok := payload["hash"]; ok {
		doc.Hash = v.GetStringValue()
	}
	if v, ok := payload["mod_time"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v.GetStringValue()); err == nil {
			doc.ModTime = t
		}
	}
	if v, ok := payload["chunk_ids"]; ok {
		for _, item := range v.GetListValue().GetValues() {
			doc.ChunkIDs = append(doc.ChunkIDs, item.GetStringValue())
		}
	}
	return doc
}

func (s *QdrantStore) SaveDocument(ctx context.Context, doc Document) error {
	chunkIDs := make([]any, 0, len(doc.ChunkIDs))
	for _, id := range doc.ChunkIDs {
		chunkIDs = append(chunkIDs, id)
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.docsColl,
		Points: []*qdrant.PointStruct{{
			Id:      docPointID(doc.Path),
			Vectors: qdrant.NewVectors(0),
			Payload: qdrant.NewValueMap(map[string]any{
				"path":      doc.Path,
				"hash":      doc.Hash,
				"mod_time":  doc.ModTime.Format(time.RFC3339Nano),
				"chunk_ids": chunkIDs,
			}),
		}},
		Wait: &wait,
	})
	if err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

func (s *QdrantStore) DeleteDocument(ctx context.Context, filePath string) error {
	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.docsColl,
		Points:         qdrant.NewPointsSelector(docPointID(filePath)),
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

func (s *QdrantStore) ListDocuments(ctx context.Context) ([]string, error) {
	var paths []string
	var offset *qdrant.PointId

	for {
		limit := uint32(256)
		points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.docsColl,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list documents: %w", err)
		}
		if len(points) == 0 {
			break
		}

		for _, p := range points {
			if v, ok := p.Payload["path"]; ok {
				paths = append(paths, v.GetStringValue())
			}
		}

		if len(points) < int(limit) {
			break
		}
		offset = points[len(points)-1].Id
	}

	return paths, nil
}

// Load is a no-op: Qdrant holds the data server-side.
func (s *QdrantStore) Load(ctx context.Context) error { return nil }

// Persist is a no-op: upserts are durable as they happen.
func (s *QdrantStore) Persist(ctx context.Context) error { return nil }

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func (s *QdrantStore) GetStats(ctx context.Context) (*IndexStats, error) {
	chunks, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}

	docs, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.docsColl,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}

	return &IndexStats{
		TotalFiles:  int(docs),
		TotalChunks: int(chunks),
	}, nil
}

func (s *QdrantStore) Clear(ctx context.Context) error {
	for _, coll := range []string{s.collection, s.docsColl} {
		if err := s.client.DeleteCollection(ctx, coll); err != nil {
			return fmt.Errorf("failed to delete collection %s: %w", coll, err)
		}
	}
	return s.ensureCollections(ctx)
}
