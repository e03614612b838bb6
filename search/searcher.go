// Package search runs queries against the vector and fulltext indexes
// and merges their rankings.
package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/avillela/seekd/config"
	"github.com/avillela/seekd/embedder"
	"github.com/avillela/seekd/fulltext"
	"github.com/avillela/seekd/store"
)

// Mode selects which index (or combination) answers a query.
type Mode string

const (
	ModeSemantic Mode = "semantic"
	ModeFulltext Mode = "fulltext"
	ModeHybrid   Mode = "hybrid"
)

type Options struct {
	Mode  Mode
	Limit int
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = ModeSemantic
	}
	if o.Limit <= 0 {
		o.Limit = 10
	}
	return o
}

// Searcher answers queries for one project. The fulltext index may be
// nil, in which case fulltext and hybrid queries degrade to semantic.
type Searcher struct {
	store    store.VectorStore
	fulltext *fulltext.Index
	embedder embedder.Embedder
	cfg      config.SearchConfig
}

func NewSearcher(st store.VectorStore, ft *fulltext.Index, emb embedder.Embedder, cfg config.SearchConfig) *Searcher {
	return &Searcher{store: st, fulltext: ft, embedder: emb, cfg: cfg}
}

// Search dispatches a query according to its options.
func (s *Searcher) Search(ctx context.Context, query string, opts Options) ([]store.SearchResult, error) {
	opts = opts.withDefaults()

	switch opts.Mode {
	case ModeSemantic:
		return s.Semantic(ctx, query, opts.Limit)
	case ModeFulltext:
		return s.Fulltext(ctx, query, opts.Limit)
	case ModeHybrid:
		return s.Hybrid(ctx, query, opts.Limit)
	default:
		return nil, fmt.Errorf("unknown search mode: %s", opts.Mode)
	}
}

// Semantic embeds the query and ranks chunks by vector similarity, with
// configured path boosts applied.
func (s *Searcher) Semantic(ctx context.Context, query string, limit int) ([]store.SearchResult, error) {
	queryVector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	// Over-fetch so boosting can promote results from beyond the cut.
	fetchLimit := limit * 3
	results, err := s.store.Search(ctx, queryVector, fetchLimit)
	if err != nil {
		return nil, err
	}

	results = s.applyBoost(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Fulltext ranks chunks by keyword relevance.
func (s *Searcher) Fulltext(ctx context.Context, query string, limit int) ([]store.SearchResult, error) {
	if s.fulltext == nil {
		return s.Semantic(ctx, query, limit)
	}
	return s.fulltext.Search(ctx, query, limit)
}

// Hybrid merges the semantic and fulltext rankings with reciprocal rank
// fusion. Ties break by file path, then start line, so results are
// stable across runs.
func (s *Searcher) Hybrid(ctx context.Context, query string, limit int) ([]store.SearchResult, error) {
	if s.fulltext == nil {
		return s.Semantic(ctx, query, limit)
	}

	semantic, err := s.Semantic(ctx, query, limit*2)
	if err != nil {
		return nil, err
	}
	keyword, err := s.fulltext.Search(ctx, query, limit*2)
	if err != nil {
		return nil, err
	}

	return MergeRRF(semantic, keyword, s.cfg.Hybrid.K, limit), nil
}

// MergeRRF fuses two rankings with reciprocal rank fusion: each result
// scores 1/(k+rank+1) per list it appears in, summed across lists. Ties
// break by file path, then start line, so results are stable.
func MergeRRF(semantic, keyword []store.SearchResult, k float32, limit int) []store.SearchResult {
	if k <= 0 {
		k = 60
	}

	type fused struct {
		result store.SearchResult
		score  float32
	}
	merged := make(map[string]*fused)

	key := func(c store.Chunk) string {
		if c.ID != "" {
			return c.ID
		}
		return fmt.Sprintf("%s:%d", c.FilePath, c.StartLine)
	}

	for rank, r := range semantic {
		merged[key(r.Chunk)] = &fused{result: r, score: 1 / (k + float32(rank) + 1)}
	}
	for rank, r := range keyword {
		id := key(r.Chunk)
		if f, ok := merged[id]; ok {
			f.score += 1 / (k + float32(rank) + 1)
		} else {
			merged[id] = &fused{result: r, score: 1 / (k + float32(rank) + 1)}
		}
	}

	out := make([]store.SearchResult, 0, len(merged))
	for _, f := range merged {
		r := f.result
		r.Score = f.score
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Chunk.FilePath != out[j].Chunk.FilePath {
			return out[i].Chunk.FilePath < out[j].Chunk.FilePath
		}
		return out[i].Chunk.StartLine < out[j].Chunk.StartLine
	})

	if len(out) > limit && limit > 0 {
		out = out[:limit]
	}
	return out
}

// applyBoost rescales scores by the configured path penalties and
// bonuses, then re-sorts.
func (s *Searcher) applyBoost(results []store.SearchResult) []store.SearchResult {
	if !s.cfg.Boost.Enabled {
		return results
	}

	for i := range results {
		path := filepathForMatch(results[i].Chunk.FilePath)
		for _, rule := range s.cfg.Boost.Penalties {
			if strings.Contains(path, rule.Pattern) {
				results[i].Score *= rule.Factor
			}
		}
		for _, rule := range s.cfg.Boost.Bonuses {
			if strings.Contains(path, rule.Pattern) {
				results[i].Score *= rule.Factor
			}
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Chunk.FilePath != results[j].Chunk.FilePath {
			return results[i].Chunk.FilePath < results[j].Chunk.FilePath
		}
		return results[i].Chunk.StartLine < results[j].Chunk.StartLine
	})

	return results
}

// filepathForMatch frames a path with slashes so directory patterns
// like "/tests/" match at the start and end of the path too.
func filepathForMatch(path string) string {
	return "/" + strings.Trim(strings.ReplaceAll(path, "\\", "/"), "/") + "/"
}

// Fingerprint identifies a (project, query, options) triple. Identical
// queries share a fingerprint, which makes it usable as a cache key.
func Fingerprint(projectRoot, query string, opts Options) string {
	opts = opts.withDefaults()
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d", projectRoot, query, opts.Mode, opts.Limit)
	return hex.EncodeToString(h.Sum(nil))
}
