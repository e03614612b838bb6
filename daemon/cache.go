package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/avillela/seekd/config"
	"github.com/avillela/seekd/embedder"
	"github.com/avillela/seekd/fulltext"
	"github.com/avillela/seekd/search"
	"github.com/avillela/seekd/store"
)

// CacheEntry holds one repository's loaded indexes. Loading the vector
// index from disk is the expensive step the daemon amortizes; while an
// entry is live, queries against the same repository skip it entirely.
//
// At most one entry exists at a time. An entry is never repointed at a
// different repository: a request for another path destroys this entry
// and builds a fresh one.
type CacheEntry struct {
	repositoryPath string

	store      store.VectorStore
	fulltext   *fulltext.Index
	fulltextOK bool
	embedder   embedder.Embedder
	searcher   *search.Searcher
	searchCfg  config.SearchConfig

	ttl          time.Duration
	lastAccessed time.Time
	createdAt    time.Time

	// lock arbitrates access to the index handles. Readers (queries)
	// share it and may nest; the watch task takes it exclusively while
	// applying incremental updates in place.
	lock *reentrantRWLock

	results *lru.Cache[string, []store.SearchResult]
	hits    uint64
	misses  uint64
}

// newCacheEntry loads the indexes for a repository. A vector index that
// fails to load fails the whole entry; a fulltext index that fails to
// open only degrades that capability.
func newCacheEntry(ctx context.Context, repositoryPath string, cfg *config.Config, logger *slog.Logger) (*CacheEntry, error) {
	st, err := store.NewFromConfig(ctx, cfg, repositoryPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadFailure, err)
	}
	if err := st.Load(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("%w: %v", ErrLoadFailure, err)
	}

	ft, err := fulltext.Open(config.GetFullTextPath(repositoryPath))
	fulltextOK := err == nil
	if err != nil {
		logger.Warn("fulltext index unavailable", "path", repositoryPath, "error", err)
		ft = nil
	}

	emb, err := embedder.NewFromConfig(cfg)
	if err != nil {
		if ft != nil {
			_ = ft.Close()
		}
		_ = st.Close()
		return nil, fmt.Errorf("%w: %v", ErrLoadFailure, err)
	}

	cacheSize := cfg.Daemon.ResultCacheSize
	if cacheSize <= 0 {
		cacheSize = 100
	}
	results, err := lru.New[string, []store.SearchResult](cacheSize)
	if err != nil {
		return nil, err
	}

	ttl := time.Duration(cfg.Daemon.TTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	now := time.Now()
	return &CacheEntry{
		repositoryPath: repositoryPath,
		store:          st,
		fulltext:       ft,
		fulltextOK:     fulltextOK,
		embedder:       emb,
		searcher:       search.NewSearcher(st, ft, emb, cfg.Search),
		searchCfg:      cfg.Search,
		ttl:            ttl,
		lastAccessed:   now,
		createdAt:      now,
		lock:           newReentrantRWLock(),
		results:        results,
	}, nil
}

// Touch marks the entry as recently used. Called on every successful
// query, under the service cache lock.
func (e *CacheEntry) Touch() {
	e.lastAccessed = time.Now()
}

// IsExpired reports whether the entry has idled past its TTL.
func (e *CacheEntry) IsExpired(now time.Time) bool {
	return now.Sub(e.lastAccessed) >= e.ttl
}

// TTLRemaining returns how long until the entry would expire.
func (e *CacheEntry) TTLRemaining(now time.Time) time.Duration {
	remaining := e.ttl - now.Sub(e.lastAccessed)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// CachedResults returns a previously computed result list for a query
// fingerprint, counting the hit or miss.
func (e *CacheEntry) CachedResults(fingerprint string) ([]store.SearchResult, bool) {
	results, ok := e.results.Get(fingerprint)
	if ok {
		e.hits++
	} else {
		e.misses++
	}
	return results, ok
}

// StoreResults caches a result list by fingerprint. The LRU bound
// evicts the least recently used list once capacity is reached.
func (e *CacheEntry) StoreResults(fingerprint string, results []store.SearchResult) {
	e.results.Add(fingerprint, results)
}

// PurgeResults drops all cached query results. Called when the watch
// task changes the underlying indexes in place.
func (e *CacheEntry) PurgeResults() {
	e.results.Purge()
}

func (e *CacheEntry) AcquireRead()  { e.lock.AcquireRead() }
func (e *CacheEntry) ReleaseRead()  { e.lock.ReleaseRead() }
func (e *CacheEntry) AcquireWrite() { e.lock.AcquireWrite() }
func (e *CacheEntry) ReleaseWrite() { e.lock.ReleaseWrite() }

// Close releases the entry's handles. After Close the entry must not be
// used; the service drops its reference before calling this.
func (e *CacheEntry) Close() error {
	var firstErr error
	if e.fulltext != nil {
		if err := e.fulltext.Close(); err != nil {
			firstErr = err
		}
	}
	if e.embedder != nil {
		if err := e.embedder.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := e.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
