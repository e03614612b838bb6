package daemon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/avillela/seekd/config"
	"github.com/avillela/seekd/indexer"
	"github.com/avillela/seekd/search"
	"github.com/avillela/seekd/store"
)

// fakeStore is an in-memory VectorStore with canned search results.
// Setting searchErr makes every Search fail.
type fakeStore struct {
	results   []store.SearchResult
	searchErr error
	closed    atomic.Bool
}

func (f *fakeStore) SaveChunks(ctx context.Context, chunks []store.Chunk) error { return nil }
func (f *fakeStore) DeleteByFile(ctx context.Context, filePath string) error { return nil }
func (f *fakeStore) Search(ctx context.Context, queryVector []float32, limit int) ([]store.SearchResult, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if limit < len(f.results) {
		return f.results[:limit], nil
	}
	return f.results, nil
}
func (f *fakeStore) GetDocument(ctx context.Context, filePath string) (*store.Document, error) {
	return nil, nil
}
func (f *fakeStore) SaveDocument(ctx context.Context, doc store.Document) error { return nil }
func (f *fakeStore) DeleteDocument(ctx context.Context, filePath string) error { return nil }
func (f *fakeStore) ListDocuments(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeStore) Load(ctx context.Context) error { return nil }
func (f *fakeStore) Persist(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error { f.closed.Store(true); return nil }
func (f *fakeStore) GetStats(ctx context.Context) (*store.IndexStats, error) {
	return &store.IndexStats{TotalChunks: len(f.results)}, nil
}
func (f *fakeStore) Clear(ctx context.Context) error { return nil }

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}
func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}
func (fakeEmbedder) Dimensions() int { return 3 }
func (fakeEmbedder) Ping(ctx context.Context) error { return nil }
func (fakeEmbedder) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEntry builds a CacheEntry around a fakeStore, bypassing the
// on-disk load path.
func newTestEntry(t *testing.T, repositoryPath string, fs *fakeStore, ttl time.Duration) *CacheEntry {
	t.Helper()
	results, err := lru.New[string, []store.SearchResult](16)
	if err != nil {
		t.Fatalf("lru.New() error: %v", err)
	}
	emb := fakeEmbedder{}
	now := time.Now()
	return &CacheEntry{
		repositoryPath: repositoryPath,
		store:          fs,
		fulltextOK:     false,
		embedder:       emb,
		searcher:       search.NewSearcher(fs, nil, emb, config.SearchConfig{}),
		ttl:            ttl,
		lastAccessed:   now,
		createdAt:      now,
		lock:           newReentrantRWLock(),
		results:        results,
	}
}

// newTestService builds a Service whose collaborators are in-memory
// fakes. loadCalls counts how many times an entry was built.
func newTestService(t *testing.T, stores map[string]*fakeStore, loadCalls *atomic.Int32) *Service {
	t.Helper()
	svc := NewService(config.DaemonConfig{TTLMinutes: 10, EvictionIntervalSeconds: 60}, testLogger())
	svc.loadEntry = func(ctx context.Context, repositoryPath string) (*CacheEntry, error) {
		fs, ok := stores[repositoryPath]
		if !ok {
			return nil, ErrLoadFailure
		}
		if loadCalls != nil {
			loadCalls.Add(1)
		}
		return newTestEntry(t, repositoryPath, fs, 10*time.Minute), nil
	}
	svc.runIndex = func(ctx context.Context, repositoryPath string) (*indexer.Stats, error) {
		return &indexer.Stats{}, nil
	}
	svc.clearData = func(ctx context.Context, repositoryPath string) error { return nil }
	svc.watchLoop = func(ctx context.Context, repositoryPath string) error {
		<-ctx.Done()
		return nil
	}
	return svc
}

func someResults() []store.SearchResult {
	return []store.SearchResult{
		{Chunk: store.Chunk{ID: "c1", FilePath: "a.go", StartLine: 1, EndLine: 5}, Score: 0.9},
	}
}

func TestQueryLoadsOnceAndHitsResultCache(t *testing.T) {
	var loads atomic.Int32
	svc := newTestService(t, map[string]*fakeStore{"/repo": {results: someResults()}}, &loads)

	first, err := svc.Query(context.Background(), "/repo", "auth handler", search.Options{})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if first.CacheHit {
		t.Error("first query should not be a cache hit")
	}
	if len(first.Results) != 1 || first.Results[0].Chunk.ID != "c1" {
		t.Errorf("unexpected results: %+v", first.Results)
	}

	second, err := svc.Query(context.Background(), "/repo", "auth handler", search.Options{})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if !second.CacheHit {
		t.Error("identical query should hit the result cache")
	}

	// A different query misses the result cache but reuses the entry.
	third, err := svc.Query(context.Background(), "/repo", "db pool", search.Options{})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if third.CacheHit {
		t.Error("different query text should miss the result cache")
	}

	if got := loads.Load(); got != 1 {
		t.Errorf("loadEntry called %d times, want 1", got)
	}
}

func TestQueryReplacesSingleCacheSlot(t *testing.T) {
	var loads atomic.Int32
	storeA := &fakeStore{results: someResults()}
	storeB := &fakeStore{results: someResults()}
	svc := newTestService(t, map[string]*fakeStore{"/a": storeA, "/b": storeB}, &loads)

	if _, err := svc.Query(context.Background(), "/a", "q", search.Options{}); err != nil {
		t.Fatalf("Query(/a) error: %v", err)
	}
	if _, err := svc.Query(context.Background(), "/b", "q", search.Options{}); err != nil {
		t.Fatalf("Query(/b) error: %v", err)
	}

	if !storeA.closed.Load() {
		t.Error("first repository's store should be closed when the slot is replaced")
	}
	if storeB.closed.Load() {
		t.Error("second repository's store should remain open")
	}

	snap := svc.GetStatus()
	if !snap.Loaded || snap.RepositoryPath != "/b" {
		t.Errorf("cache snapshot = %+v, want /b loaded", snap)
	}
	if got := loads.Load(); got != 2 {
		t.Errorf("loadEntry called %d times, want 2", got)
	}
}

func TestQueryLoadFailureDoesNotKillService(t *testing.T) {
	svc := newTestService(t, map[string]*fakeStore{"/repo": {results: someResults()}}, nil)

	if _, err := svc.Query(context.Background(), "/missing", "q", search.Options{}); !errors.Is(err, ErrLoadFailure) {
		t.Fatalf("Query(/missing) error = %v, want ErrLoadFailure", err)
	}

	// The service keeps answering for repositories that do load.
	if _, err := svc.Query(context.Background(), "/repo", "q", search.Options{}); err != nil {
		t.Fatalf("Query(/repo) after failure error: %v", err)
	}
}

func TestQueryFulltextUnavailableDegrades(t *testing.T) {
	svc := newTestService(t, map[string]*fakeStore{"/repo": {results: someResults()}}, nil)

	res, err := svc.Query(context.Background(), "/repo", "q", search.Options{Mode: search.ModeFulltext})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if res.FulltextAvailable {
		t.Error("FulltextAvailable should be false")
	}
	if len(res.Results) != 0 {
		t.Errorf("expected empty results, got %d", len(res.Results))
	}
}

func TestReindexRejectsConcurrentRun(t *testing.T) {
	svc := newTestService(t, map[string]*fakeStore{"/repo": {results: someResults()}}, nil)

	block := make(chan struct{})
	started := make(chan struct{})
	svc.runIndex = func(ctx context.Context, repositoryPath string) (*indexer.Stats, error) {
		close(started)
		<-block
		return &indexer.Stats{}, nil
	}

	status, err := svc.Reindex("/repo")
	if err != nil {
		t.Fatalf("Reindex() error: %v", err)
	}
	if status != StatusStarted {
		t.Fatalf("first Reindex status = %q, want %q", status, StatusStarted)
	}
	<-started

	status, err = svc.Reindex("/repo")
	if err != nil {
		t.Fatalf("second Reindex() error: %v", err)
	}
	if status != StatusAlreadyRunning {
		t.Fatalf("second Reindex status = %q, want %q", status, StatusAlreadyRunning)
	}

	close(block)
	waitForIndexingDone(t, svc)

	status, err = svc.Reindex("/repo")
	if err != nil {
		t.Fatalf("third Reindex() error: %v", err)
	}
	if status != StatusStarted {
		t.Fatalf("Reindex after completion status = %q, want %q", status, StatusStarted)
	}
	waitForIndexingDone(t, svc)
}

func waitForIndexingDone(t *testing.T, svc *Service) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		svc.taskMu.Lock()
		alive := svc.indexingTask.IsAlive()
		svc.taskMu.Unlock()
		if !alive {
			return
		}
		select {
		case <-deadline:
			t.Fatal("indexing task did not finish")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestReindexInvalidatesBeforeAndAfter(t *testing.T) {
	svc := newTestService(t, map[string]*fakeStore{"/repo": {results: someResults()}}, nil)

	// Warm the slot.
	if _, err := svc.Query(context.Background(), "/repo", "q", search.Options{}); err != nil {
		t.Fatalf("Query() error: %v", err)
	}

	loadedDuringRun := make(chan bool, 1)
	svc.runIndex = func(ctx context.Context, repositoryPath string) (*indexer.Stats, error) {
		loadedDuringRun <- svc.GetStatus().Loaded
		return &indexer.Stats{}, nil
	}

	if _, err := svc.Reindex("/repo"); err != nil {
		t.Fatalf("Reindex() error: %v", err)
	}
	if <-loadedDuringRun {
		t.Error("cache entry should be invalidated before indexing runs")
	}
	waitForIndexingDone(t, svc)

	if svc.GetStatus().Loaded {
		t.Error("cache entry should be invalidated after indexing finishes")
	}
}

func TestCleanInvalidatesAndClearsData(t *testing.T) {
	svc := newTestService(t, map[string]*fakeStore{"/repo": {results: someResults()}}, nil)

	var cleared atomic.Int32
	svc.clearData = func(ctx context.Context, repositoryPath string) error {
		cleared.Add(1)
		return nil
	}

	if _, err := svc.Query(context.Background(), "/repo", "q", search.Options{}); err != nil {
		t.Fatalf("Query() error: %v", err)
	}

	status, err := svc.Clean(context.Background(), "/repo")
	if err != nil {
		t.Fatalf("Clean() error: %v", err)
	}
	if status != StatusOK {
		t.Errorf("Clean status = %q, want %q", status, StatusOK)
	}
	if cleared.Load() != 1 {
		t.Errorf("clearData called %d times, want 1", cleared.Load())
	}
	if svc.GetStatus().Loaded {
		t.Error("cache entry should be dropped by Clean")
	}
}

func TestCleanDoesNotBlockQueriesDuringWipe(t *testing.T) {
	svc := newTestService(t, map[string]*fakeStore{"/repo": {results: someResults()}}, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	svc.clearData = func(ctx context.Context, repositoryPath string) error {
		close(started)
		<-release
		return nil
	}

	// Warm the slot so Clean has something to invalidate.
	if _, err := svc.Query(context.Background(), "/repo", "q", search.Options{}); err != nil {
		t.Fatalf("Query() error: %v", err)
	}

	cleanDone := make(chan error, 1)
	go func() {
		_, err := svc.Clean(context.Background(), "/repo")
		cleanDone <- err
	}()
	<-started

	// The wipe is still running; a query must not wait for it.
	queryDone := make(chan error, 1)
	go func() {
		_, err := svc.Query(context.Background(), "/repo", "q", search.Options{})
		queryDone <- err
	}()
	select {
	case err := <-queryDone:
		if err != nil {
			t.Fatalf("Query() during clean error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("query blocked while clean was wiping data")
	}

	close(release)
	if err := <-cleanDone; err != nil {
		t.Fatalf("Clean() error: %v", err)
	}
	// The entry the mid-wipe query loaded came from the data being
	// wiped; the post-invalidation must have dropped it.
	if svc.GetStatus().Loaded {
		t.Error("cache entry should be dropped after clean finishes")
	}
}

func TestFailedSearchDoesNotRefreshTTL(t *testing.T) {
	fs := &fakeStore{results: someResults()}
	svc := newTestService(t, map[string]*fakeStore{"/repo": fs}, nil)

	if _, err := svc.Query(context.Background(), "/repo", "q", search.Options{}); err != nil {
		t.Fatalf("Query() error: %v", err)
	}

	// Backdate the entry, then make the next search fail.
	past := time.Now().Add(-5 * time.Minute)
	svc.cacheMu.Lock()
	entry := svc.entry
	entry.lastAccessed = past
	svc.cacheMu.Unlock()
	fs.searchErr = errors.New("store offline")

	if _, err := svc.Query(context.Background(), "/repo", "another query", search.Options{}); err == nil {
		t.Fatal("Query() should fail when the store does")
	}

	svc.cacheMu.Lock()
	after := entry.lastAccessed
	svc.cacheMu.Unlock()
	if !after.Equal(past) {
		t.Error("failed query refreshed the TTL")
	}

	// A successful query does refresh it.
	fs.searchErr = nil
	if _, err := svc.Query(context.Background(), "/repo", "another query", search.Options{}); err != nil {
		t.Fatalf("Query() after recovery error: %v", err)
	}
	svc.cacheMu.Lock()
	after = entry.lastAccessed
	svc.cacheMu.Unlock()
	if !after.After(past) {
		t.Error("successful query should refresh the TTL")
	}
}

func TestEvictExpiredRespectsTTL(t *testing.T) {
	svc := newTestService(t, map[string]*fakeStore{"/repo": {results: someResults()}}, nil)

	if _, err := svc.Query(context.Background(), "/repo", "q", search.Options{}); err != nil {
		t.Fatalf("Query() error: %v", err)
	}

	// Accessed just now: a pass inside the TTL window must not evict.
	evicted, err := svc.evictExpired(time.Now().Add(9 * time.Minute))
	if err != nil {
		t.Fatalf("evictExpired() error: %v", err)
	}
	if evicted {
		t.Error("entry accessed within TTL was evicted")
	}
	if !svc.GetStatus().Loaded {
		t.Fatal("entry should still be loaded")
	}

	evicted, err = svc.evictExpired(time.Now().Add(11 * time.Minute))
	if err != nil {
		t.Fatalf("evictExpired() error: %v", err)
	}
	if !evicted {
		t.Error("entry idle past TTL was not evicted")
	}
	if svc.GetStatus().Loaded {
		t.Error("entry should be unloaded after eviction")
	}
}

func TestWatchLifecycle(t *testing.T) {
	svc := newTestService(t, map[string]*fakeStore{"/repo": {results: someResults()}}, nil)

	status, err := svc.WatchStart("/repo")
	if err != nil {
		t.Fatalf("WatchStart() error: %v", err)
	}
	if status != StatusStarted {
		t.Fatalf("WatchStart status = %q, want %q", status, StatusStarted)
	}

	status, err = svc.WatchStart("/repo")
	if err != nil {
		t.Fatalf("second WatchStart() error: %v", err)
	}
	if status != StatusAlreadyRunning {
		t.Fatalf("second WatchStart status = %q, want %q", status, StatusAlreadyRunning)
	}

	if ws := svc.WatchStatus(); !ws.Running {
		t.Error("WatchStatus should report running")
	}

	stop := svc.WatchStop("/repo")
	if stop.Status != StatusStopped {
		t.Fatalf("WatchStop status = %q, want %q", stop.Status, StatusStopped)
	}
	if stop.Stats == nil {
		t.Error("WatchStop should return stats for a stopped watch")
	}

	if again := svc.WatchStop("/repo"); again.Status != StatusNotRunning {
		t.Errorf("WatchStop on idle watch = %q, want %q", again.Status, StatusNotRunning)
	}

	// The slot is free again.
	status, err = svc.WatchStart("/repo")
	if err != nil {
		t.Fatalf("WatchStart after stop error: %v", err)
	}
	if status != StatusStarted {
		t.Fatalf("WatchStart after stop status = %q, want %q", status, StatusStarted)
	}
	svc.WatchStop("/repo")
}

func TestShutdownRejectsNewWork(t *testing.T) {
	svc := newTestService(t, map[string]*fakeStore{"/repo": {results: someResults()}}, nil)
	svc.Start()

	if _, err := svc.Query(context.Background(), "/repo", "q", search.Options{}); err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if _, err := svc.WatchStart("/repo"); err != nil {
		t.Fatalf("WatchStart() error: %v", err)
	}

	svc.Shutdown()

	select {
	case <-svc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done() not closed after Shutdown")
	}

	if _, err := svc.Reindex("/repo"); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Reindex after shutdown error = %v, want ErrShuttingDown", err)
	}
	if _, err := svc.WatchStart("/repo"); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("WatchStart after shutdown error = %v, want ErrShuttingDown", err)
	}
	if svc.GetStatus().Loaded {
		t.Error("cache entry should be dropped on shutdown")
	}

	// Idempotent.
	svc.Shutdown()
}

func TestEvictionSupervisorShutsDownIdleDaemon(t *testing.T) {
	svc := NewService(config.DaemonConfig{TTLMinutes: 10, ShutdownOnIdle: true}, testLogger())
	svc.evictor = newEvictionSupervisor(svc, 10*time.Millisecond, true, testLogger())
	svc.Start()

	select {
	case <-svc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("idle daemon did not shut itself down")
	}
}

func TestStatusIncludesStorageStats(t *testing.T) {
	svc := newTestService(t, map[string]*fakeStore{"/repo": {results: someResults()}}, nil)

	if _, err := svc.Query(context.Background(), "/repo", "q", search.Options{}); err != nil {
		t.Fatalf("Query() error: %v", err)
	}

	st, err := svc.Status(context.Background(), "/repo")
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if !st.Cache.Loaded {
		t.Error("status should report the entry as loaded")
	}
	if st.Storage == nil || st.Storage.TotalChunks != 1 {
		t.Errorf("storage stats = %+v, want 1 chunk", st.Storage)
	}

	// A different path gets the cache view but no storage stats.
	other, err := svc.Status(context.Background(), "/other")
	if err != nil {
		t.Fatalf("Status(/other) error: %v", err)
	}
	if other.Storage != nil {
		t.Error("storage stats should be omitted for a repository that is not loaded")
	}
}
