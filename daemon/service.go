package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/avillela/seekd/config"
	"github.com/avillela/seekd/embedder"
	"github.com/avillela/seekd/fulltext"
	"github.com/avillela/seekd/indexer"
	"github.com/avillela/seekd/search"
	"github.com/avillela/seekd/store"
	"github.com/avillela/seekd/watcher"
)

// watchJoinTimeout bounds how long WatchStop and Shutdown wait for the
// watch goroutine. A task that misses the deadline is logged as a leak
// risk but never blocks the caller indefinitely.
const watchJoinTimeout = 5 * time.Second

// WatchStats accumulates what the watch task has applied so far.
type WatchStats struct {
	StartedAt      time.Time `json:"started_at"`
	Batches        int       `json:"batches"`
	FilesReindexed int       `json:"files_reindexed"`
	FilesRemoved   int       `json:"files_removed"`
}

// Service owns the single cache slot and the background task registry.
// All access to the slot goes through cacheMu; taskMu guards the task
// handles and is only ever taken while cacheMu is already held, or on
// its own — never the reverse order.
type Service struct {
	logger *slog.Logger
	dcfg   config.DaemonConfig

	cacheMu *reentrantMutex
	entry   *CacheEntry

	taskMu       sync.Mutex
	indexingTask *TaskHandle
	watchTask    *TaskHandle
	watchStats   *WatchStats

	evictor *EvictionSupervisor

	shutdownOnce sync.Once
	shutdownCh   chan struct{}

	// Collaborator seams. Production wiring is installed by NewService;
	// tests substitute lightweight fakes.
	loadEntry func(ctx context.Context, repositoryPath string) (*CacheEntry, error)
	runIndex  func(ctx context.Context, repositoryPath string) (*indexer.Stats, error)
	clearData func(ctx context.Context, repositoryPath string) error
	watchLoop func(ctx context.Context, repositoryPath string) error
}

func NewService(dcfg config.DaemonConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		logger:     logger,
		dcfg:       dcfg,
		cacheMu:    newReentrantMutex(),
		shutdownCh: make(chan struct{}),
	}
	s.loadEntry = s.defaultLoadEntry
	s.runIndex = s.defaultRunIndex
	s.clearData = s.defaultClearData
	s.watchLoop = s.defaultWatchLoop

	interval := time.Duration(dcfg.EvictionIntervalSeconds) * time.Second
	s.evictor = newEvictionSupervisor(s, interval, dcfg.ShutdownOnIdle, logger)

	return s
}

// Start launches the eviction supervisor.
func (s *Service) Start() {
	s.evictor.Start()
}

// Done is closed once Shutdown has completed.
func (s *Service) Done() <-chan struct{} {
	return s.shutdownCh
}

// ---- query path ----

// Query answers a search request, loading the repository's indexes if
// they are not already resident.
func (s *Service) Query(ctx context.Context, repositoryPath, text string, opts search.Options) (*QueryResult, error) {
	opts = normalizeOptions(opts)

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	entry, err := s.ensureLoaded(ctx, repositoryPath)
	if err != nil {
		return nil, err
	}

	if opts.Mode == search.ModeFulltext && !entry.fulltextOK {
		// Degraded capability, not an error.
		entry.Touch()
		return &QueryResult{Results: []store.SearchResult{}, FulltextAvailable: false}, nil
	}

	fingerprint := search.Fingerprint(repositoryPath, text, opts)
	if cached, ok := entry.CachedResults(fingerprint); ok {
		entry.Touch()
		return &QueryResult{Results: cached, FulltextAvailable: entry.fulltextOK, CacheHit: true}, nil
	}

	entry.AcquireRead()
	defer entry.ReleaseRead()

	results, err := s.runSearch(ctx, entry, text, opts)
	if err != nil {
		// A failed query does not refresh the TTL.
		return nil, err
	}
	if results == nil {
		results = []store.SearchResult{}
	}

	entry.Touch()
	entry.StoreResults(fingerprint, results)
	return &QueryResult{Results: results, FulltextAvailable: entry.fulltextOK}, nil
}

// runSearch executes a query against a loaded entry. It re-enters the
// entry's read lock: Query already holds it, and the reentrant
// semantics are what keep this nesting from deadlocking.
func (s *Service) runSearch(ctx context.Context, entry *CacheEntry, text string, opts search.Options) ([]store.SearchResult, error) {
	entry.AcquireRead()
	defer entry.ReleaseRead()

	if opts.Mode == search.ModeHybrid && entry.fulltextOK {
		return s.runHybrid(ctx, entry, text, opts.Limit)
	}
	return entry.searcher.Search(ctx, text, opts)
}

// runHybrid executes the semantic and fulltext legs concurrently and
// fuses the rankings.
func (s *Service) runHybrid(ctx context.Context, entry *CacheEntry, text string, limit int) ([]store.SearchResult, error) {
	var semantic, keyword []store.SearchResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := entry.searcher.Semantic(gctx, text, limit*2)
		semantic = r
		return err
	})
	g.Go(func() error {
		r, err := entry.searcher.Fulltext(gctx, text, limit*2)
		keyword = r
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return search.MergeRRF(semantic, keyword, entry.searchCfg.Hybrid.K, limit), nil
}

// ensureLoaded returns the cache entry for a repository, building one
// when the slot is empty or holds a different repository. Caller must
// hold cacheMu.
func (s *Service) ensureLoaded(ctx context.Context, repositoryPath string) (*CacheEntry, error) {
	if s.entry != nil && s.entry.repositoryPath == repositoryPath {
		return s.entry, nil
	}
	if s.entry != nil {
		s.dropEntryLocked("replaced by " + repositoryPath)
	}

	entry, err := s.loadEntry(ctx, repositoryPath)
	if err != nil {
		return nil, err
	}
	s.entry = entry
	s.logger.Info("loaded repository indexes", "path", repositoryPath)
	return entry, nil
}

// dropEntryLocked destroys the cache slot. Caller must hold cacheMu.
// The next access reloads from disk; nothing carries over.
func (s *Service) dropEntryLocked(reason string) {
	if s.entry == nil {
		return
	}
	entry := s.entry
	s.entry = nil
	entry.PurgeResults()
	if err := entry.Close(); err != nil {
		s.logger.Warn("failed to close cache entry", "path", entry.repositoryPath, "error", err)
	}
	s.logger.Info("cache entry invalidated", "path", entry.repositoryPath, "reason", reason)
}

// evictExpired drops the entry when it has idled past its TTL. Called
// by the eviction supervisor.
func (s *Service) evictExpired(now time.Time) (bool, error) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	if s.entry == nil || !s.entry.IsExpired(now) {
		return false, nil
	}
	s.dropEntryLocked("ttl expired")
	return true, nil
}

// isIdle reports whether nothing is loaded and no task is running.
func (s *Service) isIdle() bool {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.taskMu.Lock()
	defer s.taskMu.Unlock()

	return s.entry == nil && !s.indexingTask.IsAlive() && !s.watchTask.IsAlive()
}

// ---- mutating operations ----

// Reindex starts a background indexing run. The cache is invalidated
// before the run starts and again when it finishes, so no query can
// observe pre-reindex data once this call has returned.
func (s *Service) Reindex(repositoryPath string) (string, error) {
	select {
	case <-s.shutdownCh:
		return "", ErrShuttingDown
	default:
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	s.taskMu.Lock()
	if s.indexingTask.IsAlive() {
		s.taskMu.Unlock()
		return StatusAlreadyRunning, nil
	}

	s.dropEntryLocked("reindex starting")

	tctx, cancel := context.WithCancel(context.Background())
	handle := newTaskHandle(TaskIndexing, repositoryPath, cancel)
	s.indexingTask = handle
	s.taskMu.Unlock()

	go s.runIndexingTask(tctx, handle, repositoryPath)
	return StatusStarted, nil
}

func (s *Service) runIndexingTask(ctx context.Context, handle *TaskHandle, repositoryPath string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("indexing task panicked", "path", repositoryPath, "panic", r)
		}

		// Post-invalidation: a load may have raced in during the run.
		s.cacheMu.Lock()
		s.dropEntryLocked("reindex finished")
		s.taskMu.Lock()
		if s.indexingTask == handle {
			s.indexingTask = nil
		}
		s.taskMu.Unlock()
		s.cacheMu.Unlock()

		handle.finish()
	}()

	stats, err := s.runIndex(ctx, repositoryPath)
	if err != nil {
		s.logger.Error("indexing failed", "path", repositoryPath, "error", err)
		return
	}
	s.logger.Info("indexing finished",
		"path", repositoryPath,
		"files", stats.FilesIndexed,
		"chunks", stats.ChunksCreated,
		"removed", stats.FilesRemoved,
		"duration", stats.Duration)
}

// Clean clears a repository's stored index data. Synchronous: the
// caller blocks until the stores report completion. Same two-phase
// invalidation as Reindex, and like Reindex the cache lock is released
// for the wipe itself, so a slow backend never stalls queries.
func (s *Service) Clean(ctx context.Context, repositoryPath string) (string, error) {
	s.cacheMu.Lock()
	s.dropEntryLocked("clean starting")
	s.cacheMu.Unlock()

	err := s.clearData(ctx, repositoryPath)

	// Post-invalidation: a query may have repopulated the slot from the
	// data being wiped.
	s.cacheMu.Lock()
	s.dropEntryLocked("clean finished")
	s.cacheMu.Unlock()

	if err != nil {
		return "", err
	}
	return StatusOK, nil
}

// Status reports the cache view plus storage statistics for a
// repository. Does not mutate cache state.
func (s *Service) Status(ctx context.Context, repositoryPath string) (*StatusResult, error) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	result := &StatusResult{Cache: s.cacheSnapshotLocked()}

	if s.entry != nil && s.entry.repositoryPath == repositoryPath {
		stats, err := s.entry.store.GetStats(ctx)
		if err != nil {
			s.logger.Warn("failed to read storage stats", "error", err)
		} else {
			result.Storage = stats
		}
	}

	return result, nil
}

// GetStatus returns the cache snapshot alone.
func (s *Service) GetStatus() *CacheStatus {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	snap := s.cacheSnapshotLocked()
	return &snap
}

func (s *Service) cacheSnapshotLocked() CacheStatus {
	s.taskMu.Lock()
	indexing := s.indexingTask.IsAlive()
	watching := s.watchTask.IsAlive()
	s.taskMu.Unlock()

	snap := CacheStatus{
		IndexingRunning: indexing,
		WatchRunning:    watching,
	}
	if s.entry != nil {
		snap.Loaded = true
		snap.RepositoryPath = s.entry.repositoryPath
		snap.TTLRemainingSeconds = s.entry.TTLRemaining(time.Now()).Seconds()
		snap.Hits = s.entry.hits
		snap.Misses = s.entry.misses
		snap.CachedQueries = s.entry.results.Len()
		snap.FulltextAvailable = s.entry.fulltextOK
	}
	return snap
}

// ClearCache drops the cache entry without touching durable state.
func (s *Service) ClearCache() string {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.dropEntryLocked("explicit clear")
	return StatusOK
}

// ---- watch lifecycle ----

// WatchStart begins continuous reindex-on-change for a repository.
func (s *Service) WatchStart(repositoryPath string) (string, error) {
	select {
	case <-s.shutdownCh:
		return "", ErrShuttingDown
	default:
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	s.taskMu.Lock()
	if s.watchTask.IsAlive() {
		s.taskMu.Unlock()
		return StatusAlreadyRunning, nil
	}

	wctx, cancel := context.WithCancel(context.Background())
	handle := newTaskHandle(TaskWatch, repositoryPath, cancel)
	s.watchTask = handle
	s.watchStats = &WatchStats{StartedAt: time.Now()}
	s.taskMu.Unlock()

	go s.runWatchTask(wctx, handle, repositoryPath)
	return StatusStarted, nil
}

func (s *Service) runWatchTask(ctx context.Context, handle *TaskHandle, repositoryPath string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("watch task panicked", "path", repositoryPath, "panic", r)
		}
		handle.finish()
	}()

	if err := s.watchLoop(ctx, repositoryPath); err != nil && ctx.Err() == nil {
		s.logger.Error("watch task failed", "path", repositoryPath, "error", err)
	}
}

// WatchStop signals the watch task and joins it with a bounded timeout.
// Stopping a watch that is not running is not an error.
func (s *Service) WatchStop(repositoryPath string) *WatchStopResult {
	s.cacheMu.Lock()
	s.taskMu.Lock()
	handle := s.watchTask
	stats := s.watchStatsSnapshotLocked()
	s.taskMu.Unlock()
	s.cacheMu.Unlock()

	if !handle.IsAlive() {
		return &WatchStopResult{Status: StatusNotRunning}
	}

	// Join outside the cache lock: the watch loop needs cacheMu to
	// apply its final batch.
	if !handle.Stop(watchJoinTimeout) {
		s.logger.Warn("watch task did not stop within timeout, possible goroutine leak",
			"path", repositoryPath)
	}

	s.cacheMu.Lock()
	s.taskMu.Lock()
	stats = s.watchStatsSnapshotLocked()
	if s.watchTask == handle {
		s.watchTask = nil
	}
	s.taskMu.Unlock()
	s.cacheMu.Unlock()

	return &WatchStopResult{Status: StatusStopped, Stats: stats}
}

// WatchStatus reports whether a watch is running and its statistics.
func (s *Service) WatchStatus() *WatchStatusResult {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	return &WatchStatusResult{
		Running: s.watchTask.IsAlive(),
		Stats:   s.watchStatsSnapshotLocked(),
	}
}

// watchStatsSnapshotLocked copies the stats. Caller must hold taskMu.
func (s *Service) watchStatsSnapshotLocked() *WatchStats {
	if s.watchStats == nil {
		return nil
	}
	snap := *s.watchStats
	return &snap
}

// ---- shutdown ----

// Shutdown stops the watch task, drops the cache, and halts the
// eviction supervisor. Idempotent; Done() is closed when finished.
func (s *Service) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.logger.Info("daemon shutting down")

		s.taskMu.Lock()
		watch := s.watchTask
		indexing := s.indexingTask
		s.taskMu.Unlock()

		if watch.IsAlive() {
			if !watch.Stop(watchJoinTimeout) {
				s.logger.Warn("watch task did not stop within timeout")
			}
		}
		if indexing.IsAlive() {
			indexing.cancel()
		}

		s.cacheMu.Lock()
		s.dropEntryLocked("shutdown")
		s.cacheMu.Unlock()

		s.evictor.Stop()
		close(s.shutdownCh)
	})
}

// Ping confirms liveness.
func (s *Service) Ping() string {
	return StatusOK
}

func normalizeOptions(opts search.Options) search.Options {
	if opts.Mode == "" {
		opts.Mode = search.ModeSemantic
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	return opts
}

// ---- production collaborators ----

func (s *Service) defaultLoadEntry(ctx context.Context, repositoryPath string) (*CacheEntry, error) {
	cfg, err := config.Load(repositoryPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadFailure, err)
	}
	return newCacheEntry(ctx, repositoryPath, cfg, s.logger)
}

func (s *Service) defaultRunIndex(ctx context.Context, repositoryPath string) (*indexer.Stats, error) {
	cfg, err := config.Load(repositoryPath)
	if err != nil {
		return nil, err
	}

	st, err := store.NewFromConfig(ctx, cfg, repositoryPath)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	if err := st.Load(ctx); err != nil {
		return nil, err
	}

	ft, err := fulltext.Open(config.GetFullTextPath(repositoryPath))
	if err != nil {
		s.logger.Warn("fulltext index unavailable during reindex", "error", err)
		ft = nil
	} else {
		defer ft.Close()
	}

	emb, err := embedder.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	defer emb.Close()

	matcher, err := indexer.NewIgnoreMatcher(repositoryPath, cfg.Ignore)
	if err != nil {
		return nil, err
	}

	idx := indexer.New(repositoryPath, st, ft, emb,
		indexer.NewChunker(cfg.Chunking.Size, cfg.Chunking.Overlap),
		indexer.NewScanner(repositoryPath, matcher),
		s.logger)

	stats, err := idx.IndexAll(ctx, nil)
	if err != nil {
		return nil, err
	}
	if err := st.Persist(ctx); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *Service) defaultClearData(ctx context.Context, repositoryPath string) error {
	cfg, err := config.Load(repositoryPath)
	if err != nil {
		return err
	}

	st, err := store.NewFromConfig(ctx, cfg, repositoryPath)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Load(ctx); err != nil {
		return err
	}
	if err := st.Clear(ctx); err != nil {
		return err
	}

	ft, err := fulltext.Open(config.GetFullTextPath(repositoryPath))
	if err == nil {
		defer ft.Close()
		if err := ft.Clear(ctx); err != nil {
			return err
		}
	}

	return nil
}

// defaultWatchLoop runs the filesystem watcher and applies each
// debounced batch to the live cache entry.
func (s *Service) defaultWatchLoop(ctx context.Context, repositoryPath string) error {
	cfg, err := config.Load(repositoryPath)
	if err != nil {
		return err
	}

	matcher, err := indexer.NewIgnoreMatcher(repositoryPath, cfg.Ignore)
	if err != nil {
		return err
	}

	debounce := time.Duration(cfg.Watch.DebounceMs) * time.Millisecond
	w, err := watcher.New(repositoryPath, matcher, debounce, s.logger)
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Start(ctx); err != nil {
		return err
	}

	chunker := indexer.NewChunker(cfg.Chunking.Size, cfg.Chunking.Overlap)
	scanner := indexer.NewScanner(repositoryPath, matcher)

	for {
		select {
		case <-ctx.Done():
			return nil
		case batch := <-w.Batches():
			if len(batch) == 0 {
				continue
			}
			s.applyWatchBatch(ctx, repositoryPath, batch, chunker, scanner)
		}
	}
}

// applyWatchBatch installs a batch of file changes into the current
// cache entry in place, under its write lock. Queries already running
// finish against the old state; new queries see the update.
func (s *Service) applyWatchBatch(ctx context.Context, repositoryPath string, batch []watcher.FileEvent, chunker *indexer.Chunker, scanner *indexer.Scanner) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	entry, err := s.ensureLoaded(ctx, repositoryPath)
	if err != nil {
		s.logger.Error("watch update could not load indexes", "error", err)
		return
	}

	entry.AcquireWrite()
	defer entry.ReleaseWrite()

	idx := indexer.New(repositoryPath, entry.store, entry.fulltext, entry.embedder, chunker, scanner, s.logger)

	var reindexed, removed int
	for _, event := range batch {
		if ctx.Err() != nil {
			break
		}
		switch event.Type {
		case watcher.EventDelete, watcher.EventRename:
			if err := idx.RemoveFile(ctx, event.Path); err != nil {
				s.logger.Warn("watch remove failed", "path", event.Path, "error", err)
				continue
			}
			removed++
		default:
			file, ok, err := scanner.ReadFile(event.Path)
			if err != nil || !ok {
				// A create+delete burst can leave the path gone already.
				if err := idx.RemoveFile(ctx, event.Path); err == nil {
					removed++
				}
				continue
			}
			if _, err := idx.IndexFile(ctx, file); err != nil {
				s.logger.Warn("watch reindex failed", "path", event.Path, "error", err)
				continue
			}
			reindexed++
		}
	}

	if err := entry.store.Persist(ctx); err != nil {
		s.logger.Warn("failed to persist after watch update", "error", err)
	}

	// In-place mutation makes every cached result list suspect.
	entry.PurgeResults()
	entry.Touch()

	s.taskMu.Lock()
	if s.watchStats != nil {
		s.watchStats.Batches++
		s.watchStats.FilesReindexed += reindexed
		s.watchStats.FilesRemoved += removed
	}
	s.taskMu.Unlock()

	s.logger.Info("applied watch batch", "reindexed", reindexed, "removed", removed)
}
