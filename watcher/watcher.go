// Package watcher turns raw filesystem notifications into debounced
// batches of file events for incremental reindexing.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/avillela/seekd/indexer"
)

type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
	EventRename
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "CREATE"
	case EventModify:
		return "MODIFY"
	case EventDelete:
		return "DELETE"
	case EventRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

type FileEvent struct {
	Type EventType
	Path string // relative to the watched root
}

// Watcher observes a project tree. Rapid bursts of changes to the same
// files collapse into a single batch delivered after the debounce
// window goes quiet.
type Watcher struct {
	root     string
	watcher  *fsnotify.Watcher
	ignore   *indexer.IgnoreMatcher
	debounce time.Duration
	batches  chan []FileEvent
	done     chan struct{}
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]FileEvent
	timer   *time.Timer
}

func New(root string, ignore *indexer.IgnoreMatcher, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		root:     root,
		watcher:  fsw,
		ignore:   ignore,
		debounce: debounce,
		batches:  make(chan []FileEvent, 16),
		done:     make(chan struct{}),
		logger:   logger,
		pending:  make(map[string]FileEvent),
	}, nil
}

func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	go w.processEvents(ctx)
	return nil
}

// Batches delivers debounced event batches. Consumers should select on
// their own context alongside this channel.
func (w *Watcher) Batches() <-chan []FileEvent {
	return w.batches
}

func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}

		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if !info.IsDir() {
			return nil
		}

		if rel != "." && w.ignore != nil {
			if w.ignore.ShouldSkipDir(rel) {
				return filepath.SkipDir
			}
			if w.ignore.ShouldIgnore(rel) {
				return nil
			}
		}

		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	if strings.HasPrefix(filepath.Base(rel), ".") {
		return
	}
	if w.ignore != nil && w.ignore.ShouldIgnore(rel) {
		return
	}

	if !indexer.IsSupported(rel) {
		// A new directory needs to be added to the watch set.
		if event.Has(fsnotify.Create) {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := w.addRecursive(event.Name); err != nil {
					w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
				}
			}
		}
		return
	}

	var evType EventType
	switch {
	case event.Has(fsnotify.Create):
		evType = EventCreate
	case event.Has(fsnotify.Write):
		evType = EventModify
	case event.Has(fsnotify.Remove):
		evType = EventDelete
	case event.Has(fsnotify.Rename):
		evType = EventRename
	default:
		return
	}

	w.enqueue(FileEvent{Type: evType, Path: rel})
}

func (w *Watcher) enqueue(event FileEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// A delete sticks even if the file reappears within the window; the
	// reindex pass resolves the final state from disk anyway.
	if existing, ok := w.pending[event.Path]; !ok || existing.Type != EventDelete {
		w.pending[event.Path] = event
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	batch := make([]FileEvent, 0, len(w.pending))
	for _, event := range w.pending {
		batch = append(batch, event)
	}
	w.pending = make(map[string]FileEvent)
	w.mu.Unlock()

	select {
	case w.batches <- batch:
	case <-w.done:
	}
}
