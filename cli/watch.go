package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/avillela/seekd/client"
	"github.com/avillela/seekd/config"
	"github.com/avillela/seekd/daemon"
	"github.com/avillela/seekd/indexer"
	"github.com/avillela/seekd/watcher"
)

var (
	watchBackground bool
	watchStatus     bool
	watchStop       bool
	watchNoUI       bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the index in sync with file changes",
	Long: `Monitor the codebase and reindex files as they change.

Foreground mode runs the watcher in this process with a live status
view. Background mode hands the watch to the daemon, which keeps the
index warm and applies changes in place:

  seekd watch --background   Start watching inside the daemon
  seekd watch --status       Check whether a watch is running
  seekd watch --stop         Stop the daemon's watch task`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchBackground, "background", false, "Watch inside the daemon instead of this process")
	watchCmd.Flags().BoolVar(&watchStatus, "status", false, "Show background watch status")
	watchCmd.Flags().BoolVar(&watchStop, "stop", false, "Stop the background watch")
	watchCmd.Flags().BoolVar(&watchNoUI, "no-ui", false, "Disable the interactive status view in foreground mode")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	activeFlags := 0
	for _, f := range []bool{watchBackground, watchStatus, watchStop} {
		if f {
			activeFlags++
		}
	}
	if activeFlags > 1 {
		return fmt.Errorf("flags --background, --status, and --stop are mutually exclusive")
	}

	ctx := context.Background()

	projectRoot, cfg, err := projectAndConfig()
	if err != nil {
		return err
	}

	if watchStatus {
		return showWatchStatus(ctx, projectRoot, cfg)
	}
	if watchStop {
		return stopBackgroundWatch(ctx, projectRoot, cfg)
	}
	if watchBackground {
		return startBackgroundWatch(ctx, projectRoot, cfg)
	}

	return runWatchForeground(projectRoot, cfg)
}

func showWatchStatus(ctx context.Context, projectRoot string, cfg *config.Config) error {
	conn := client.New(projectRoot, cfg.GetSocketPath(projectRoot),
		client.WithAutoStart(false), client.WithLogger(cliLogger()))

	result, err := conn.WatchStatus(ctx)
	if err != nil {
		if errors.Is(err, client.ErrDaemonUnavailable) {
			fmt.Println("Status: not running (daemon unreachable)")
			return nil
		}
		return err
	}

	if !result.Running {
		fmt.Println("Status: not running")
		return nil
	}
	fmt.Println("Status: running")
	printWatchStats(result.Stats)
	return nil
}

func stopBackgroundWatch(ctx context.Context, projectRoot string, cfg *config.Config) error {
	conn := client.New(projectRoot, cfg.GetSocketPath(projectRoot),
		client.WithAutoStart(false), client.WithLogger(cliLogger()))

	result, err := conn.WatchStop(ctx)
	if err != nil {
		if errors.Is(err, client.ErrDaemonUnavailable) {
			fmt.Println("No background watch is running.")
			return nil
		}
		return err
	}

	if result.Status == daemon.StatusNotRunning {
		fmt.Println("No background watch is running.")
		return nil
	}
	fmt.Println("Background watch stopped.")
	printWatchStats(result.Stats)
	return nil
}

func startBackgroundWatch(ctx context.Context, projectRoot string, cfg *config.Config) error {
	status, err := newConnector(projectRoot, cfg).WatchStart(ctx)
	if err != nil {
		return err
	}
	if status == daemon.StatusAlreadyRunning {
		fmt.Println("A background watch is already running.")
		return nil
	}
	fmt.Println("Background watch started.")
	fmt.Println("Use 'seekd watch --status' to check it and 'seekd watch --stop' to stop it.")
	return nil
}

func printWatchStats(stats *daemon.WatchStats) {
	if stats == nil {
		return
	}
	fmt.Printf("  Started:   %s\n", stats.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Batches:   %d\n", stats.Batches)
	fmt.Printf("  Reindexed: %d files\n", stats.FilesReindexed)
	fmt.Printf("  Removed:   %d files\n", stats.FilesRemoved)
}

// watchUpdate is one applied change, reported to the foreground view.
type watchUpdate struct {
	Path      string
	Type      watcher.EventType
	Err       error
	Reindexed int
	Removed   int
}

func runWatchForeground(projectRoot string, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := openRuntime(ctx, projectRoot, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	matcher, err := indexer.NewIgnoreMatcher(projectRoot, cfg.Ignore)
	if err != nil {
		return err
	}

	chunker := indexer.NewChunker(cfg.Chunking.Size, cfg.Chunking.Overlap)
	scanner := indexer.NewScanner(projectRoot, matcher)
	idx := indexer.New(projectRoot, rt.store, rt.fulltext, rt.embedder, chunker, scanner, cliLogger())

	fmt.Println("Initial scan...")
	stats, err := idx.IndexAll(ctx, nil)
	if err != nil {
		return fmt.Errorf("initial scan failed: %w", err)
	}
	if err := rt.store.Persist(ctx); err != nil {
		return fmt.Errorf("failed to persist index: %w", err)
	}
	fmt.Printf("Scan done: %d indexed, %d unchanged, %d removed\n",
		stats.FilesIndexed, stats.FilesSkipped, stats.FilesRemoved)

	debounce := time.Duration(cfg.Watch.DebounceMs) * time.Millisecond
	w, err := watcher.New(projectRoot, matcher, debounce, cliLogger())
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Start(ctx); err != nil {
		return err
	}

	if !watchNoUI && isInteractiveTerminal() {
		return runWatchUI(ctx, cancel, projectRoot, w, idx, scanner, rt)
	}

	// Plain mode: log each applied batch until interrupted.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	fmt.Println("Watching for changes (ctrl+c to stop)...")
	for {
		select {
		case <-sigCh:
			fmt.Println("\nStopping watcher.")
			return nil
		case batch := <-w.Batches():
			for _, update := range applyBatch(ctx, idx, scanner, rt, batch) {
				if update.Err != nil {
					fmt.Fprintf(os.Stderr, "%s %s: %v\n", update.Type, update.Path, update.Err)
					continue
				}
				fmt.Printf("%s %s\n", update.Type, update.Path)
			}
		}
	}
}

// applyBatch installs one debounced batch of file events into the
// indexes and persists the result.
func applyBatch(ctx context.Context, idx *indexer.Indexer, scanner *indexer.Scanner, rt *runtime, batch []watcher.FileEvent) []watchUpdate {
	updates := make([]watchUpdate, 0, len(batch))
	for _, event := range batch {
		update := watchUpdate{Path: event.Path, Type: event.Type}
		switch event.Type {
		case watcher.EventDelete, watcher.EventRename:
			if err := idx.RemoveFile(ctx, event.Path); err != nil {
				update.Err = err
			} else {
				update.Removed = 1
			}
		default:
			file, ok, err := scanner.ReadFile(event.Path)
			if err != nil || !ok {
				// Gone already: a create+delete burst within one debounce.
				if err := idx.RemoveFile(ctx, event.Path); err == nil {
					update.Type = watcher.EventDelete
					update.Removed = 1
				}
			} else if _, err := idx.IndexFile(ctx, file); err != nil {
				update.Err = err
			} else {
				update.Reindexed = 1
			}
		}
		updates = append(updates, update)
	}

	if err := rt.store.Persist(ctx); err != nil {
		updates = append(updates, watchUpdate{Err: fmt.Errorf("persist failed: %w", err)})
	}
	return updates
}

func isInteractiveTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
