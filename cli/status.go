package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/avillela/seekd/client"
	"github.com/avillela/seekd/config"
	"github.com/avillela/seekd/daemon"
	"github.com/avillela/seekd/fulltext"
	"github.com/avillela/seekd/store"
)

var statusNoDaemon bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index and daemon status",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusNoDaemon, "no-daemon", false, "Read index stats directly without the daemon")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	projectRoot, cfg, err := projectAndConfig()
	if err != nil {
		return err
	}

	fmt.Printf("Project:  %s\n", projectRoot)
	fmt.Printf("Provider: %s (%s)\n", cfg.Embedder.Provider, cfg.Embedder.Model)
	fmt.Printf("Backend:  %s\n", cfg.Store.Backend)

	if cfg.Daemon.Enabled && !statusNoDaemon {
		conn := newConnector(projectRoot, cfg)
		if conn.Available() {
			result, err := conn.Status(ctx)
			if err != nil && !errors.Is(err, client.ErrDaemonUnavailable) {
				return err
			}
			if err == nil {
				printDaemonStatus(result)
				return nil
			}
		}
		fmt.Println("\nDaemon: not running")
	}

	return printStandaloneStatus(ctx, projectRoot, cfg)
}

func printDaemonStatus(result *daemon.StatusResult) {
	fmt.Println("\nDaemon: running")
	cache := result.Cache
	if cache.Loaded {
		fmt.Printf("  Cache:          loaded (%s)\n", cache.RepositoryPath)
		fmt.Printf("  TTL remaining:  %.0fs\n", cache.TTLRemainingSeconds)
		fmt.Printf("  Query cache:    %d entries, %d hits / %d misses\n", cache.CachedQueries, cache.Hits, cache.Misses)
		fmt.Printf("  Fulltext:       %v\n", cache.FulltextAvailable)
	} else {
		fmt.Println("  Cache:          empty")
	}
	if cache.IndexingRunning {
		fmt.Println("  Indexing:       running")
	}
	if cache.WatchRunning {
		fmt.Println("  Watch:          running")
	}

	if result.Storage != nil {
		fmt.Println("\nIndex:")
		fmt.Printf("  Files:        %d\n", result.Storage.TotalFiles)
		fmt.Printf("  Chunks:       %d\n", result.Storage.TotalChunks)
		if !result.Storage.LastUpdated.IsZero() {
			fmt.Printf("  Last updated: %s\n", result.Storage.LastUpdated.Format("2006-01-02 15:04:05"))
		}
	}
}

func printStandaloneStatus(ctx context.Context, projectRoot string, cfg *config.Config) error {
	st, err := store.NewFromConfig(ctx, cfg, projectRoot)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()
	if err := st.Load(ctx); err != nil {
		fmt.Println("\nIndex: not built (run 'seekd index')")
		return nil
	}

	stats, err := st.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read index stats: %w", err)
	}

	fmt.Println("\nIndex:")
	fmt.Printf("  Files:        %d\n", stats.TotalFiles)
	fmt.Printf("  Chunks:       %d\n", stats.TotalChunks)
	if !stats.LastUpdated.IsZero() {
		fmt.Printf("  Last updated: %s\n", stats.LastUpdated.Format("2006-01-02 15:04:05"))
	}

	if ft, err := fulltext.Open(config.GetFullTextPath(projectRoot)); err == nil {
		defer ft.Close()
		if count, err := ft.Count(ctx); err == nil {
			fmt.Printf("  Fulltext:     %d chunks\n", count)
		}
	} else {
		fmt.Fprintf(os.Stderr, "Warning: fulltext index unavailable: %v\n", err)
	}

	return nil
}
