package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/avillela/seekd/client"
	"github.com/avillela/seekd/config"
	"github.com/avillela/seekd/daemon"
	"github.com/avillela/seekd/indexer"
)

var indexNoDaemon bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index the codebase for search",
	Long: `Scan the codebase, chunk and embed the files, and build the vector
and fulltext indexes.

With the daemon enabled the run happens in the background: the command
returns immediately and the daemon reports "already_running" if an
indexing run is in progress. With --no-daemon the run happens in this
process with progress output.`,
	RunE: runIndexCmd,
}

func init() {
	indexCmd.Flags().BoolVar(&indexNoDaemon, "no-daemon", false, "Index in this process instead of the daemon")
	rootCmd.AddCommand(indexCmd)
}

func runIndexCmd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	projectRoot, cfg, err := projectAndConfig()
	if err != nil {
		return err
	}

	if cfg.Daemon.Enabled && !indexNoDaemon {
		status, err := newConnector(projectRoot, cfg).Reindex(ctx)
		switch {
		case err == nil:
			switch status {
			case daemon.StatusAlreadyRunning:
				fmt.Println("An indexing run is already in progress.")
			default:
				fmt.Println("Indexing started in the background.")
				fmt.Println("Run 'seekd status' to follow progress.")
			}
			return nil
		case errors.Is(err, client.ErrDaemonUnavailable):
			fmt.Fprintf(os.Stderr, "Warning: daemon unreachable, indexing standalone: %v\n", err)
		default:
			return err
		}
	}

	return runIndexStandalone(ctx, projectRoot, cfg)
}

func runIndexStandalone(ctx context.Context, projectRoot string, cfg *config.Config) error {
	rt, err := openRuntime(ctx, projectRoot, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	matcher, err := indexer.NewIgnoreMatcher(projectRoot, cfg.Ignore)
	if err != nil {
		return err
	}

	idx := indexer.New(projectRoot, rt.store, rt.fulltext, rt.embedder,
		indexer.NewChunker(cfg.Chunking.Size, cfg.Chunking.Overlap),
		indexer.NewScanner(projectRoot, matcher),
		cliLogger())

	fmt.Println("Indexing...")
	stats, err := idx.IndexAll(ctx, printIndexProgress)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}
	fmt.Println()

	if err := rt.store.Persist(ctx); err != nil {
		return fmt.Errorf("failed to persist index: %w", err)
	}

	fmt.Printf("Indexed %d files (%d chunks) in %s\n", stats.FilesIndexed, stats.ChunksCreated, stats.Duration.Round(time.Millisecond))
	if stats.FilesSkipped > 0 {
		fmt.Printf("Skipped %d unchanged files\n", stats.FilesSkipped)
	}
	if stats.FilesRemoved > 0 {
		fmt.Printf("Removed %d deleted files from the index\n", stats.FilesRemoved)
	}
	return nil
}

func printIndexProgress(info indexer.ProgressInfo) {
	file := info.CurrentFile
	if len(file) > 50 {
		file = "..." + file[len(file)-47:]
	}
	fmt.Printf("\r\033[K[%d/%d] %s", info.Current, info.Total, file)
}
