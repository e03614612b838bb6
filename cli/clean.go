package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/avillela/seekd/client"
	"github.com/avillela/seekd/config"
	"github.com/avillela/seekd/fulltext"
	"github.com/avillela/seekd/store"
)

var cleanNoDaemon bool

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove all indexed data",
	Long: `Delete the repository's vector and fulltext index data.

The configuration in .seekd/config.yaml is kept. The daemon's in-memory
cache is invalidated so no stale results survive the clean.`,
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanNoDaemon, "no-daemon", false, "Clean directly without the daemon")
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	projectRoot, cfg, err := projectAndConfig()
	if err != nil {
		return err
	}

	if cfg.Daemon.Enabled && !cleanNoDaemon {
		_, err := newConnector(projectRoot, cfg).Clean(ctx)
		switch {
		case err == nil:
			fmt.Println("Index data removed.")
			return nil
		case errors.Is(err, client.ErrDaemonUnavailable):
			fmt.Fprintf(os.Stderr, "Warning: daemon unreachable, cleaning standalone: %v\n", err)
		default:
			return err
		}
	}

	st, err := store.NewFromConfig(ctx, cfg, projectRoot)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()
	if err := st.Load(ctx); err != nil {
		return fmt.Errorf("failed to load index: %w", err)
	}
	if err := st.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear store: %w", err)
	}
	if err := st.Persist(ctx); err != nil {
		return fmt.Errorf("failed to persist store: %w", err)
	}

	if ft, err := fulltext.Open(config.GetFullTextPath(projectRoot)); err == nil {
		defer ft.Close()
		if err := ft.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear fulltext index: %w", err)
		}
	}

	fmt.Println("Index data removed.")
	return nil
}
