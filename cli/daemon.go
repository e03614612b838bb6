package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/avillela/seekd/client"
	"github.com/avillela/seekd/config"
	"github.com/avillela/seekd/daemon"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the seekd background daemon",
	Long: `Manage the background daemon that keeps the search indexes warm.

The daemon is normally started on demand by 'seekd search'; these
subcommands exist for running it in the foreground and for explicit
lifecycle control.`,
}

var daemonRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectRoot, err := config.FindProjectRoot()
		if err != nil {
			return err
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
		return daemon.Run(projectRoot, logger)
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectRoot, cfg, err := projectAndConfig()
		if err != nil {
			return err
		}

		// Prefer a clean shutdown over RPC; fall back to the pid file.
		conn := client.New(projectRoot, cfg.GetSocketPath(projectRoot),
			client.WithAutoStart(false), client.WithLogger(cliLogger()))
		if err := conn.Shutdown(context.Background()); err == nil {
			fmt.Println("Daemon stopped.")
			return nil
		}

		if err := daemon.Stop(projectRoot); err != nil {
			if errors.Is(err, daemon.ErrNotRunning) {
				fmt.Println("Daemon is not running.")
				return nil
			}
			return err
		}
		fmt.Println("Daemon stopped.")
		return nil
	},
}

var daemonPingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check whether the daemon answers",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectRoot, cfg, err := projectAndConfig()
		if err != nil {
			return err
		}

		conn := client.New(projectRoot, cfg.GetSocketPath(projectRoot),
			client.WithAutoStart(false), client.WithLogger(cliLogger()))
		if err := conn.Ping(context.Background()); err != nil {
			fmt.Println("Daemon is not running.")
			return nil
		}
		fmt.Println("Daemon is running.")
		return nil
	},
}

var daemonClearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Drop the daemon's in-memory cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectRoot, cfg, err := projectAndConfig()
		if err != nil {
			return err
		}

		conn := client.New(projectRoot, cfg.GetSocketPath(projectRoot),
			client.WithAutoStart(false), client.WithLogger(cliLogger()))
		if err := conn.ClearCache(context.Background()); err != nil {
			if errors.Is(err, client.ErrDaemonUnavailable) {
				fmt.Println("Daemon is not running; nothing to clear.")
				return nil
			}
			return err
		}
		fmt.Println("Cache cleared.")
		return nil
	},
}

func init() {
	daemonCmd.AddCommand(daemonRunCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonPingCmd)
	daemonCmd.AddCommand(daemonClearCacheCmd)
	rootCmd.AddCommand(daemonCmd)
}
