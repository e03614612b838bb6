// Package cli implements the seekd command-line interface.
package cli

import (
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "seekd",
	Short: "Semantic code search with a warm-cache daemon",
	Long: `seekd indexes your codebase for semantic and keyword search.

A background daemon keeps the indexes loaded in memory so repeated
searches skip the expensive load from disk. Commands talk to the daemon
over a unix socket and fall back to standalone operation when it is
unreachable.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
