package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/avillela/seekd/config"
	"github.com/avillela/seekd/mcp"
)

var mcpServeCmd = &cobra.Command{
	Use:   "mcp-serve [project-path]",
	Short: "Start seekd as an MCP server",
	Long: `Start seekd as an MCP (Model Context Protocol) server.

This allows AI agents to use seekd as a native tool through the MCP
protocol. The server communicates via stdio and exposes:

  - seekd_search: Semantic, keyword, or hybrid code search
  - seekd_status: Index health and statistics

Arguments:
  project-path  Optional path to the seekd project directory.
                If not provided, searches for .seekd from current directory.

Configuration for Claude Code:
  claude mcp add seekd -- seekd mcp-serve

Configuration for Cursor (.cursor/mcp.json):
  {
    "mcpServers": {
      "seekd": {
        "command": "seekd",
        "args": ["mcp-serve"]
      }
    }
  }`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMCPServe,
}

func init() {
	rootCmd.AddCommand(mcpServeCmd)
}

func runMCPServe(cmd *cobra.Command, args []string) error {
	var projectRoot string

	if len(args) == 1 {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid project path: %w", err)
		}
		if !config.Exists(abs) {
			return fmt.Errorf("no seekd project at %s (run 'seekd init' there first)", abs)
		}
		projectRoot = abs
	} else {
		var err error
		projectRoot, err = config.FindProjectRoot()
		if err != nil {
			return err
		}
	}

	srv, err := mcp.NewServer(projectRoot)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	fmt.Fprintf(os.Stderr, "seekd MCP server started for %s\n", projectRoot)
	return srv.Serve()
}
