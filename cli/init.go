package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/avillela/seekd/config"
	"github.com/avillela/seekd/git"
	"github.com/avillela/seekd/indexer"
)

var (
	initProvider       string
	initModel          string
	initBackend        string
	initNonInteractive bool
	initInherit        bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize seekd in the current directory",
	Long: `Initialize seekd by creating a .seekd directory with configuration.

This command will:
- Create .seekd/config.yaml with default settings
- Prompt for embedding provider (Ollama or OpenAI)
- Prompt for storage backend (HNSW file, PostgreSQL, or Qdrant)
- Add .seekd/ to .gitignore if present`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVarP(&initProvider, "provider", "p", "", "Embedding provider (ollama or openai)")
	initCmd.Flags().StringVarP(&initModel, "model", "m", "", "Embedding model")
	initCmd.Flags().StringVarP(&initBackend, "backend", "b", "", "Storage backend (hnsw, postgres, or qdrant)")
	initCmd.Flags().BoolVar(&initNonInteractive, "yes", false, "Use defaults without prompting")
	initCmd.Flags().BoolVar(&initInherit, "inherit", false, "Inherit configuration from main worktree (for git worktrees)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	if config.Exists(cwd) {
		fmt.Println("seekd is already initialized in this directory.")
		fmt.Printf("Configuration: %s\n", config.GetConfigPath(cwd))
		return nil
	}

	cfg := config.DefaultConfig()
	skipPrompts := false

	// Linked git worktrees can share the main worktree's configuration.
	gitInfo, gitErr := git.Detect(cwd)
	if gitErr == nil && gitInfo.IsWorktree && config.Exists(gitInfo.MainWorktree) {
		mainCfg, loadErr := config.Load(gitInfo.MainWorktree)
		if loadErr == nil {
			fmt.Printf("\nGit worktree detected.\n")
			fmt.Printf("  Main worktree: %s\n", gitInfo.MainWorktree)
			fmt.Printf("  Worktree ID:   %s\n", gitInfo.WorktreeID)
			fmt.Printf("  Backend:       %s\n", mainCfg.Store.Backend)

			shouldInherit := initInherit
			if !shouldInherit && !initNonInteractive {
				shouldInherit = promptYesNo("\nInherit configuration from main worktree? [Y/n]: ")
			}
			if shouldInherit {
				cfg = mainCfg
				skipPrompts = true
				fmt.Println("Inheriting configuration from main worktree.")
			}
		}
	}

	if !skipPrompts {
		if initProvider != "" {
			cfg.Embedder.Provider = initProvider
		} else if !initNonInteractive {
			cfg.Embedder.Provider = promptChoice("Embedding provider", []string{"ollama", "openai"}, cfg.Embedder.Provider)
		}
		switch cfg.Embedder.Provider {
		case "ollama", "openai":
		default:
			return fmt.Errorf("unknown embedding provider: %s", cfg.Embedder.Provider)
		}

		if initModel != "" {
			cfg.Embedder.Model = initModel
		} else if cfg.Embedder.Provider == "openai" {
			cfg.Embedder.Model = "text-embedding-3-small"
		}

		if initBackend != "" {
			cfg.Store.Backend = initBackend
		} else if !initNonInteractive {
			cfg.Store.Backend = promptChoice("Storage backend", []string{"hnsw", "postgres", "qdrant"}, cfg.Store.Backend)
		}
		switch cfg.Store.Backend {
		case "hnsw", "postgres", "qdrant":
		default:
			return fmt.Errorf("unknown storage backend: %s", cfg.Store.Backend)
		}

		if cfg.Store.Backend == "postgres" && !initNonInteractive {
			cfg.Store.Postgres.DSN = promptString("PostgreSQL DSN", "postgres://localhost:5432/seekd")
		}
		if cfg.Store.Backend == "qdrant" && !initNonInteractive {
			cfg.Store.Qdrant.Endpoint = promptString("Qdrant endpoint", "localhost")
		}
	}

	if err := cfg.Save(cwd); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	if err := indexer.AddToGitignore(cwd, ".seekd/"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not update .gitignore: %v\n", err)
	}

	fmt.Println("\nseekd initialized.")
	fmt.Printf("  Configuration: %s\n", config.GetConfigPath(cwd))
	fmt.Printf("  Provider:      %s (%s)\n", cfg.Embedder.Provider, cfg.Embedder.Model)
	fmt.Printf("  Backend:       %s\n", cfg.Store.Backend)
	fmt.Println("\nNext: run 'seekd index' to build the index.")
	return nil
}

func promptYesNo(prompt string) bool {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print(prompt)
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))
	return input == "" || input == "y" || input == "yes"
}

func promptChoice(label string, choices []string, def string) string {
	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("%s (%s) [%s]: ", label, strings.Join(choices, "/"), def)
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))
	if input == "" {
		return def
	}
	return input
}

func promptString(label, def string) string {
	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("%s [%s]: ", label, def)
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return def
	}
	return input
}
