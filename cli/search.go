package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/alpkeskin/gotoon"
	"github.com/spf13/cobra"

	"github.com/avillela/seekd/client"
	"github.com/avillela/seekd/config"
	"github.com/avillela/seekd/search"
	"github.com/avillela/seekd/store"
)

var (
	searchLimit    int
	searchJSON     bool
	searchTOON     bool
	searchCompact  bool
	searchFulltext bool
	searchHybrid   bool
	searchNoDaemon bool
)

// SearchResultJSON is a lightweight struct for JSON output (excludes vector, hash, updated_at)
type SearchResultJSON struct {
	FilePath  string  `json:"file_path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float32 `json:"score"`
	Content   string  `json:"content"`
}

// SearchResultCompactJSON is a minimal struct for compact JSON output (no content field)
type SearchResultCompactJSON struct {
	FilePath  string  `json:"file_path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float32 `json:"score"`
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search codebase with natural language",
	Long: `Search your codebase using natural language queries.

By default the query goes to the seekd daemon, which keeps the indexes
warm in memory; the daemon is started automatically when needed. If it
cannot be reached the search runs standalone against the on-disk index.

Modes:
  default      Semantic search over embeddings
  --fulltext   Keyword search over the FTS index
  --hybrid     Both, fused with reciprocal rank fusion`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "Maximum number of results to return")
	searchCmd.Flags().BoolVarP(&searchJSON, "json", "j", false, "Output results in JSON format (for AI agents)")
	searchCmd.Flags().BoolVarP(&searchTOON, "toon", "t", false, "Output results in TOON format (token-efficient for AI agents)")
	searchCmd.Flags().BoolVarP(&searchCompact, "compact", "c", false, "Output minimal format without content (requires --json or --toon)")
	searchCmd.Flags().BoolVar(&searchFulltext, "fulltext", false, "Keyword search instead of semantic")
	searchCmd.Flags().BoolVar(&searchHybrid, "hybrid", false, "Combine semantic and keyword search")
	searchCmd.Flags().BoolVar(&searchNoDaemon, "no-daemon", false, "Search standalone without the daemon")
	searchCmd.MarkFlagsMutuallyExclusive("json", "toon")
	searchCmd.MarkFlagsMutuallyExclusive("fulltext", "hybrid")
	rootCmd.AddCommand(searchCmd)
}

func searchMode() search.Mode {
	switch {
	case searchFulltext:
		return search.ModeFulltext
	case searchHybrid:
		return search.ModeHybrid
	default:
		return search.ModeSemantic
	}
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := args[0]
	ctx := context.Background()

	if searchCompact && !searchJSON && !searchTOON {
		return fmt.Errorf("--compact flag requires --json or --toon flag")
	}

	projectRoot, cfg, err := projectAndConfig()
	if err != nil {
		return err
	}

	opts := search.Options{Mode: searchMode(), Limit: searchLimit}

	var results []store.SearchResult
	if cfg.Daemon.Enabled && !searchNoDaemon {
		reply, err := newConnector(projectRoot, cfg).Query(ctx, query, opts)
		switch {
		case err == nil:
			if opts.Mode == search.ModeFulltext && !reply.FulltextAvailable {
				fmt.Fprintln(os.Stderr, "Warning: fulltext index unavailable, no keyword results")
			}
			results = reply.Results
		case errors.Is(err, client.ErrDaemonUnavailable):
			fmt.Fprintf(os.Stderr, "Warning: daemon unreachable, searching standalone: %v\n", err)
			results, err = standaloneSearch(ctx, projectRoot, cfg, query, opts)
			if err != nil {
				return searchError(err)
			}
		default:
			return searchError(err)
		}
	} else {
		results, err = standaloneSearch(ctx, projectRoot, cfg, query, opts)
		if err != nil {
			return searchError(err)
		}
	}

	if searchJSON {
		if searchCompact {
			return outputSearchCompactJSON(results)
		}
		return outputSearchJSON(results)
	}
	if searchTOON {
		if searchCompact {
			return outputSearchCompactTOON(results)
		}
		return outputSearchTOON(results)
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	fmt.Printf("Found %d results for: %q\n\n", len(results), query)

	for i, result := range results {
		fmt.Printf("─── Result %d (score: %.4f) ───\n", i+1, result.Score)
		fmt.Printf("File: %s:%d-%d\n", result.Chunk.FilePath, result.Chunk.StartLine, result.Chunk.EndLine)
		fmt.Println()

		lines := strings.Split(result.Chunk.Content, "\n")
		lineNum := result.Chunk.StartLine
		for j := 0; j < len(lines) && j < 15; j++ {
			fmt.Printf("%4d │ %s\n", lineNum, lines[j])
			lineNum++
		}
		if len(lines) > 15 {
			fmt.Printf("     │ ... (%d more lines)\n", len(lines)-15)
		}
		fmt.Println()
	}

	return nil
}

func standaloneSearch(ctx context.Context, projectRoot string, cfg *config.Config, query string, opts search.Options) ([]store.SearchResult, error) {
	rt, err := openRuntime(ctx, projectRoot, cfg)
	if err != nil {
		return nil, err
	}
	defer rt.Close()
	return rt.searcher.Search(ctx, query, opts)
}

func searchError(err error) error {
	if searchJSON {
		return outputSearchErrorJSON(err)
	}
	if searchTOON {
		return outputSearchErrorTOON(err)
	}
	return fmt.Errorf("search failed: %w", err)
}

// outputSearchJSON outputs results in JSON format for AI agents
func outputSearchJSON(results []store.SearchResult) error {
	jsonResults := make([]SearchResultJSON, len(results))
	for i, r := range results {
		jsonResults[i] = SearchResultJSON{
			FilePath:  r.Chunk.FilePath,
			StartLine: r.Chunk.StartLine,
			EndLine:   r.Chunk.EndLine,
			Score:     r.Score,
			Content:   r.Chunk.Content,
		}
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(jsonResults)
}

// outputSearchCompactJSON outputs results in minimal JSON format (without content)
func outputSearchCompactJSON(results []store.SearchResult) error {
	jsonResults := make([]SearchResultCompactJSON, len(results))
	for i, r := range results {
		jsonResults[i] = SearchResultCompactJSON{
			FilePath:  r.Chunk.FilePath,
			StartLine: r.Chunk.StartLine,
			EndLine:   r.Chunk.EndLine,
			Score:     r.Score,
		}
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(jsonResults)
}

// outputSearchErrorJSON outputs an error in JSON format
func outputSearchErrorJSON(err error) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(map[string]string{"error": err.Error()})
	return nil
}

// outputSearchTOON outputs results in TOON format for AI agents
func outputSearchTOON(results []store.SearchResult) error {
	toonResults := make([]SearchResultJSON, len(results))
	for i, r := range results {
		toonResults[i] = SearchResultJSON{
			FilePath:  r.Chunk.FilePath,
			StartLine: r.Chunk.StartLine,
			EndLine:   r.Chunk.EndLine,
			Score:     r.Score,
			Content:   r.Chunk.Content,
		}
	}

	output, err := gotoon.Encode(toonResults)
	if err != nil {
		return fmt.Errorf("failed to encode TOON: %w", err)
	}
	fmt.Println(output)
	return nil
}

// outputSearchCompactTOON outputs results in minimal TOON format (without content)
func outputSearchCompactTOON(results []store.SearchResult) error {
	toonResults := make([]SearchResultCompactJSON, len(results))
	for i, r := range results {
		toonResults[i] = SearchResultCompactJSON{
			FilePath:  r.Chunk.FilePath,
			StartLine: r.Chunk.StartLine,
			EndLine:   r.Chunk.EndLine,
			Score:     r.Score,
		}
	}

	output, err := gotoon.Encode(toonResults)
	if err != nil {
		return fmt.Errorf("failed to encode TOON: %w", err)
	}
	fmt.Println(output)
	return nil
}

// outputSearchErrorTOON outputs an error in TOON format
func outputSearchErrorTOON(err error) error {
	output, encErr := gotoon.Encode(map[string]string{"error": err.Error()})
	if encErr != nil {
		return fmt.Errorf("failed to encode TOON error: %w", encErr)
	}
	fmt.Println(output)
	return nil
}
