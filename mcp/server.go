// Package mcp provides an MCP (Model Context Protocol) server for seekd.
// This allows AI agents to use seekd as a native tool.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alpkeskin/gotoon"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/avillela/seekd/client"
	"github.com/avillela/seekd/config"
	"github.com/avillela/seekd/embedder"
	"github.com/avillela/seekd/fulltext"
	"github.com/avillela/seekd/search"
	"github.com/avillela/seekd/store"
)

// Server wraps the MCP server with seekd functionality. Queries go to
// the daemon when it is enabled, so repeated tool calls hit the warm
// cache; otherwise they run against the on-disk index directly.
type Server struct {
	mcpServer   *server.MCPServer
	projectRoot string
}

// SearchResult is a lightweight struct for MCP output.
type SearchResult struct {
	FilePath  string  `json:"file_path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float32 `json:"score"`
	Content   string  `json:"content"`
}

// SearchResultCompact is a minimal struct for compact output (no content field).
type SearchResultCompact struct {
	FilePath  string  `json:"file_path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float32 `json:"score"`
}

// IndexStatus represents the current state of the index.
type IndexStatus struct {
	TotalFiles  int    `json:"total_files"`
	TotalChunks int    `json:"total_chunks"`
	LastUpdated string `json:"last_updated,omitempty"`
	Provider    string `json:"provider"`
	Model       string `json:"model"`
	Backend     string `json:"backend"`
	Daemon      bool   `json:"daemon"`
	Fulltext    bool   `json:"fulltext"`
}

// encodeOutput encodes data in the specified format (json or toon).
func encodeOutput(data any, format string) (string, error) {
	switch format {
	case "toon":
		return gotoon.Encode(data)
	default: // "json"
		jsonBytes, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", err
		}
		return string(jsonBytes), nil
	}
}

// NewServer creates a new MCP server for seekd.
func NewServer(projectRoot string) (*Server, error) {
	s := &Server{
		projectRoot: projectRoot,
	}

	s.mcpServer = server.NewMCPServer(
		"seekd",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	s.registerTools()

	return s, nil
}

// Serve starts the MCP server on stdio. Blocks until the client closes
// the stream.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// registerTools registers all seekd tools with the MCP server.
func (s *Server) registerTools() {
	searchTool := mcp.NewTool("seekd_search",
		mcp.WithDescription("Semantic code search. Search your codebase using natural language queries. Returns the most relevant code chunks with file paths, line numbers, and similarity scores."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language search query (e.g., 'user authentication flow', 'error handling middleware')"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results to return (default: 10)"),
		),
		mcp.WithString("mode",
			mcp.Description("Search mode: 'semantic' (default), 'fulltext' (keyword), or 'hybrid' (both, rank-fused)"),
		),
		mcp.WithBoolean("compact",
			mcp.Description("Return minimal output without content (default: false)"),
		),
		mcp.WithString("format",
			mcp.Description("Output format: 'json' (default) or 'toon' (token-efficient)"),
		),
	)
	s.mcpServer.AddTool(searchTool, s.handleSearch)

	statusTool := mcp.NewTool("seekd_status",
		mcp.WithDescription("Check the health and status of the seekd index. Returns statistics about indexed files, chunks, and configuration."),
		mcp.WithString("format",
			mcp.Description("Output format: 'json' (default) or 'toon' (token-efficient)"),
		),
	)
	s.mcpServer.AddTool(statusTool, s.handleStatus)
}

// handleSearch handles the seekd_search tool call.
func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query parameter is required"), nil
	}

	limit := request.GetInt("limit", 10)
	if limit <= 0 {
		limit = 10
	}
	compact := request.GetBool("compact", false)
	format := request.GetString("format", "json")
	mode := search.Mode(request.GetString("mode", string(search.ModeSemantic)))

	if format != "json" && format != "toon" {
		return mcp.NewToolResultError("format must be 'json' or 'toon'"), nil
	}
	switch mode {
	case search.ModeSemantic, search.ModeFulltext, search.ModeHybrid:
	default:
		return mcp.NewToolResultError("mode must be 'semantic', 'fulltext', or 'hybrid'"), nil
	}

	cfg, err := config.Load(s.projectRoot)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load configuration: %v", err)), nil
	}

	opts := search.Options{Mode: mode, Limit: limit}
	results, err := s.runQuery(ctx, cfg, query, opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	var data any
	if compact {
		compactResults := make([]SearchResultCompact, len(results))
		for i, r := range results {
			compactResults[i] = SearchResultCompact{
				FilePath:  r.Chunk.FilePath,
				StartLine: r.Chunk.StartLine,
				EndLine:   r.Chunk.EndLine,
				Score:     r.Score,
			}
		}
		data = compactResults
	} else {
		fullResults := make([]SearchResult, len(results))
		for i, r := range results {
			fullResults[i] = SearchResult{
				FilePath:  r.Chunk.FilePath,
				StartLine: r.Chunk.StartLine,
				EndLine:   r.Chunk.EndLine,
				Score:     r.Score,
				Content:   r.Chunk.Content,
			}
		}
		data = fullResults
	}

	output, err := encodeOutput(data, format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode results: %v", err)), nil
	}

	return mcp.NewToolResultText(output), nil
}

// runQuery answers a search via the daemon when possible, standalone
// otherwise.
func (s *Server) runQuery(ctx context.Context, cfg *config.Config, query string, opts search.Options) ([]store.SearchResult, error) {
	if cfg.Daemon.Enabled {
		conn := client.New(s.projectRoot, cfg.GetSocketPath(s.projectRoot))
		reply, err := conn.Query(ctx, query, opts)
		if err == nil {
			return reply.Results, nil
		}
		if !errors.Is(err, client.ErrDaemonUnavailable) {
			return nil, err
		}
	}
	return s.standaloneQuery(ctx, cfg, query, opts)
}

func (s *Server) standaloneQuery(ctx context.Context, cfg *config.Config, query string, opts search.Options) ([]store.SearchResult, error) {
	st, err := store.NewFromConfig(ctx, cfg, s.projectRoot)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	if err := st.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load index: %w", err)
	}

	ft, _ := fulltext.Open(config.GetFullTextPath(s.projectRoot))
	if ft != nil {
		defer ft.Close()
	}

	emb, err := embedder.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	defer emb.Close()

	return search.NewSearcher(st, ft, emb, cfg.Search).Search(ctx, query, opts)
}

// handleStatus handles the seekd_status tool call.
func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format := request.GetString("format", "json")
	if format != "json" && format != "toon" {
		return mcp.NewToolResultError("format must be 'json' or 'toon'"), nil
	}

	cfg, err := config.Load(s.projectRoot)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load configuration: %v", err)), nil
	}

	status := IndexStatus{
		Provider: cfg.Embedder.Provider,
		Model:    cfg.Embedder.Model,
		Backend:  cfg.Store.Backend,
		Daemon:   cfg.Daemon.Enabled,
	}

	stats, fulltextOK, err := s.collectStats(ctx, cfg)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read index stats: %v", err)), nil
	}
	if stats != nil {
		status.TotalFiles = stats.TotalFiles
		status.TotalChunks = stats.TotalChunks
		if !stats.LastUpdated.IsZero() {
			status.LastUpdated = stats.LastUpdated.Format("2006-01-02 15:04:05")
		}
	}
	status.Fulltext = fulltextOK

	output, err := encodeOutput(status, format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode status: %v", err)), nil
	}

	return mcp.NewToolResultText(output), nil
}

func (s *Server) collectStats(ctx context.Context, cfg *config.Config) (*store.IndexStats, bool, error) {
	if cfg.Daemon.Enabled {
		conn := client.New(s.projectRoot, cfg.GetSocketPath(s.projectRoot), client.WithAutoStart(false))
		if result, err := conn.Status(ctx); err == nil && result.Storage != nil {
			return result.Storage, result.Cache.FulltextAvailable, nil
		}
	}

	st, err := store.NewFromConfig(ctx, cfg, s.projectRoot)
	if err != nil {
		return nil, false, err
	}
	defer st.Close()
	if err := st.Load(ctx); err != nil {
		// Index not built yet: report zeros rather than failing.
		return nil, false, nil
	}

	stats, err := st.GetStats(ctx)
	if err != nil {
		return nil, false, err
	}

	fulltextOK := false
	if ft, err := fulltext.Open(config.GetFullTextPath(s.projectRoot)); err == nil {
		fulltextOK = true
		_ = ft.Close()
	}

	return stats, fulltextOK, nil
}
