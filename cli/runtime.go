package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/avillela/seekd/client"
	"github.com/avillela/seekd/config"
	"github.com/avillela/seekd/embedder"
	"github.com/avillela/seekd/fulltext"
	"github.com/avillela/seekd/search"
	"github.com/avillela/seekd/store"
)

// cliLogger logs warnings and errors to stderr; command output itself
// goes to stdout.
func cliLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// newConnector builds a daemon connector for a repository.
func newConnector(projectRoot string, cfg *config.Config) *client.Connector {
	return client.New(projectRoot, cfg.GetSocketPath(projectRoot), client.WithLogger(cliLogger()))
}

// runtime bundles the standalone (daemon-less) search dependencies.
type runtime struct {
	store    store.VectorStore
	fulltext *fulltext.Index // nil when unavailable
	embedder embedder.Embedder
	searcher *search.Searcher
}

// openRuntime loads the index handles directly, the way the daemon
// would. Used when the daemon is disabled or unreachable.
func openRuntime(ctx context.Context, projectRoot string, cfg *config.Config) (*runtime, error) {
	st, err := store.NewFromConfig(ctx, cfg, projectRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := st.Load(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to load index: %w", err)
	}

	ft, err := fulltext.Open(config.GetFullTextPath(projectRoot))
	if err != nil {
		// Degraded: semantic search still works.
		fmt.Fprintf(os.Stderr, "Warning: fulltext index unavailable: %v\n", err)
		ft = nil
	}

	emb, err := embedder.NewFromConfig(cfg)
	if err != nil {
		if ft != nil {
			_ = ft.Close()
		}
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	return &runtime{
		store:    st,
		fulltext: ft,
		embedder: emb,
		searcher: search.NewSearcher(st, ft, emb, cfg.Search),
	}, nil
}

func (r *runtime) Close() {
	if r.fulltext != nil {
		_ = r.fulltext.Close()
	}
	_ = r.embedder.Close()
	_ = r.store.Close()
}

// projectAndConfig resolves the project root and loads its config.
func projectAndConfig() (string, *config.Config, error) {
	projectRoot, err := config.FindProjectRoot()
	if err != nil {
		return "", nil, err
	}
	cfg, err := config.Load(projectRoot)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return projectRoot, cfg, nil
}
