package daemon

import (
	"encoding/json"

	"github.com/avillela/seekd/store"
)

// The wire format is newline-delimited JSON over a unix socket: one
// Request per line in, one Response per line out.

type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// QueryParams carries every query variant; Mode selects semantic,
// fulltext, or hybrid.
type QueryParams struct {
	Path  string `json:"path"`
	Text  string `json:"text"`
	Limit int    `json:"limit,omitempty"`
	Mode  string `json:"mode,omitempty"`
}

type QueryResult struct {
	Results           []store.SearchResult `json:"results"`
	FulltextAvailable bool                 `json:"fulltext_available"`
	CacheHit          bool                 `json:"cache_hit"`
}

// PathParams is shared by operations that only need a repository path.
type PathParams struct {
	Path string `json:"path"`
}

type TaskResult struct {
	Status string `json:"status"`
}

type CacheStatus struct {
	Loaded              bool    `json:"loaded"`
	RepositoryPath      string  `json:"repository_path,omitempty"`
	TTLRemainingSeconds float64 `json:"ttl_remaining_seconds,omitempty"`
	Hits                uint64  `json:"hits"`
	Misses              uint64  `json:"misses"`
	CachedQueries       int     `json:"cached_queries"`
	FulltextAvailable   bool    `json:"fulltext_available"`
	IndexingRunning     bool    `json:"indexing_running"`
	WatchRunning        bool    `json:"watch_running"`
}

type StatusResult struct {
	Cache   CacheStatus       `json:"cache"`
	Storage *store.IndexStats `json:"storage,omitempty"`
}

type WatchStopResult struct {
	Status string      `json:"status"`
	Stats  *WatchStats `json:"stats,omitempty"`
}

type WatchStatusResult struct {
	Running bool        `json:"running"`
	Stats   *WatchStats `json:"stats,omitempty"`
}
