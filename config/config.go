package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	ConfigDir         = ".seekd"
	ConfigFileName    = "config.yaml"
	VectorIndexName   = "vectors.idx"
	DocumentsFileName = "documents.gob"
	FullTextIndexName = "fulltext.db"

	socketPrefix = "seekd-"
	socketSuffix = ".sock"

	defaultTTLMinutes  = 10
	defaultEvictionSec = 60
	defaultCacheSize   = 100
)

type Config struct {
	Version  int            `yaml:"version"`
	Embedder EmbedderConfig `yaml:"embedder"`
	Store    StoreConfig    `yaml:"store"`
	Chunking ChunkingConfig `yaml:"chunking"`
	Watch    WatchConfig    `yaml:"watch"`
	Search   SearchConfig   `yaml:"search"`
	Daemon   DaemonConfig   `yaml:"daemon"`
	Ignore   []string       `yaml:"ignore"`
}

type EmbedderConfig struct {
	Provider   string `yaml:"provider"` // ollama | openai
	Model      string `yaml:"model"`
	Endpoint   string `yaml:"endpoint,omitempty"`
	APIKey     string `yaml:"api_key,omitempty"`
	Dimensions *int   `yaml:"dimensions,omitempty"`
}

// GetDimensions returns the configured dimensions or the provider default.
func (e *EmbedderConfig) GetDimensions() int {
	if e.Dimensions != nil {
		return *e.Dimensions
	}
	switch e.Provider {
	case "openai":
		return 1536
	default:
		return 768
	}
}

type StoreConfig struct {
	Backend  string         `yaml:"backend"` // hnsw | postgres | qdrant
	HNSW     HNSWConfig     `yaml:"hnsw,omitempty"`
	Postgres PostgresConfig `yaml:"postgres,omitempty"`
	Qdrant   QdrantConfig   `yaml:"qdrant,omitempty"`
}

type HNSWConfig struct {
	M              int `yaml:"m,omitempty"`
	EFConstruction int `yaml:"ef_construction,omitempty"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type QdrantConfig struct {
	Endpoint   string `yaml:"endpoint"`
	Port       int    `yaml:"port,omitempty"`
	Collection string `yaml:"collection,omitempty"`
	APIKey     string `yaml:"api_key,omitempty"`
	UseTLS     bool   `yaml:"use_tls,omitempty"`
}

type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

type WatchConfig struct {
	DebounceMs int `yaml:"debounce_ms"`
}

type SearchConfig struct {
	Hybrid HybridConfig `yaml:"hybrid"`
	Boost  BoostConfig  `yaml:"boost"`
}

type HybridConfig struct {
	Enabled bool    `yaml:"enabled"`
	K       float32 `yaml:"k"` // RRF constant (default: 60)
}

type BoostConfig struct {
	Enabled   bool        `yaml:"enabled"`
	Penalties []BoostRule `yaml:"penalties"`
	Bonuses   []BoostRule `yaml:"bonuses"`
}

type BoostRule struct {
	Pattern string  `yaml:"pattern"`
	Factor  float32 `yaml:"factor"`
}

// DaemonConfig controls the warm-index daemon.
type DaemonConfig struct {
	Enabled                 bool   `yaml:"enabled"`
	TTLMinutes              int    `yaml:"ttl_minutes"`
	EvictionIntervalSeconds int    `yaml:"eviction_interval_seconds"`
	ShutdownOnIdle          bool   `yaml:"shutdown_on_idle"`
	ResultCacheSize         int    `yaml:"result_cache_size"`
	SocketPath              string `yaml:"socket_path,omitempty"` // derived from the config dir when empty
}

func DefaultConfig() *Config {
	defaultDim := 768
	return &Config{
		Version: 1,
		Embedder: EmbedderConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			Endpoint:   "http://localhost:11434",
			Dimensions: &defaultDim,
		},
		Store: StoreConfig{
			Backend: "hnsw",
			HNSW: HNSWConfig{
				M:              16,
				EFConstruction: 200,
			},
		},
		Chunking: ChunkingConfig{
			Size:    512,
			Overlap: 50,
		},
		Watch: WatchConfig{
			DebounceMs: 500,
		},
		Search: SearchConfig{
			Hybrid: HybridConfig{
				Enabled: false,
				K:       60,
			},
			Boost: BoostConfig{
				Enabled: true,
				Penalties: []BoostRule{
					{Pattern: "/tests/", Factor: 0.5},
					{Pattern: "/test/", Factor: 0.5},
					{Pattern: "_test.", Factor: 0.5},
					{Pattern: ".test.", Factor: 0.5},
					{Pattern: ".spec.", Factor: 0.5},
					{Pattern: "/mocks/", Factor: 0.4},
					{Pattern: "/testdata/", Factor: 0.4},
					{Pattern: "/generated/", Factor: 0.4},
					{Pattern: ".md", Factor: 0.6},
				},
				Bonuses: []BoostRule{
					{Pattern: "/src/", Factor: 1.1},
					{Pattern: "/lib/", Factor: 1.1},
				},
			},
		},
		Daemon: DaemonConfig{
			Enabled:                 true,
			TTLMinutes:              defaultTTLMinutes,
			EvictionIntervalSeconds: defaultEvictionSec,
			ShutdownOnIdle:          false,
			ResultCacheSize:         defaultCacheSize,
		},
		Ignore: []string{
			".git",
			".seekd",
			"node_modules",
			"vendor",
			"bin",
			"dist",
			"__pycache__",
			".venv",
			"venv",
			".idea",
			".vscode",
			"target",
		},
	}
}

func GetConfigDir(projectRoot string) string {
	return filepath.Join(projectRoot, ConfigDir)
}

func GetConfigPath(projectRoot string) string {
	return filepath.Join(GetConfigDir(projectRoot), ConfigFileName)
}

func GetVectorIndexPath(projectRoot string) string {
	return filepath.Join(GetConfigDir(projectRoot), VectorIndexName)
}

func GetDocumentsPath(projectRoot string) string {
	return filepath.Join(GetConfigDir(projectRoot), DocumentsFileName)
}

func GetFullTextPath(projectRoot string) string {
	return filepath.Join(GetConfigDir(projectRoot), FullTextIndexName)
}

// GetSocketPath returns the transport endpoint for the daemon serving the
// given project. The path is deterministic per project so every client of the
// same repository reaches the same daemon instance, and short enough for the
// unix socket path limit.
func (c *Config) GetSocketPath(projectRoot string) string {
	if c.Daemon.SocketPath != "" {
		return c.Daemon.SocketPath
	}
	return DeriveSocketPath(projectRoot)
}

// DeriveSocketPath computes the default socket path for a project root.
func DeriveSocketPath(projectRoot string) string {
	sum := sha256.Sum256([]byte(GetConfigDir(projectRoot)))
	id := hex.EncodeToString(sum[:])[:12]
	return filepath.Join(os.TempDir(), socketPrefix+id+socketSuffix)
}

func Load(projectRoot string) (*Config, error) {
	configPath := GetConfigPath(projectRoot)

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults fills in missing configuration values so older config files
// keep working after upgrades.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.Embedder.Endpoint == "" {
		switch c.Embedder.Provider {
		case "openai":
			c.Embedder.Endpoint = "https://api.openai.com/v1"
		default:
			c.Embedder.Endpoint = defaults.Embedder.Endpoint
		}
	}
	if c.Embedder.Dimensions == nil && c.Embedder.Provider == "ollama" {
		dim := 768 // nomic-embed-text default
		c.Embedder.Dimensions = &dim
	}

	if c.Store.Backend == "" {
		c.Store.Backend = defaults.Store.Backend
	}
	if c.Store.HNSW.M == 0 {
		c.Store.HNSW.M = defaults.Store.HNSW.M
	}
	if c.Store.HNSW.EFConstruction == 0 {
		c.Store.HNSW.EFConstruction = defaults.Store.HNSW.EFConstruction
	}
	if c.Store.Backend == "qdrant" && c.Store.Qdrant.Port <= 0 {
		c.Store.Qdrant.Port = 6334
	}

	if c.Chunking.Size == 0 {
		c.Chunking.Size = defaults.Chunking.Size
	}
	if c.Chunking.Overlap == 0 {
		c.Chunking.Overlap = defaults.Chunking.Overlap
	}

	if c.Watch.DebounceMs == 0 {
		c.Watch.DebounceMs = defaults.Watch.DebounceMs
	}

	if c.Search.Hybrid.K == 0 {
		c.Search.Hybrid.K = defaults.Search.Hybrid.K
	}

	if c.Daemon.TTLMinutes == 0 {
		c.Daemon.TTLMinutes = defaultTTLMinutes
	}
	if c.Daemon.EvictionIntervalSeconds == 0 {
		c.Daemon.EvictionIntervalSeconds = defaultEvictionSec
	}
	if c.Daemon.ResultCacheSize == 0 {
		c.Daemon.ResultCacheSize = defaultCacheSize
	}
}

func (c *Config) Save(projectRoot string) error {
	configDir := GetConfigDir(projectRoot)

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	configPath := GetConfigPath(projectRoot)
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func Exists(projectRoot string) bool {
	configPath := GetConfigPath(projectRoot)
	_, err := os.Stat(configPath)
	return err == nil
}

func FindProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}

	// Resolve symlinks to handle symlinked directories
	cwd, err = filepath.EvalSymlinks(cwd)
	if err != nil {
		return "", fmt.Errorf("failed to resolve symlinks: %w", err)
	}

	dir := cwd
	for {
		if Exists(dir) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("no seekd project found (run 'seekd init' first)")
}
