// Package config loads and validates DocQuery configuration.
//
// Configuration is applied in order of increasing precedence:
//  1. Hardcoded defaults
//  2. YAML config file (docquery.yaml in the config directory)
//  3. Environment variables (DOCQUERY_*)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete DocQuery configuration.
type Config struct {
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	Generation GenerationConfig `yaml:"generation" json:"generation"`
	Ingestion  IngestionConfig  `yaml:"ingestion" json:"ingestion"`
	LogLevel   string           `yaml:"log_level" json:"log_level"`
}

// StorageConfig configures the primary store and vector index files.
type StorageConfig struct {
	// DatabasePath is the SQLite database file.
	DatabasePath string `yaml:"database_path" json:"database_path"`
	// IndexDir is the directory holding the vector index and sidecar files.
	IndexDir string `yaml:"index_dir" json:"index_dir"`
	// IndexScope names the index file pair (<scope>.vec / <scope>.sid).
	IndexScope string `yaml:"index_scope" json:"index_scope"`
	// UploadDir is the root of owner-isolated uploaded files.
	UploadDir string `yaml:"upload_dir" json:"upload_dir"`
}

// ChunkingConfig configures the text chunker.
type ChunkingConfig struct {
	// ChunkSize is the maximum tokens per chunk.
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	// ChunkOverlap is the token overlap between consecutive chunks.
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
	// MinChunkSize is the minimum tokens for a tail chunk before it is
	// merged into the previous one.
	MinChunkSize int `yaml:"min_chunk_size" json:"min_chunk_size"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Model          string        `yaml:"model" json:"model"`
	Dimensions     int           `yaml:"dimensions" json:"dimensions"`
	BatchSize      int           `yaml:"batch_size" json:"batch_size"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// SearchConfig configures hybrid retrieval.
type SearchConfig struct {
	// TopKDefault is the default number of results per query.
	TopKDefault int `yaml:"topk_default" json:"topk_default"`
	// TopKMax caps the caller-requested k.
	TopKMax int `yaml:"topk_max" json:"topk_max"`
	// BranchMultiplier scales k for each retrieval branch (fetch 4k).
	BranchMultiplier int `yaml:"branch_multiplier" json:"branch_multiplier"`
	// BranchCap limits the per-branch fetch size.
	BranchCap int `yaml:"branch_cap" json:"branch_cap"`
	// RRFConstant is the RRF fusion smoothing parameter.
	// Default: 60 (industry standard used by Azure AI Search, OpenSearch).
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`
	// AlphaDefault is the default vector-branch weight for hybrid fusion.
	AlphaDefault float64 `yaml:"alpha_default" json:"alpha_default"`
	// CompactionTombstoneRatio triggers vector-index compaction when the
	// tombstoned fraction exceeds it.
	CompactionTombstoneRatio float64 `yaml:"compaction_tombstone_ratio" json:"compaction_tombstone_ratio"`
}

// CacheConfig configures the in-process TTL caches.
type CacheConfig struct {
	QueryTTL          time.Duration `yaml:"query_ttl" json:"query_ttl"`
	EmbeddingTTL      time.Duration `yaml:"embedding_ttl" json:"embedding_ttl"`
	QueryCapacity     int           `yaml:"query_capacity" json:"query_capacity"`
	EmbeddingCapacity int           `yaml:"embedding_capacity" json:"embedding_capacity"`
}

// GenerationConfig configures the answer generator.
type GenerationConfig struct {
	Model          string        `yaml:"model" json:"model"`
	Temperature    float64       `yaml:"temperature" json:"temperature"`
	MaxTokens      int           `yaml:"max_tokens" json:"max_tokens"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// IngestionConfig configures the ingestion worker pool.
type IngestionConfig struct {
	// Workers is the number of concurrent ingestion workers.
	Workers int `yaml:"workers" json:"workers"`
	// PollInterval is how often an idle worker polls the job queue.
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	// ExtractorTimeout bounds a single extractor subprocess run.
	ExtractorTimeout time.Duration `yaml:"extractor_timeout" json:"extractor_timeout"`
	// MaxFileSizeMB rejects uploads larger than this.
	MaxFileSizeMB int `yaml:"max_file_size_mb" json:"max_file_size_mb"`
}

// DefaultDataDir returns the default data directory (~/.docquery).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".docquery")
	}
	return filepath.Join(home, ".docquery")
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	dataDir := DefaultDataDir()
	return &Config{
		Storage: StorageConfig{
			DatabasePath: filepath.Join(dataDir, "docquery.db"),
			IndexDir:     filepath.Join(dataDir, "indexes"),
			IndexScope:   "chunks",
			UploadDir:    filepath.Join(dataDir, "uploads"),
		},
		Chunking: ChunkingConfig{
			ChunkSize:    512,
			ChunkOverlap: 50,
			MinChunkSize: 100,
		},
		Embeddings: EmbeddingsConfig{
			Model:          "text-embedding-3-small",
			Dimensions:     1536,
			BatchSize:      100,
			RequestTimeout: 30 * time.Second,
		},
		Search: SearchConfig{
			TopKDefault:              5,
			TopKMax:                  20,
			BranchMultiplier:         4,
			BranchCap:                100,
			RRFConstant:              60,
			AlphaDefault:             0.5,
			CompactionTombstoneRatio: 0.2,
		},
		Cache: CacheConfig{
			QueryTTL:          time.Hour,
			EmbeddingTTL:      24 * time.Hour,
			QueryCapacity:     4096,
			EmbeddingCapacity: 16384,
		},
		Generation: GenerationConfig{
			Model:          "gpt-4o-mini",
			Temperature:    0.3,
			MaxTokens:      1000,
			RequestTimeout: 60 * time.Second,
		},
		Ingestion: IngestionConfig{
			Workers:          runtime.NumCPU(),
			PollInterval:     time.Second,
			ExtractorTimeout: 2 * time.Minute,
			MaxFileSizeMB:    50,
		},
		LogLevel: "info",
	}
}

// ConfigPath returns the path to the configuration file.
// It follows the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/docquery/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/docquery/config.yaml (default)
func ConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "docquery", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "docquery", "config.yaml")
	}
	return filepath.Join(home, ".config", "docquery", "config.yaml")
}

// Load loads configuration from the default location plus the environment.
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom loads configuration from a specific YAML file. A missing file is
// fine; defaults plus environment overrides are used.
func LoadFrom(path string) (*Config, error) {
	cfg := NewConfig()

	if _, err := os.Stat(path); err == nil {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	// Storage
	if other.Storage.DatabasePath != "" {
		c.Storage.DatabasePath = other.Storage.DatabasePath
	}
	if other.Storage.IndexDir != "" {
		c.Storage.IndexDir = other.Storage.IndexDir
	}
	if other.Storage.IndexScope != "" {
		c.Storage.IndexScope = other.Storage.IndexScope
	}
	if other.Storage.UploadDir != "" {
		c.Storage.UploadDir = other.Storage.UploadDir
	}

	// Chunking
	if other.Chunking.ChunkSize != 0 {
		c.Chunking.ChunkSize = other.Chunking.ChunkSize
	}
	if other.Chunking.ChunkOverlap != 0 {
		c.Chunking.ChunkOverlap = other.Chunking.ChunkOverlap
	}
	if other.Chunking.MinChunkSize != 0 {
		c.Chunking.MinChunkSize = other.Chunking.MinChunkSize
	}

	// Embeddings
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.RequestTimeout != 0 {
		c.Embeddings.RequestTimeout = other.Embeddings.RequestTimeout
	}

	// Search
	if other.Search.TopKDefault != 0 {
		c.Search.TopKDefault = other.Search.TopKDefault
	}
	if other.Search.TopKMax != 0 {
		c.Search.TopKMax = other.Search.TopKMax
	}
	if other.Search.BranchMultiplier != 0 {
		c.Search.BranchMultiplier = other.Search.BranchMultiplier
	}
	if other.Search.BranchCap != 0 {
		c.Search.BranchCap = other.Search.BranchCap
	}
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.AlphaDefault != 0 {
		c.Search.AlphaDefault = other.Search.AlphaDefault
	}
	if other.Search.CompactionTombstoneRatio != 0 {
		c.Search.CompactionTombstoneRatio = other.Search.CompactionTombstoneRatio
	}

	// Cache
	if other.Cache.QueryTTL != 0 {
		c.Cache.QueryTTL = other.Cache.QueryTTL
	}
	if other.Cache.EmbeddingTTL != 0 {
		c.Cache.EmbeddingTTL = other.Cache.EmbeddingTTL
	}
	if other.Cache.QueryCapacity != 0 {
		c.Cache.QueryCapacity = other.Cache.QueryCapacity
	}
	if other.Cache.EmbeddingCapacity != 0 {
		c.Cache.EmbeddingCapacity = other.Cache.EmbeddingCapacity
	}

	// Generation
	if other.Generation.Model != "" {
		c.Generation.Model = other.Generation.Model
	}
	if other.Generation.Temperature != 0 {
		c.Generation.Temperature = other.Generation.Temperature
	}
	if other.Generation.MaxTokens != 0 {
		c.Generation.MaxTokens = other.Generation.MaxTokens
	}
	if other.Generation.RequestTimeout != 0 {
		c.Generation.RequestTimeout = other.Generation.RequestTimeout
	}

	// Ingestion
	if other.Ingestion.Workers != 0 {
		c.Ingestion.Workers = other.Ingestion.Workers
	}
	if other.Ingestion.PollInterval != 0 {
		c.Ingestion.PollInterval = other.Ingestion.PollInterval
	}
	if other.Ingestion.ExtractorTimeout != 0 {
		c.Ingestion.ExtractorTimeout = other.Ingestion.ExtractorTimeout
	}
	if other.Ingestion.MaxFileSizeMB != 0 {
		c.Ingestion.MaxFileSizeMB = other.Ingestion.MaxFileSizeMB
	}

	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
}

// applyEnvOverrides applies DOCQUERY_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DOCQUERY_DATABASE_PATH"); v != "" {
		c.Storage.DatabasePath = v
	}
	if v := os.Getenv("DOCQUERY_INDEX_DIR"); v != "" {
		c.Storage.IndexDir = v
	}
	if v := os.Getenv("DOCQUERY_UPLOAD_DIR"); v != "" {
		c.Storage.UploadDir = v
	}
	if v := os.Getenv("DOCQUERY_EMBEDDING_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("DOCQUERY_EMBEDDING_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embeddings.Dimensions = n
		}
	}
	if v := os.Getenv("DOCQUERY_GENERATION_MODEL"); v != "" {
		c.Generation.Model = v
	}
	if v := os.Getenv("DOCQUERY_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	if v := os.Getenv("DOCQUERY_ALPHA_DEFAULT"); v != "" {
		if a, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && a >= 0 && a <= 1 {
			c.Search.AlphaDefault = a
		}
	}
	if v := os.Getenv("DOCQUERY_INGEST_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Ingestion.Workers = n
		}
	}
	if v := os.Getenv("DOCQUERY_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("chunking.chunk_size must be positive, got %d", c.Chunking.ChunkSize)
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunking.chunk_overlap must be in [0, chunk_size), got %d", c.Chunking.ChunkOverlap)
	}
	if c.Chunking.MinChunkSize < 0 || c.Chunking.MinChunkSize > c.Chunking.ChunkSize {
		return fmt.Errorf("chunking.min_chunk_size must be in [0, chunk_size], got %d", c.Chunking.MinChunkSize)
	}

	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}

	if c.Search.TopKDefault <= 0 || c.Search.TopKDefault > c.Search.TopKMax {
		return fmt.Errorf("search.topk_default must be in [1, topk_max], got %d", c.Search.TopKDefault)
	}
	if c.Search.BranchMultiplier <= 0 {
		return fmt.Errorf("search.branch_multiplier must be positive, got %d", c.Search.BranchMultiplier)
	}
	if c.Search.BranchCap <= 0 {
		return fmt.Errorf("search.branch_cap must be positive, got %d", c.Search.BranchCap)
	}
	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("search.rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	if c.Search.AlphaDefault < 0 || c.Search.AlphaDefault > 1 {
		return fmt.Errorf("search.alpha_default must be between 0 and 1, got %f", c.Search.AlphaDefault)
	}
	if c.Search.CompactionTombstoneRatio <= 0 || c.Search.CompactionTombstoneRatio > 1 {
		return fmt.Errorf("search.compaction_tombstone_ratio must be in (0, 1], got %f", c.Search.CompactionTombstoneRatio)
	}

	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		return fmt.Errorf("generation.temperature must be between 0 and 2, got %f", c.Generation.Temperature)
	}
	if c.Generation.MaxTokens < 100 || c.Generation.MaxTokens > 4000 {
		return fmt.Errorf("generation.max_tokens must be between 100 and 4000, got %d", c.Generation.MaxTokens)
	}

	if c.Ingestion.Workers <= 0 {
		return fmt.Errorf("ingestion.workers must be positive, got %d", c.Ingestion.Workers)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.LogLevel)
	}

	return nil
}

// IndexPath returns the vector index file path (<index_dir>/<scope>.vec).
func (c *Config) IndexPath() string {
	return filepath.Join(c.Storage.IndexDir, c.Storage.IndexScope+".vec")
}

// SidecarPath returns the sidecar file path (<index_dir>/<scope>.sid).
func (c *Config) SidecarPath() string {
	return filepath.Join(c.Storage.IndexDir, c.Storage.IndexScope+".sid")
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
