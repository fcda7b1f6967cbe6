package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/docquery/docquery/internal/cache"
	"github.com/docquery/docquery/internal/chunk"
	"github.com/docquery/docquery/internal/config"
	"github.com/docquery/docquery/internal/embed"
	"github.com/docquery/docquery/internal/extract"
	"github.com/docquery/docquery/internal/ingest"
	"github.com/docquery/docquery/internal/logging"
	"github.com/docquery/docquery/internal/rag"
	"github.com/docquery/docquery/internal/search"
	"github.com/docquery/docquery/internal/store"
	"github.com/docquery/docquery/internal/vecindex"
)

// app holds the wired core dependencies every command starts from. Embedder,
// search engine, ingestion service, and RAG orchestrator are built on demand
// so commands that only touch the store work without an OpenAI API key.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store
	index  *vecindex.Index
	cache  *cache.Cache

	cleanups []func()
}

// newApp loads configuration, sets up logging, and opens the store, the
// vector index, and the cache.
func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if debugMode {
		level = "debug"
	}
	logger, logCleanup, err := logging.Setup(logging.Config{
		Level:         level,
		FilePath:      logging.DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}
	a.cleanups = append(a.cleanups, logCleanup)

	for _, dir := range []string{
		filepath.Dir(cfg.Storage.DatabasePath),
		cfg.Storage.IndexDir,
		cfg.Storage.UploadDir,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
		}
	}

	st, err := store.Open(cfg.Storage.DatabasePath, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.store = st
	a.cleanups = append(a.cleanups, func() { _ = st.Close() })

	idx, err := vecindex.New(cfg.IndexPath(), cfg.SidecarPath(), cfg.Embeddings.Dimensions, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}
	a.index = idx
	a.cleanups = append(a.cleanups, func() { _ = idx.Close() })

	a.cache = cache.New(cache.Config{
		QueryTTL:          cfg.Cache.QueryTTL,
		EmbeddingTTL:      cfg.Cache.EmbeddingTTL,
		QueryCapacity:     cfg.Cache.QueryCapacity,
		EmbeddingCapacity: cfg.Cache.EmbeddingCapacity,
	}, logger)

	return a, nil
}

// Close releases resources in reverse acquisition order.
func (a *app) Close() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
	a.cleanups = nil
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFrom(configPath)
	}
	return config.Load()
}

// newEmbedder builds the OpenAI embedder wrapped with the embedding cache.
func (a *app) newEmbedder() (embed.Embedder, error) {
	inner, err := embed.NewOpenAIEmbedder(embed.OpenAIConfig{
		APIKey:         os.Getenv("OPENAI_API_KEY"),
		BaseURL:        os.Getenv("OPENAI_BASE_URL"),
		Model:          a.cfg.Embeddings.Model,
		Dimensions:     a.cfg.Embeddings.Dimensions,
		BatchSize:      a.cfg.Embeddings.BatchSize,
		RequestTimeout: a.cfg.Embeddings.RequestTimeout,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	return embed.NewCachedEmbedder(inner, a.cache), nil
}

// newEngine builds the hybrid search engine.
func (a *app) newEngine() (*search.Engine, error) {
	embedder, err := a.newEmbedder()
	if err != nil {
		return nil, err
	}
	return search.NewEngine(a.store, a.index, embedder, a.cache, search.Config{
		TopKDefault:      a.cfg.Search.TopKDefault,
		TopKMax:          a.cfg.Search.TopKMax,
		BranchMultiplier: a.cfg.Search.BranchMultiplier,
		BranchCap:        a.cfg.Search.BranchCap,
		RRFConstant:      a.cfg.Search.RRFConstant,
		AlphaDefault:     a.cfg.Search.AlphaDefault,
	}, a.logger)
}

// newIngestService builds the ingestion service. Commands that only manage
// document lifecycle (delete, resubmit) skip the embedder; the workers that
// actually process jobs need it.
func (a *app) newIngestService(withEmbedder bool) (*ingest.Service, error) {
	var embedder embed.Embedder
	if withEmbedder {
		var err error
		embedder, err = a.newEmbedder()
		if err != nil {
			return nil, err
		}
	}

	cfg := ingest.Config{
		Workers:       a.cfg.Ingestion.Workers,
		PollInterval:  a.cfg.Ingestion.PollInterval,
		MaxFileSizeMB: a.cfg.Ingestion.MaxFileSizeMB,
		UploadDir:     a.cfg.Storage.UploadDir,
		ChunkOptions: chunk.Options{
			MaxTokens:     a.cfg.Chunking.ChunkSize,
			OverlapTokens: a.cfg.Chunking.ChunkOverlap,
			MinTokens:     a.cfg.Chunking.MinChunkSize,
		},
		CompactionTombstoneRatio: a.cfg.Search.CompactionTombstoneRatio,
	}
	registry := extract.NewRegistry(a.cfg.Ingestion.ExtractorTimeout)
	return ingest.NewService(a.store, a.index, embedder, registry, a.cache, cfg, a.logger), nil
}

// newOrchestrator builds the RAG orchestrator over the search engine and the
// OpenAI chat generator.
func (a *app) newOrchestrator() (*rag.Orchestrator, error) {
	engine, err := a.newEngine()
	if err != nil {
		return nil, err
	}
	generator, err := rag.NewOpenAIGenerator(rag.GeneratorConfig{
		APIKey:         os.Getenv("OPENAI_API_KEY"),
		BaseURL:        os.Getenv("OPENAI_BASE_URL"),
		Model:          a.cfg.Generation.Model,
		RequestTimeout: a.cfg.Generation.RequestTimeout,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	return rag.New(engine, generator, a.store, rag.Config{
		Temperature: a.cfg.Generation.Temperature,
		MaxTokens:   a.cfg.Generation.MaxTokens,
	}, a.logger)
}
