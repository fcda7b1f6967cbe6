package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/docquery/docquery/internal/cache"
	"github.com/docquery/docquery/internal/embed"
	dqerrors "github.com/docquery/docquery/internal/errors"
	"github.com/docquery/docquery/internal/store"
	"github.com/docquery/docquery/internal/vecindex"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// ChunkStore is the slice of the primary store the engine needs.
type ChunkStore interface {
	SearchLexical(ctx context.Context, query string, k int, ownerID, documentID int64) ([]store.LexicalHit, error)
	GetChunksWithDocuments(ctx context.Context, ids []int64) (map[int64]*store.ChunkWithDocument, error)
}

// VectorIndex is the slice of the vector index the engine needs.
type VectorIndex interface {
	Search(query []float32, k int) ([]vecindex.Result, error)
}

// Config configures retrieval behavior.
type Config struct {
	TopKDefault      int
	TopKMax          int
	BranchMultiplier int
	BranchCap        int
	RRFConstant      int
	AlphaDefault     float64
}

// DefaultConfig returns the standard retrieval configuration.
func DefaultConfig() Config {
	return Config{
		TopKDefault:      5,
		TopKMax:          20,
		BranchMultiplier: 4,
		BranchCap:        100,
		RRFConstant:      DefaultRRFConstant,
		AlphaDefault:     0.5,
	}
}

// Engine runs hybrid retrieval over the vector and lexical indexes.
type Engine struct {
	store    ChunkStore
	index    VectorIndex
	embedder embed.Embedder
	cache    *cache.Cache // nil disables result caching
	fusion   *RRFFusion
	cfg      Config
	logger   *slog.Logger
}

// NewEngine creates a search engine. The cache is optional; everything else
// is required.
func NewEngine(st ChunkStore, index VectorIndex, embedder embed.Embedder, c *cache.Cache, cfg Config, logger *slog.Logger) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: chunk store is required", ErrNilDependency)
	}
	if index == nil {
		return nil, fmt.Errorf("%w: vector index is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	if cfg.TopKDefault <= 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    st,
		index:    index,
		embedder: embedder,
		cache:    c,
		fusion:   NewRRFFusion(cfg.RRFConstant),
		cfg:      cfg,
		logger:   logger.With("component", "search"),
	}, nil
}

// Search runs the requested retrieval branches in parallel, fuses their
// rankings, and returns the enriched top-k results.
//
// A single failed branch degrades to the surviving one; the search fails
// only when every requested branch fails.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if err := req.normalize(e.cfg.TopKDefault, e.cfg.TopKMax, e.cfg.AlphaDefault); err != nil {
		return nil, err
	}
	queryID := uuid.NewString()

	// Document-scoped requests bypass the cache; its key does not carry the
	// document filter.
	cacheable := e.cache != nil && req.DocumentID == 0
	key := cache.QueryKey(req.Query, req.K, string(req.Mode), req.Alpha, req.UserID)
	if cacheable {
		if payload, ok := e.cache.GetQuery(key); ok {
			var results []Result
			if err := json.Unmarshal(payload, &results); err == nil {
				e.logger.Debug("search_cache_hit", "user_id", req.UserID, "k", req.K)
				return &Response{
					QueryID: queryID,
					Results: results,
					K:       req.K,
					Cached:  true,
					TookMs:  float64(time.Since(start).Microseconds()) / 1000,
				}, nil
			}
			// A payload that fails to decode counts as a miss.
		}
	}

	branchK := min(e.cfg.BranchMultiplier*req.K, e.cfg.BranchCap)

	var (
		g       errgroup.Group
		vecHits []rankedHit
		lexHits []rankedHit
		vecErr  error
		lexErr  error
	)
	runVec := req.Mode != ModeLexical
	runLex := req.Mode != ModeVector

	if runVec {
		g.Go(func() error {
			vecHits, vecErr = e.vectorBranch(ctx, req, branchK)
			return nil
		})
	}
	if runLex {
		g.Go(func() error {
			lexHits, lexErr = e.lexicalBranch(ctx, req, branchK)
			return nil
		})
	}
	_ = g.Wait()

	if err := e.checkBranches(req.Mode, vecErr, lexErr); err != nil {
		return nil, err
	}

	fused := e.fusion.Fuse(vecHits, lexHits, req.Alpha)
	if len(fused) > req.K {
		fused = fused[:req.K]
	}

	results, err := e.enrich(ctx, fused)
	if err != nil {
		return nil, err
	}

	if cacheable && len(results) > 0 {
		if payload, err := json.Marshal(results); err == nil {
			e.cache.SetQuery(key, req.UserID, payload)
		}
	}

	tookMs := float64(time.Since(start).Microseconds()) / 1000
	e.logger.Info("search_completed",
		"query_id", queryID,
		"user_id", req.UserID,
		"mode", string(req.Mode),
		"k", req.K,
		"results", len(results),
		"took_ms", tookMs)

	return &Response{QueryID: queryID, Results: results, K: req.K, TookMs: tookMs}, nil
}

// vectorBranch embeds the query, searches the flat index, and filters hits
// to chunks the requesting user owns. Similarity is 1/(1+distance).
func (e *Engine) vectorBranch(ctx context.Context, req Request, k int) ([]rankedHit, error) {
	var queryVec []float32
	if cached, ok := e.cachedQueryEmbedding(req.Query); ok {
		queryVec = cached
	} else {
		vectors, err := e.embedder.Embed(ctx, []string{req.Query})
		if err != nil {
			return nil, err
		}
		queryVec = vectors[0]
	}

	raw, err := e.index.Search(queryVec, k)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	// Ownership is filtered after the fact; the index itself is shared.
	ids := make([]int64, len(raw))
	for i, r := range raw {
		ids[i] = r.ChunkID
	}
	owned, err := e.store.GetChunksWithDocuments(ctx, ids)
	if err != nil {
		return nil, err
	}

	hits := make([]rankedHit, 0, len(raw))
	for _, r := range raw {
		cw, ok := owned[r.ChunkID]
		if !ok || cw.OwnerID != req.UserID {
			continue
		}
		if req.DocumentID != 0 && cw.DocumentID != req.DocumentID {
			continue
		}
		hits = append(hits, rankedHit{
			ChunkID: r.ChunkID,
			Score:   1 / (1 + float64(r.Distance)),
		})
	}
	return hits, nil
}

// cachedQueryEmbedding consults the embedding cache directly so a cache hit
// skips the provider round trip even with an uncached embedder.
func (e *Engine) cachedQueryEmbedding(query string) ([]float32, bool) {
	if e.cache == nil {
		return nil, false
	}
	return e.cache.GetEmbedding(query)
}

func (e *Engine) lexicalBranch(ctx context.Context, req Request, k int) ([]rankedHit, error) {
	raw, err := e.store.SearchLexical(ctx, req.Query, k, req.UserID, req.DocumentID)
	if err != nil {
		return nil, err
	}
	hits := make([]rankedHit, 0, len(raw))
	for _, r := range raw {
		hits = append(hits, rankedHit{ChunkID: r.ChunkID, Score: r.Score})
	}
	return hits, nil
}

// checkBranches applies the degradation policy: warn on a single branch
// failure, fail only when nothing succeeded.
func (e *Engine) checkBranches(mode Mode, vecErr, lexErr error) error {
	switch mode {
	case ModeVector:
		if vecErr != nil {
			return dqerrors.New(dqerrors.ErrCodeSearchUnavailable, "vector search failed", vecErr)
		}
	case ModeLexical:
		if lexErr != nil {
			return dqerrors.New(dqerrors.ErrCodeSearchUnavailable, "lexical search failed", lexErr)
		}
	default:
		if vecErr != nil && lexErr != nil {
			return dqerrors.New(dqerrors.ErrCodeSearchUnavailable,
				"both retrieval branches failed", errors.Join(vecErr, lexErr))
		}
		if vecErr != nil {
			e.logger.Warn("search_branch_degraded", "branch", "vector", "error", vecErr)
		}
		if lexErr != nil {
			e.logger.Warn("search_branch_degraded", "branch", "lexical", "error", lexErr)
		}
	}
	return nil
}

// enrich joins fused rankings with chunk and document metadata. Chunks
// deleted since the branch fetch are silently dropped.
func (e *Engine) enrich(ctx context.Context, fused []*FusedResult) ([]Result, error) {
	if len(fused) == 0 {
		return []Result{}, nil
	}

	ids := make([]int64, len(fused))
	for i, f := range fused {
		ids[i] = f.ChunkID
	}
	meta, err := e.store.GetChunksWithDocuments(ctx, ids)
	if err != nil {
		return nil, dqerrors.StoreError("failed to enrich search results", err)
	}

	results := make([]Result, 0, len(fused))
	for _, f := range fused {
		cw, ok := meta[f.ChunkID]
		if !ok {
			continue
		}
		r := Result{
			ChunkID:          f.ChunkID,
			DocumentID:       cw.DocumentID,
			DocumentFilename: cw.DocumentFilename,
			ChunkIndex:       cw.ChunkIndex,
			Page:             cw.PageNumber,
			Content:          cw.Content,
			Score:            f.RRFScore,
			Rank:             len(results) + 1,
		}
		if f.VectorRank > 0 {
			score := f.VectorScore
			r.VectorScore = &score
		}
		if f.LexicalRank > 0 {
			score := f.LexicalScore
			r.LexicalScore = &score
		}
		results = append(results, r)
	}
	return results, nil
}
