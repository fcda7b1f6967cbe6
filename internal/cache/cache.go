// Package cache provides the in-process TTL caches for DocQuery: query
// results, query embeddings, and revoked auth tokens.
//
// Cache failures are never fatal. Reads that go wrong count as misses and
// writes that go wrong are logged at warning, so a degraded cache only costs
// latency, never correctness.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Key prefixes, kept stable for operational visibility in logs and stats.
const (
	QueryCachePrefix     = "query_cache:"
	EmbeddingCachePrefix = "embedding_cache:"
	TokenBlacklistPrefix = "token_blacklist:"
)

// Default TTLs.
const (
	DefaultQueryTTL     = time.Hour
	DefaultEmbeddingTTL = 24 * time.Hour
	DefaultTokenTTL     = 24 * time.Hour
)

// Config configures cache capacities and TTLs.
type Config struct {
	QueryTTL          time.Duration
	EmbeddingTTL      time.Duration
	TokenTTL          time.Duration
	QueryCapacity     int
	EmbeddingCapacity int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueryTTL:          DefaultQueryTTL,
		EmbeddingTTL:      DefaultEmbeddingTTL,
		TokenTTL:          DefaultTokenTTL,
		QueryCapacity:     4096,
		EmbeddingCapacity: 16384,
	}
}

// queryEntry tags cached query payloads with their owner so that a worker
// finishing ingestion for one user can evict just that user's results.
type queryEntry struct {
	ownerID int64
	payload []byte
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	QueryHits        uint64  `json:"query_hits"`
	QueryMisses      uint64  `json:"query_misses"`
	QueryHitRate     float64 `json:"query_hit_rate"`
	EmbeddingHits    uint64  `json:"embedding_hits"`
	EmbeddingMisses  uint64  `json:"embedding_misses"`
	EmbeddingHitRate float64 `json:"embedding_hit_rate"`
	QueryEntries     int     `json:"query_entries"`
	EmbeddingEntries int     `json:"embedding_entries"`
}

// Cache is the multi-tier TTL cache. All methods are safe for concurrent use.
type Cache struct {
	queries    *expirable.LRU[string, queryEntry]
	embeddings *expirable.LRU[string, []float32]
	tokens     *expirable.LRU[string, struct{}]

	queryHits       atomic.Uint64
	queryMisses     atomic.Uint64
	embeddingHits   atomic.Uint64
	embeddingMisses atomic.Uint64

	mu     sync.Mutex // serializes owner-scoped eviction sweeps
	logger *slog.Logger
}

// New creates a Cache with the given configuration.
func New(cfg Config, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueryTTL <= 0 {
		cfg.QueryTTL = DefaultQueryTTL
	}
	if cfg.EmbeddingTTL <= 0 {
		cfg.EmbeddingTTL = DefaultEmbeddingTTL
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.QueryCapacity <= 0 {
		cfg.QueryCapacity = 4096
	}
	if cfg.EmbeddingCapacity <= 0 {
		cfg.EmbeddingCapacity = 16384
	}

	return &Cache{
		queries:    expirable.NewLRU[string, queryEntry](cfg.QueryCapacity, nil, cfg.QueryTTL),
		embeddings: expirable.NewLRU[string, []float32](cfg.EmbeddingCapacity, nil, cfg.EmbeddingTTL),
		tokens:     expirable.NewLRU[string, struct{}](cfg.EmbeddingCapacity, nil, cfg.TokenTTL),
		logger:     logger.With("component", "cache"),
	}
}

// QueryKey builds the deterministic cache key for a search request.
func QueryKey(query string, k int, searchType string, alpha float64, userID int64) string {
	data := fmt.Sprintf("%s|%d|%s|%g|%d", query, k, searchType, alpha, userID)
	sum := sha256.Sum256([]byte(data))
	return QueryCachePrefix + hex.EncodeToString(sum[:])
}

// embeddingKey hashes the text into an embedding cache key.
func embeddingKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return EmbeddingCachePrefix + hex.EncodeToString(sum[:])
}

// tokenKey hashes a raw token into a blacklist key.
func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return TokenBlacklistPrefix + hex.EncodeToString(sum[:])
}

// GetQuery returns the cached payload for a query key, if present and fresh.
func (c *Cache) GetQuery(key string) ([]byte, bool) {
	entry, ok := c.queries.Get(key)
	if !ok {
		c.queryMisses.Add(1)
		return nil, false
	}
	c.queryHits.Add(1)
	return entry.payload, true
}

// SetQuery caches a query payload under its key, tagged with the owning user.
func (c *Cache) SetQuery(key string, ownerID int64, payload []byte) {
	if !strings.HasPrefix(key, QueryCachePrefix) {
		c.logger.Warn("query_cache_key_rejected", "key", key)
		return
	}
	c.queries.Add(key, queryEntry{ownerID: ownerID, payload: payload})
}

// InvalidateUser evicts every cached query result belonging to ownerID.
// Returns the number of evicted entries.
func (c *Cache) InvalidateUser(ownerID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for _, key := range c.queries.Keys() {
		if entry, ok := c.queries.Peek(key); ok && entry.ownerID == ownerID {
			c.queries.Remove(key)
			evicted++
		}
	}
	if evicted > 0 {
		c.logger.Info("query_cache_invalidated", "owner_id", ownerID, "entries", evicted)
	}
	return evicted
}

// GetEmbedding returns the cached embedding for a text, if present and fresh.
func (c *Cache) GetEmbedding(text string) ([]float32, bool) {
	vec, ok := c.embeddings.Get(embeddingKey(text))
	if !ok {
		c.embeddingMisses.Add(1)
		return nil, false
	}
	c.embeddingHits.Add(1)
	return vec, true
}

// SetEmbedding caches an embedding for a text.
func (c *Cache) SetEmbedding(text string, vec []float32) {
	c.embeddings.Add(embeddingKey(text), vec)
}

// RevokeToken adds a token to the revocation set. The entry expires with the
// token TTL, matching the token's own lifetime.
func (c *Cache) RevokeToken(token string) {
	c.tokens.Add(tokenKey(token), struct{}{})
}

// IsTokenRevoked reports whether a token has been revoked. Fails open: an
// unavailable revocation set treats the token as valid.
func (c *Cache) IsTokenRevoked(token string) bool {
	_, ok := c.tokens.Get(tokenKey(token))
	return ok
}

// Stats returns a snapshot of cache counters and sizes.
func (c *Cache) Stats() Stats {
	s := Stats{
		QueryHits:        c.queryHits.Load(),
		QueryMisses:      c.queryMisses.Load(),
		EmbeddingHits:    c.embeddingHits.Load(),
		EmbeddingMisses:  c.embeddingMisses.Load(),
		QueryEntries:     c.queries.Len(),
		EmbeddingEntries: c.embeddings.Len(),
	}
	if total := s.QueryHits + s.QueryMisses; total > 0 {
		s.QueryHitRate = float64(s.QueryHits) / float64(total)
	}
	if total := s.EmbeddingHits + s.EmbeddingMisses; total > 0 {
		s.EmbeddingHitRate = float64(s.EmbeddingHits) / float64(total)
	}
	return s
}

// ResetStats zeroes all counters.
func (c *Cache) ResetStats() {
	c.queryHits.Store(0)
	c.queryMisses.Store(0)
	c.embeddingHits.Store(0)
	c.embeddingMisses.Store(0)
}

// Purge empties all cache tiers.
func (c *Cache) Purge() {
	c.queries.Purge()
	c.embeddings.Purge()
	c.tokens.Purge()
}
