package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, queryTTL time.Duration) *Cache {
	t.Helper()
	cfg := DefaultConfig()
	if queryTTL > 0 {
		cfg.QueryTTL = queryTTL
	}
	return New(cfg, nil)
}

func TestQueryKey_DeterministicAndScoped(t *testing.T) {
	// Given: identical parameters
	k1 := QueryKey("what is rrf", 5, "hybrid", 0.5, 1)
	k2 := QueryKey("what is rrf", 5, "hybrid", 0.5, 1)

	// Then: same key, prefixed for the query tier
	assert.Equal(t, k1, k2)
	assert.True(t, strings.HasPrefix(k1, QueryCachePrefix))

	// And: any parameter change produces a different key
	assert.NotEqual(t, k1, QueryKey("what is rrf", 6, "hybrid", 0.5, 1))
	assert.NotEqual(t, k1, QueryKey("what is rrf", 5, "vector", 0.5, 1))
	assert.NotEqual(t, k1, QueryKey("what is rrf", 5, "hybrid", 0.7, 1))
	assert.NotEqual(t, k1, QueryKey("what is rrf", 5, "hybrid", 0.5, 2))
}

func TestQueryCache_SetGetRoundTrip(t *testing.T) {
	c := newTestCache(t, 0)
	key := QueryKey("q", 5, "hybrid", 0.5, 7)

	_, ok := c.GetQuery(key)
	require.False(t, ok)

	c.SetQuery(key, 7, []byte(`[{"chunk_id":1}]`))

	got, ok := c.GetQuery(key)
	require.True(t, ok)
	assert.Equal(t, []byte(`[{"chunk_id":1}]`), got)
}

func TestQueryCache_TTLExpiry(t *testing.T) {
	c := newTestCache(t, 30*time.Millisecond)
	key := QueryKey("q", 5, "hybrid", 0.5, 7)
	c.SetQuery(key, 7, []byte("x"))

	_, ok := c.GetQuery(key)
	require.True(t, ok)

	time.Sleep(60 * time.Millisecond)

	_, ok = c.GetQuery(key)
	assert.False(t, ok, "entry should have expired")
}

func TestInvalidateUser_EvictsOnlyThatOwner(t *testing.T) {
	c := newTestCache(t, 0)

	keyA := QueryKey("q1", 5, "hybrid", 0.5, 1)
	keyB := QueryKey("q2", 5, "hybrid", 0.5, 1)
	keyC := QueryKey("q1", 5, "hybrid", 0.5, 2)
	c.SetQuery(keyA, 1, []byte("a"))
	c.SetQuery(keyB, 1, []byte("b"))
	c.SetQuery(keyC, 2, []byte("c"))

	evicted := c.InvalidateUser(1)
	assert.Equal(t, 2, evicted)

	_, ok := c.GetQuery(keyA)
	assert.False(t, ok)
	_, ok = c.GetQuery(keyB)
	assert.False(t, ok)
	_, ok = c.GetQuery(keyC)
	assert.True(t, ok, "other owner's entry must survive")
}

func TestEmbeddingCache_RoundTrip(t *testing.T) {
	c := newTestCache(t, 0)

	_, ok := c.GetEmbedding("hello world")
	require.False(t, ok)

	vec := []float32{0.1, 0.2, 0.3}
	c.SetEmbedding("hello world", vec)

	got, ok := c.GetEmbedding("hello world")
	require.True(t, ok)
	assert.Equal(t, vec, got)

	_, ok = c.GetEmbedding("different text")
	assert.False(t, ok)
}

func TestTokenRevocation(t *testing.T) {
	c := newTestCache(t, 0)

	assert.False(t, c.IsTokenRevoked("tok-123"))
	c.RevokeToken("tok-123")
	assert.True(t, c.IsTokenRevoked("tok-123"))
	assert.False(t, c.IsTokenRevoked("tok-456"))
}

func TestStats_CountsHitsAndMisses(t *testing.T) {
	c := newTestCache(t, 0)
	key := QueryKey("q", 5, "hybrid", 0.5, 1)

	c.GetQuery(key) // miss
	c.SetQuery(key, 1, []byte("x"))
	c.GetQuery(key) // hit
	c.GetQuery(key) // hit

	c.GetEmbedding("t") // miss
	c.SetEmbedding("t", []float32{1})
	c.GetEmbedding("t") // hit

	s := c.Stats()
	assert.Equal(t, uint64(2), s.QueryHits)
	assert.Equal(t, uint64(1), s.QueryMisses)
	assert.InDelta(t, 2.0/3.0, s.QueryHitRate, 1e-9)
	assert.Equal(t, uint64(1), s.EmbeddingHits)
	assert.Equal(t, uint64(1), s.EmbeddingMisses)

	c.ResetStats()
	s = c.Stats()
	assert.Zero(t, s.QueryHits)
	assert.Zero(t, s.QueryMisses)
}

func TestSetQuery_RejectsForeignKey(t *testing.T) {
	c := newTestCache(t, 0)

	c.SetQuery("not-a-query-key", 1, []byte("x"))
	_, ok := c.GetQuery("not-a-query-key")
	assert.False(t, ok)
}

func TestPurge_EmptiesAllTiers(t *testing.T) {
	c := newTestCache(t, 0)
	key := QueryKey("q", 5, "hybrid", 0.5, 1)
	c.SetQuery(key, 1, []byte("x"))
	c.SetEmbedding("t", []float32{1})
	c.RevokeToken("tok")

	c.Purge()

	_, ok := c.GetQuery(key)
	assert.False(t, ok)
	_, ok = c.GetEmbedding("t")
	assert.False(t, ok)
	assert.False(t, c.IsTokenRevoked("tok"))
}
