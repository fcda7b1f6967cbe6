package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docquery/docquery/internal/cache"
)

// fakeEmbedder returns deterministic vectors and records every provider call.
type fakeEmbedder struct {
	dims  int
	calls [][]string
}

var _ Embedder = (*fakeEmbedder)(nil)

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, f.dims)
		vec[0] = float32(len(t))
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }

func (f *fakeEmbedder) ModelID() string { return "fake-model" }

func TestCachedEmbedderOnlyEmbedsMisses(t *testing.T) {
	inner := &fakeEmbedder{dims: 4}
	c := cache.New(cache.DefaultConfig(), nil)
	e := NewCachedEmbedder(inner, c)
	ctx := context.Background()

	first, err := e.Embed(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Len(t, inner.calls, 1)

	// Second call overlaps on "beta"; only "gamma" should hit the provider.
	second, err := e.Embed(ctx, []string{"beta", "gamma"})
	require.NoError(t, err)
	require.Len(t, second, 2)
	require.Len(t, inner.calls, 2)
	assert.Equal(t, []string{"gamma"}, inner.calls[1])

	assert.Equal(t, first[1], second[0])
}

func TestCachedEmbedderAllHitsSkipsProvider(t *testing.T) {
	inner := &fakeEmbedder{dims: 4}
	c := cache.New(cache.DefaultConfig(), nil)
	e := NewCachedEmbedder(inner, c)
	ctx := context.Background()

	_, err := e.Embed(ctx, []string{"alpha"})
	require.NoError(t, err)

	_, err = e.Embed(ctx, []string{"alpha"})
	require.NoError(t, err)
	assert.Len(t, inner.calls, 1)
}

func TestCachedEmbedderPreservesOrder(t *testing.T) {
	inner := &fakeEmbedder{dims: 4}
	c := cache.New(cache.DefaultConfig(), nil)
	e := NewCachedEmbedder(inner, c)
	ctx := context.Background()

	_, err := e.Embed(ctx, []string{"bb"})
	require.NoError(t, err)

	out, err := e.Embed(ctx, []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, float32(1), out[0][0])
	assert.Equal(t, float32(2), out[1][0])
	assert.Equal(t, float32(3), out[2][0])
}

func TestCachedEmbedderNilCachePassesThrough(t *testing.T) {
	inner := &fakeEmbedder{dims: 4}
	e := NewCachedEmbedder(inner, nil)

	out, err := e.Embed(context.Background(), []string{"alpha"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Len(t, inner.calls, 1)
}
