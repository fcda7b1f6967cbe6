package embed

import (
	"context"

	"github.com/docquery/docquery/internal/cache"
)

// CachedEmbedder wraps an Embedder with the embedding cache. Texts already
// cached are served locally; only misses reach the provider, in their
// original order.
type CachedEmbedder struct {
	inner Embedder
	cache *cache.Cache
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps inner with the cache. A nil cache passes through.
func NewCachedEmbedder(inner Embedder, c *cache.Cache) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: c}
}

func (e *CachedEmbedder) Dimensions() int { return e.inner.Dimensions() }

func (e *CachedEmbedder) ModelID() string { return e.inner.ModelID() }

func (e *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.cache == nil {
		return e.inner.Embed(ctx, texts)
	}

	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		if vec, ok := e.cache.GetEmbedding(text); ok {
			out[i] = vec
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := e.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, vec := range vectors {
		out[missIdx[j]] = vec
		e.cache.SetEmbedding(missTexts[j], vec)
	}
	return out, nil
}
