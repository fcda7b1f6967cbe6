// Package embed generates vector embeddings for chunk and query text.
package embed

import (
	"context"
	"time"
)

const (
	// DefaultModel is the embedding model used when none is configured.
	DefaultModel = "text-embedding-3-small"

	// DefaultBatchSize is the number of texts sent per provider request.
	DefaultBatchSize = 100

	// DefaultTimeout bounds a single provider request.
	DefaultTimeout = 30 * time.Second
)

// modelDimensions maps known embedding models to their output width.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// ModelDimensions returns the embedding width for a known model, or 0.
func ModelDimensions(model string) int {
	return modelDimensions[model]
}

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed returns one embedding per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding width.
	Dimensions() int

	// ModelID returns the model identifier recorded with each chunk.
	ModelID() string
}
