package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	dqerrors "github.com/docquery/docquery/internal/errors"
)

// embeddingsAPI is the slice of the OpenAI client used here, split out so
// tests can stub the provider.
type embeddingsAPI interface {
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// OpenAIConfig configures the OpenAI embedder.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string // override for proxies and compatible providers
	Model          string
	Dimensions     int // 0 means look up the model default
	BatchSize      int
	RequestTimeout time.Duration
	Retry          dqerrors.RetryConfig
}

// OpenAIEmbedder generates embeddings through the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client  embeddingsAPI
	model   string
	dims    int
	batch   int
	timeout time.Duration
	retry   dqerrors.RetryConfig
	logger  *slog.Logger
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an OpenAI embedder.
func NewOpenAIEmbedder(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, dqerrors.New(dqerrors.ErrCodeConfigInvalid,
			"OpenAI API key is not set (OPENAI_API_KEY)", nil)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = ModelDimensions(cfg.Model)
	}
	if cfg.Dimensions == 0 {
		return nil, dqerrors.New(dqerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown embedding model %q requires explicit dimensions", cfg.Model), nil)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultTimeout
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = dqerrors.DefaultRetryConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIEmbedder{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		dims:    cfg.Dimensions,
		batch:   cfg.BatchSize,
		timeout: cfg.RequestTimeout,
		retry:   cfg.Retry,
		logger:  logger.With("component", "embed"),
	}, nil
}

// Dimensions returns the embedding width.
func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

// ModelID returns the model identifier.
func (e *OpenAIEmbedder) ModelID() string { return e.model }

// Embed returns one embedding per text, batching provider requests.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batch {
		end := min(start+e.batch, len(texts))
		vectors, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	started := time.Now()

	resp, err := dqerrors.RetryWithResult(ctx, e.retry, func() (openai.EmbeddingResponse, error) {
		reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		resp, err := e.client.CreateEmbeddings(reqCtx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			return openai.EmbeddingResponse{}, classifyProviderError(err)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return nil, dqerrors.New(dqerrors.ErrCodeEmbeddingUnavailable,
			fmt.Sprintf("provider returned %d embeddings for %d texts", len(resp.Data), len(texts)), nil)
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, dqerrors.New(dqerrors.ErrCodeEmbeddingUnavailable,
				fmt.Sprintf("provider returned out-of-range embedding index %d", d.Index), nil)
		}
		if len(d.Embedding) != e.dims {
			return nil, dqerrors.New(dqerrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("provider returned %d-dim embedding, expected %d", len(d.Embedding), e.dims), nil)
		}
		vectors[d.Index] = d.Embedding
	}

	e.logger.Debug("embeddings_generated",
		"model", e.model,
		"texts", len(texts),
		"duration_ms", time.Since(started).Milliseconds())
	return vectors, nil
}

// classifyProviderError maps provider failures onto structured codes.
// Rate limits and server errors stay retryable; other API rejections do not.
func classifyProviderError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			return dqerrors.Wrap(dqerrors.ErrCodeEmbeddingUnavailable, err)
		}
		return dqerrors.Wrap(dqerrors.ErrCodeInvalidInput, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return dqerrors.Wrap(dqerrors.ErrCodeEmbeddingUnavailable, err)
}
