package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	dqerrors "github.com/docquery/docquery/internal/errors"
)

// Generation parameter bounds.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
	MinMaxTokens   = 100
	MaxMaxTokens   = 4000
)

// GenRequest is one completion request.
type GenRequest struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Usage is the provider's token accounting for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GenResult is one finished completion with the serving model and its
// token accounting.
type GenResult struct {
	Text  string
	Model string
	Usage Usage
}

// Generator produces answers from assembled prompts.
type Generator interface {
	// Complete returns the full answer in one shot.
	Complete(ctx context.Context, req GenRequest) (GenResult, error)

	// Stream sends answer text to fn as it is produced. A non-nil return
	// from fn aborts generation.
	Stream(ctx context.Context, req GenRequest, fn func(delta string) error) error
}

// GeneratorConfig configures the OpenAI generator.
type GeneratorConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	RequestTimeout time.Duration
	Retry          dqerrors.RetryConfig
}

// OpenAIGenerator generates answers through the OpenAI chat API.
type OpenAIGenerator struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	retry   dqerrors.RetryConfig
	logger  *slog.Logger
}

var _ Generator = (*OpenAIGenerator)(nil)

// NewOpenAIGenerator creates an OpenAI-backed generator.
func NewOpenAIGenerator(cfg GeneratorConfig, logger *slog.Logger) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, dqerrors.New(dqerrors.ErrCodeConfigInvalid,
			"OpenAI API key is not set (OPENAI_API_KEY)", nil)
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
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

	return &OpenAIGenerator{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: cfg.RequestTimeout,
		retry:   cfg.Retry,
		logger:  logger.With("component", "rag"),
	}, nil
}

func (g *OpenAIGenerator) chatRequest(req GenRequest, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
	}
}

// Complete returns the full answer in one request, retrying transient
// provider failures.
func (g *OpenAIGenerator) Complete(ctx context.Context, req GenRequest) (GenResult, error) {
	resp, err := dqerrors.RetryWithResult(ctx, g.retry, func() (openai.ChatCompletionResponse, error) {
		reqCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		resp, err := g.client.CreateChatCompletion(reqCtx, g.chatRequest(req, false))
		if err != nil {
			return openai.ChatCompletionResponse{}, classifyLLMError(err)
		}
		return resp, nil
	})
	if err != nil {
		return GenResult{}, err
	}
	if len(resp.Choices) == 0 {
		return GenResult{}, dqerrors.New(dqerrors.ErrCodeLLMUnavailable, "provider returned no choices", nil)
	}
	return GenResult{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// Stream forwards answer deltas as the provider produces them. The request
// timeout covers the whole stream.
func (g *OpenAIGenerator) Stream(ctx context.Context, req GenRequest, fn func(delta string) error) error {
	streamCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	stream, err := g.client.CreateChatCompletionStream(streamCtx, g.chatRequest(req, true))
	if err != nil {
		return classifyLLMError(err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return classifyLLMError(err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			if err := fn(delta); err != nil {
				return err
			}
		}
	}
}

// classifyLLMError maps provider failures onto structured codes, keeping
// rate limits and server errors retryable.
func classifyLLMError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			return dqerrors.Wrap(dqerrors.ErrCodeLLMUnavailable, err)
		}
		return dqerrors.Wrap(dqerrors.ErrCodeInvalidInput, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return dqerrors.Wrap(dqerrors.ErrCodeLLMUnavailable, err)
}

// ValidateGenParams checks caller-supplied generation overrides.
func ValidateGenParams(temperature float64, maxTokens int) error {
	if temperature < MinTemperature || temperature > MaxTemperature {
		return dqerrors.ValidationError(
			fmt.Sprintf("temperature must be between %g and %g", MinTemperature, MaxTemperature))
	}
	if maxTokens < MinMaxTokens || maxTokens > MaxMaxTokens {
		return dqerrors.ValidationError(
			fmt.Sprintf("max_tokens must be between %d and %d", MinMaxTokens, MaxMaxTokens))
	}
	return nil
}
