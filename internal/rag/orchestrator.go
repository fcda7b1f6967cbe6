package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/docquery/docquery/internal/search"
	"github.com/docquery/docquery/internal/store"
)

// Retriever is the slice of the search engine the orchestrator needs.
type Retriever interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
}

// QueryLogStore records served queries.
type QueryLogStore interface {
	InsertQueryLog(ctx context.Context, log *store.QueryLog) error
}

// Config carries the generation defaults.
type Config struct {
	Temperature float64
	MaxTokens   int
}

// DefaultConfig returns the standard generation defaults.
func DefaultConfig() Config {
	return Config{Temperature: 0.3, MaxTokens: 1000}
}

// AskRequest is one question against a user's documents.
type AskRequest struct {
	Query      string
	K          int
	Mode       search.Mode
	Alpha      float64
	UserID     int64
	DocumentID int64

	// Temperature overrides the default when non-negative.
	Temperature float64
	// MaxTokens overrides the default when non-zero.
	MaxTokens int
}

// Answer is a complete non-streamed response.
type Answer struct {
	QueryID        string      `json:"query_id"`
	Answer         string      `json:"answer"`
	Refused        bool        `json:"refused"`
	Model          string      `json:"model,omitempty"`
	Usage          *Usage      `json:"usage,omitempty"`
	Sources        []SourceRef `json:"sources"`
	Citations      []Citation  `json:"citations"`
	InvalidMarkers []int       `json:"invalid_markers,omitempty"`
	SearchMs       float64     `json:"search_ms"`
	GenerateMs     float64     `json:"generate_ms"`
	TotalMs        float64     `json:"total_ms"`
}

// Orchestrator ties retrieval, generation, and citation binding together.
type Orchestrator struct {
	retriever Retriever
	generator Generator
	logs      QueryLogStore // nil disables query logging
	cfg       Config
	logger    *slog.Logger
}

// New creates an orchestrator. The query log store is optional.
func New(retriever Retriever, generator Generator, logs QueryLogStore, cfg Config, logger *slog.Logger) (*Orchestrator, error) {
	if retriever == nil {
		return nil, fmt.Errorf("%w: retriever is required", search.ErrNilDependency)
	}
	if generator == nil {
		return nil, fmt.Errorf("%w: generator is required", search.ErrNilDependency)
	}
	if cfg.MaxTokens == 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		retriever: retriever,
		generator: generator,
		logs:      logs,
		cfg:       cfg,
		logger:    logger.With("component", "rag"),
	}, nil
}

// resolveGenParams applies defaults and validates overrides.
func (o *Orchestrator) resolveGenParams(req AskRequest) (float64, int, error) {
	temperature := req.Temperature
	if temperature < 0 {
		temperature = o.cfg.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = o.cfg.MaxTokens
	}
	if err := ValidateGenParams(temperature, maxTokens); err != nil {
		return 0, 0, err
	}
	return temperature, maxTokens, nil
}

func searchRequest(req AskRequest) search.Request {
	return search.Request{
		Query:      req.Query,
		K:          req.K,
		Mode:       req.Mode,
		Alpha:      req.Alpha,
		UserID:     req.UserID,
		DocumentID: req.DocumentID,
	}
}

// buildSourceRefs numbers results 1..n in rank order to mirror the prompt.
func buildSourceRefs(results []search.Result) []SourceRef {
	refs := make([]SourceRef, len(results))
	for i, r := range results {
		refs[i] = SourceRef{
			Number:           i + 1,
			ChunkID:          r.ChunkID,
			DocumentID:       r.DocumentID,
			DocumentFilename: r.DocumentFilename,
			Page:             r.Page,
			Score:            r.Score,
			Preview:          preview(r.Content),
		}
	}
	return refs
}

// logQuery records the served query. Failures are logged, never surfaced.
func (o *Orchestrator) logQuery(ctx context.Context, queryID string, req AskRequest, results []search.Result, tookMs float64) {
	if o.logs == nil {
		return
	}

	logResults := make([]store.QueryLogResult, len(results))
	for i, r := range results {
		logResults[i] = store.QueryLogResult{
			ChunkID:    r.ChunkID,
			DocumentID: r.DocumentID,
			Score:      r.Score,
			Rank:       r.Rank,
		}
	}
	entry := &store.QueryLog{
		QueryID:        queryID,
		UserID:         req.UserID,
		QueryText:      req.Query,
		K:              req.K,
		ResultCount:    len(results),
		Results:        logResults,
		ResponseTimeMs: tookMs,
	}
	if err := o.logs.InsertQueryLog(ctx, entry); err != nil {
		o.logger.Warn("query_log_failed", "query_id", queryID, "error", err)
	}
}

// Ask answers a question in one shot.
func (o *Orchestrator) Ask(ctx context.Context, req AskRequest) (*Answer, error) {
	start := time.Now()

	temperature, maxTokens, err := o.resolveGenParams(req)
	if err != nil {
		return nil, err
	}
	queryID := uuid.NewString()

	searchStart := time.Now()
	resp, err := o.retriever.Search(ctx, searchRequest(req))
	if err != nil {
		return nil, err
	}
	searchMs := msSince(searchStart)

	ans := &Answer{
		QueryID:  queryID,
		Sources:  buildSourceRefs(resp.Results),
		SearchMs: searchMs,
	}

	if len(resp.Results) == 0 {
		ans.Answer = refusalAnswer
		ans.Refused = true
		ans.Citations = []Citation{}
		ans.TotalMs = msSince(start)
		o.logQuery(ctx, queryID, req, resp.Results, ans.TotalMs)
		return ans, nil
	}

	system, user := BuildPrompt(req.Query, resp.Results)
	genStart := time.Now()
	result, err := o.generator.Complete(ctx, GenRequest{
		System:      system,
		User:        user,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, err
	}

	ans.Answer = result.Text
	ans.Model = result.Model
	usage := result.Usage
	ans.Usage = &usage
	ans.Citations, ans.InvalidMarkers = BindCitations(result.Text, resp.Results)
	ans.GenerateMs = msSince(genStart)
	ans.TotalMs = msSince(start)

	o.logQuery(ctx, queryID, req, resp.Results, ans.TotalMs)
	o.logger.Info("answer_completed",
		"query_id", queryID,
		"user_id", req.UserID,
		"sources", len(ans.Sources),
		"citations", len(ans.Citations),
		"invalid_markers", len(ans.InvalidMarkers),
		"total_ms", ans.TotalMs)
	return ans, nil
}

// AskStream answers a question as a stream of typed events.
//
// On client cancellation mid-answer the LLM stream is dropped, citations for
// the partial answer are flushed on a best-effort basis when at least one
// chunk went out, and the query log is skipped.
func (o *Orchestrator) AskStream(ctx context.Context, req AskRequest, sink Sink) error {
	start := time.Now()

	temperature, maxTokens, err := o.resolveGenParams(req)
	if err != nil {
		return err
	}
	queryID := uuid.NewString()

	emit := func(ev Event) error {
		ev.QueryID = queryID
		return sink(ev)
	}
	fail := func(cause error) error {
		_ = emit(Event{Type: EventError, Message: cause.Error()})
		return cause
	}

	if err := emit(Event{Type: EventStatus, Message: "searching"}); err != nil {
		return err
	}

	searchStart := time.Now()
	resp, err := o.retriever.Search(ctx, searchRequest(req))
	if err != nil {
		return fail(err)
	}
	searchMs := msSince(searchStart)

	if err := emit(Event{Type: EventSearchComplete, ResultCount: len(resp.Results), SearchMs: searchMs}); err != nil {
		return err
	}
	sources := buildSourceRefs(resp.Results)
	if err := emit(Event{Type: EventSources, Sources: sources}); err != nil {
		return err
	}

	if len(resp.Results) == 0 {
		if err := emit(Event{Type: EventAnswerChunk, Text: refusalAnswer}); err != nil {
			return err
		}
		if err := emit(Event{Type: EventCitations, Citations: []Citation{}}); err != nil {
			return err
		}
		tookMs := msSince(start)
		o.logQuery(ctx, queryID, req, resp.Results, tookMs)
		return emit(Event{Type: EventDone, SearchMs: searchMs, TookMs: tookMs})
	}

	system, user := BuildPrompt(req.Query, resp.Results)
	var answer []byte
	chunksSent := 0

	genStart := time.Now()
	streamErr := o.generator.Stream(ctx, GenRequest{
		System:      system,
		User:        user,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}, func(delta string) error {
		answer = append(answer, delta...)
		if err := emit(Event{Type: EventAnswerChunk, Text: delta}); err != nil {
			return err
		}
		chunksSent++
		return nil
	})

	genMs := msSince(genStart)

	if streamErr != nil {
		if errors.Is(streamErr, context.Canceled) || errors.Is(streamErr, context.DeadlineExceeded) {
			if chunksSent > 0 {
				citations, invalid := BindCitations(string(answer), resp.Results)
				_ = emit(Event{Type: EventCitations, Citations: citations, InvalidMarkers: invalid})
			}
			return streamErr
		}
		return fail(streamErr)
	}

	citations, invalid := BindCitations(string(answer), resp.Results)
	if err := emit(Event{Type: EventCitations, Citations: citations, InvalidMarkers: invalid}); err != nil {
		return err
	}

	tookMs := msSince(start)
	o.logQuery(ctx, queryID, req, resp.Results, tookMs)
	o.logger.Info("answer_streamed",
		"query_id", queryID,
		"user_id", req.UserID,
		"chunks", chunksSent,
		"citations", len(citations),
		"invalid_markers", len(invalid),
		"total_ms", tookMs)
	return emit(Event{Type: EventDone, SearchMs: searchMs, GenerateMs: genMs, TookMs: tookMs})
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
