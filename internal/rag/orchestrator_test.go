package rag

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dqerrors "github.com/docquery/docquery/internal/errors"
	"github.com/docquery/docquery/internal/search"
	"github.com/docquery/docquery/internal/store"
)

type fakeRetriever struct {
	resp *search.Response
	err  error
}

func (f *fakeRetriever) Search(_ context.Context, _ search.Request) (*search.Response, error) {
	return f.resp, f.err
}

// scriptedGenerator streams fixed deltas, optionally failing partway.
type scriptedGenerator struct {
	deltas     []string
	failAfter  int // fail after this many deltas; 0 disables
	failWith   error
	lastReq    GenRequest
	streamRuns int
}

func (g *scriptedGenerator) Complete(_ context.Context, req GenRequest) (GenResult, error) {
	g.lastReq = req
	if g.failWith != nil {
		return GenResult{}, g.failWith
	}
	var full string
	for _, d := range g.deltas {
		full += d
	}
	return GenResult{
		Text:  full,
		Model: "scripted-model",
		Usage: Usage{PromptTokens: 25, CompletionTokens: 12, TotalTokens: 37},
	}, nil
}

func (g *scriptedGenerator) Stream(_ context.Context, req GenRequest, fn func(string) error) error {
	g.lastReq = req
	g.streamRuns++
	for i, d := range g.deltas {
		if g.failAfter > 0 && i == g.failAfter {
			return g.failWith
		}
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

type logRecorder struct {
	entries []*store.QueryLog
}

func (l *logRecorder) InsertQueryLog(_ context.Context, entry *store.QueryLog) error {
	l.entries = append(l.entries, entry)
	return nil
}

func collectSink(events *[]Event) Sink {
	return func(ev Event) error {
		*events = append(*events, ev)
		return nil
	}
}

func newTestOrchestrator(t *testing.T, r Retriever, g Generator, logs QueryLogStore) *Orchestrator {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	o, err := New(r, g, logs, DefaultConfig(), logger)
	require.NoError(t, err)
	return o
}

func retrieverWith(n int) *fakeRetriever {
	return &fakeRetriever{resp: &search.Response{Results: sourceResults(n)}}
}

func TestAskStreamEventOrder(t *testing.T) {
	gen := &scriptedGenerator{deltas: []string{"Alpha [1]. ", "Beta [2]", "[3]. Gamma [4]."}}
	logs := &logRecorder{}
	o := newTestOrchestrator(t, retrieverWith(4), gen, logs)

	var events []Event
	err := o.AskStream(context.Background(), AskRequest{Query: "q", UserID: 1, K: 4}, collectSink(&events))
	require.NoError(t, err)

	types := make([]EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	assert.Equal(t, []EventType{
		EventStatus,
		EventSearchComplete,
		EventSources,
		EventAnswerChunk,
		EventAnswerChunk,
		EventAnswerChunk,
		EventCitations,
		EventDone,
	}, types)

	assert.Equal(t, 4, events[1].ResultCount)
	assert.Len(t, events[2].Sources, 4)
	assert.Len(t, events[6].Citations, 4)
	assert.Empty(t, events[6].InvalidMarkers)
	assert.Positive(t, events[7].TookMs)

	// done repeats the per-phase times; search time matches search_complete.
	assert.Equal(t, events[1].SearchMs, events[7].SearchMs)
	assert.GreaterOrEqual(t, events[7].GenerateMs, 0.0)
	assert.LessOrEqual(t, events[7].SearchMs, events[7].TookMs)

	// Every event carries the same query id.
	for _, ev := range events {
		assert.Equal(t, events[0].QueryID, ev.QueryID)
	}

	require.Len(t, logs.entries, 1)
	assert.Equal(t, 4, logs.entries[0].ResultCount)
}

func TestAskStreamEmptyRetrievalRefusesWithoutLLM(t *testing.T) {
	gen := &scriptedGenerator{deltas: []string{"should never stream"}}
	logs := &logRecorder{}
	o := newTestOrchestrator(t, retrieverWith(0), gen, logs)

	var events []Event
	err := o.AskStream(context.Background(), AskRequest{Query: "q", UserID: 1}, collectSink(&events))
	require.NoError(t, err)

	assert.Zero(t, gen.streamRuns)
	require.Len(t, events, 6)
	assert.Equal(t, EventAnswerChunk, events[3].Type)
	assert.Equal(t, refusalAnswer, events[3].Text)
	assert.Equal(t, EventCitations, events[4].Type)
	assert.Empty(t, events[4].Citations)
	assert.Equal(t, EventDone, events[5].Type)
	require.Len(t, logs.entries, 1)
	assert.Zero(t, logs.entries[0].ResultCount)
}

func TestAskStreamSearchFailureEmitsErrorEvent(t *testing.T) {
	r := &fakeRetriever{err: dqerrors.New(dqerrors.ErrCodeSearchUnavailable, "both branches failed", nil)}
	o := newTestOrchestrator(t, r, &scriptedGenerator{}, nil)

	var events []Event
	err := o.AskStream(context.Background(), AskRequest{Query: "q", UserID: 1}, collectSink(&events))
	require.Error(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, EventStatus, events[0].Type)
	assert.Equal(t, EventError, events[1].Type)
	assert.Contains(t, events[1].Message, "both branches failed")
}

func TestAskStreamCancellationFlushesPartialCitations(t *testing.T) {
	gen := &scriptedGenerator{
		deltas:    []string{"Partial answer [1]. ", "never sent"},
		failAfter: 1,
		failWith:  context.Canceled,
	}
	logs := &logRecorder{}
	o := newTestOrchestrator(t, retrieverWith(2), gen, logs)

	var events []Event
	err := o.AskStream(context.Background(), AskRequest{Query: "q", UserID: 1}, collectSink(&events))
	require.ErrorIs(t, err, context.Canceled)

	// One answer chunk went out, so citations for the partial answer follow.
	last := events[len(events)-1]
	assert.Equal(t, EventCitations, last.Type)
	require.Len(t, last.Citations, 1)
	assert.Equal(t, 1, last.Citations[0].Marker)

	// Cancelled streams are not logged.
	assert.Empty(t, logs.entries)

	// No done event after cancellation.
	for _, ev := range events {
		assert.NotEqual(t, EventDone, ev.Type)
	}
}

func TestAskStreamLLMFailureEmitsErrorEvent(t *testing.T) {
	gen := &scriptedGenerator{
		deltas:    []string{"a", "b"},
		failAfter: 1,
		failWith:  dqerrors.New(dqerrors.ErrCodeLLMUnavailable, "provider down", nil),
	}
	o := newTestOrchestrator(t, retrieverWith(1), gen, nil)

	var events []Event
	err := o.AskStream(context.Background(), AskRequest{Query: "q", UserID: 1}, collectSink(&events))
	require.Error(t, err)
	assert.Equal(t, dqerrors.ErrCodeLLMUnavailable, dqerrors.GetCode(err))
	assert.Equal(t, EventError, events[len(events)-1].Type)
}

func TestAskStreamSinkErrorAbortsGeneration(t *testing.T) {
	gen := &scriptedGenerator{deltas: []string{"one", "two", "three"}}
	o := newTestOrchestrator(t, retrieverWith(1), gen, nil)

	sent := 0
	sink := func(ev Event) error {
		if ev.Type == EventAnswerChunk {
			sent++
			if sent == 2 {
				return errors.New("client went away")
			}
		}
		return nil
	}
	err := o.AskStream(context.Background(), AskRequest{Query: "q", UserID: 1}, sink)
	require.Error(t, err)
	assert.Equal(t, 2, sent)
}

func TestAskReturnsBoundAnswer(t *testing.T) {
	gen := &scriptedGenerator{deltas: []string{"Alpha [1]. Beta [2][3]. Gamma [4]."}}
	logs := &logRecorder{}
	o := newTestOrchestrator(t, retrieverWith(4), gen, logs)

	ans, err := o.Ask(context.Background(), AskRequest{Query: "q", UserID: 1, K: 4})
	require.NoError(t, err)

	assert.NotEmpty(t, ans.QueryID)
	assert.False(t, ans.Refused)
	assert.Len(t, ans.Sources, 4)
	assert.Len(t, ans.Citations, 4)
	assert.Empty(t, ans.InvalidMarkers)
	assert.Equal(t, "Alpha [1]. Beta [2][3]. Gamma [4].", ans.Answer)
	assert.Equal(t, "scripted-model", ans.Model)
	require.NotNil(t, ans.Usage)
	assert.Equal(t, 25, ans.Usage.PromptTokens)
	assert.Equal(t, 12, ans.Usage.CompletionTokens)
	assert.Equal(t, 37, ans.Usage.TotalTokens)
	require.Len(t, logs.entries, 1)
	assert.Equal(t, ans.QueryID, logs.entries[0].QueryID)
}

func TestAskReportsUnresolvableMarkers(t *testing.T) {
	// Three sources retrieved, answer cites a fourth that does not exist.
	gen := &scriptedGenerator{deltas: []string{"Alpha [1]. Beta [2][3]. Gamma [4]."}}
	o := newTestOrchestrator(t, retrieverWith(3), gen, nil)

	ans, err := o.Ask(context.Background(), AskRequest{Query: "q", UserID: 1, K: 3})
	require.NoError(t, err)

	require.Len(t, ans.Citations, 3)
	assert.Equal(t, []int{4}, ans.InvalidMarkers)
}

func TestAskStreamReportsUnresolvableMarkers(t *testing.T) {
	gen := &scriptedGenerator{deltas: []string{"Alpha [1]. ", "Beta [2][3]. Gamma [4]."}}
	o := newTestOrchestrator(t, retrieverWith(3), gen, nil)

	var events []Event
	err := o.AskStream(context.Background(), AskRequest{Query: "q", UserID: 1, K: 3}, collectSink(&events))
	require.NoError(t, err)

	var citations *Event
	for i := range events {
		if events[i].Type == EventCitations {
			citations = &events[i]
		}
	}
	require.NotNil(t, citations)
	assert.Len(t, citations.Citations, 3)
	assert.Equal(t, []int{4}, citations.InvalidMarkers)
}

func TestAskEmptyRetrievalRefuses(t *testing.T) {
	gen := &scriptedGenerator{}
	o := newTestOrchestrator(t, retrieverWith(0), gen, nil)

	ans, err := o.Ask(context.Background(), AskRequest{Query: "q", UserID: 1})
	require.NoError(t, err)
	assert.True(t, ans.Refused)
	assert.Equal(t, refusalAnswer, ans.Answer)
	assert.Empty(t, ans.Citations)
}

func TestAskValidatesGenerationOverrides(t *testing.T) {
	o := newTestOrchestrator(t, retrieverWith(1), &scriptedGenerator{}, nil)
	ctx := context.Background()

	_, err := o.Ask(ctx, AskRequest{Query: "q", UserID: 1, Temperature: 3.0})
	assert.Equal(t, dqerrors.ErrCodeInvalidInput, dqerrors.GetCode(err))

	_, err = o.Ask(ctx, AskRequest{Query: "q", UserID: 1, MaxTokens: 50})
	assert.Equal(t, dqerrors.ErrCodeInvalidInput, dqerrors.GetCode(err))

	_, err = o.Ask(ctx, AskRequest{Query: "q", UserID: 1, MaxTokens: 9000})
	assert.Equal(t, dqerrors.ErrCodeInvalidInput, dqerrors.GetCode(err))
}

func TestAskPassesResolvedGenParams(t *testing.T) {
	gen := &scriptedGenerator{deltas: []string{"ok"}}
	o := newTestOrchestrator(t, retrieverWith(1), gen, nil)

	_, err := o.Ask(context.Background(), AskRequest{Query: "q", UserID: 1, Temperature: -1})
	require.NoError(t, err)
	assert.Equal(t, 0.3, gen.lastReq.Temperature)
	assert.Equal(t, 1000, gen.lastReq.MaxTokens)

	_, err = o.Ask(context.Background(), AskRequest{Query: "q", UserID: 1, Temperature: 0.9, MaxTokens: 500})
	require.NoError(t, err)
	assert.Equal(t, 0.9, gen.lastReq.Temperature)
	assert.Equal(t, 500, gen.lastReq.MaxTokens)
}
