// Package rag orchestrates retrieval-augmented answering: prompt assembly
// from search results, streamed generation, and citation binding.
package rag

// EventType identifies a streamed answer event.
type EventType string

// Stream event types, emitted in this order: status, search_complete,
// sources, answer_chunk (repeated), citations, done. An error event
// replaces everything after the point of failure.
const (
	EventStatus         EventType = "status"
	EventSearchComplete EventType = "search_complete"
	EventSources        EventType = "sources"
	EventAnswerChunk    EventType = "answer_chunk"
	EventCitations      EventType = "citations"
	EventDone           EventType = "done"
	EventError          EventType = "error"
)

// SourceRef is one retrieved source as presented to the client, numbered the
// same way the prompt numbers context blocks.
type SourceRef struct {
	Number           int     `json:"number"`
	ChunkID          int64   `json:"chunk_id"`
	DocumentID       int64   `json:"document_id"`
	DocumentFilename string  `json:"document_filename"`
	Page             *int    `json:"page,omitempty"`
	Score            float64 `json:"score"`
	Preview          string  `json:"preview"`
}

// Event is one streamed answer event. search_complete carries the search
// time; done carries the per-phase and total times; citations carries any
// marker violations alongside the bound citations.
type Event struct {
	Type           EventType   `json:"type"`
	QueryID        string      `json:"query_id,omitempty"`
	Message        string      `json:"message,omitempty"`
	ResultCount    int         `json:"result_count,omitempty"`
	Sources        []SourceRef `json:"sources,omitempty"`
	Text           string      `json:"text,omitempty"`
	Citations      []Citation  `json:"citations,omitempty"`
	InvalidMarkers []int       `json:"invalid_markers,omitempty"`
	SearchMs       float64     `json:"search_time_ms,omitempty"`
	GenerateMs     float64     `json:"generation_time_ms,omitempty"`
	TookMs         float64     `json:"took_ms,omitempty"`
}

// Sink receives stream events. A non-nil return aborts the stream; the
// orchestrator stops generating and emits nothing further.
type Sink func(Event) error
