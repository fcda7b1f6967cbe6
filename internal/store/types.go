// Package store implements the DocQuery primary store on SQLite: documents,
// chunks, query logs, the durable ingestion job queue, and the FTS5 lexical
// index over chunk content.
package store

import (
	"time"
)

// DocumentStatus is the document lifecycle state.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// Document is an uploaded file and its ingestion lifecycle state.
type Document struct {
	ID           int64
	OwnerID      int64
	Filename     string
	StoredPath   string
	SizeBytes    int64
	MIMEType     string
	Status       DocumentStatus
	JobID        string
	ErrorMessage string
	CreatedAt    time.Time
	ProcessedAt  *time.Time
}

// Chunk is one embeddable fragment of a document.
type Chunk struct {
	ID             int64
	DocumentID     int64
	ChunkIndex     int
	PageNumber     *int
	Content        string
	TokenCount     int
	HasEmbedding   bool
	EmbeddingModel string
}

// ChunkWithDocument is a chunk joined with its document's metadata,
// used for search enrichment and ownership filtering.
type ChunkWithDocument struct {
	Chunk
	OwnerID          int64
	DocumentFilename string
}

// LexicalHit is one full-text search result.
type LexicalHit struct {
	ChunkID int64
	Score   float64
}

// QueryLogResult is the per-result metadata recorded in a query log row.
type QueryLogResult struct {
	ChunkID    int64   `json:"chunk_id"`
	DocumentID int64   `json:"document_id"`
	Score      float64 `json:"score"`
	Rank       int     `json:"rank"`
}

// QueryLog is an append-only record of a served query.
type QueryLog struct {
	ID             int64
	QueryID        string
	UserID         int64
	QueryText      string
	K              int
	ResultCount    int
	Results        []QueryLogResult
	ResponseTimeMs float64
	CreatedAt      time.Time
}

// JobStatus is the ingestion job queue state.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// Job is one durable ingestion queue entry.
type Job struct {
	ID         int64
	JobID      string
	DocumentID int64
	Status     JobStatus
	Attempts   int
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Stats summarizes store contents for the stats command.
type Stats struct {
	DocumentsByStatus map[DocumentStatus]int
	ChunkCount        int
	EmbeddedChunks    int
	QueryLogCount     int
	PendingJobs       int
}
