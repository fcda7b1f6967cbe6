// Package search implements hybrid retrieval: a vector branch over the flat
// index and a lexical branch over the FTS5 index, run in parallel and fused
// with Reciprocal Rank Fusion.
package search

import (
	"fmt"
	"strings"

	dqerrors "github.com/docquery/docquery/internal/errors"
)

// Mode selects which retrieval branches run.
type Mode string

const (
	ModeHybrid  Mode = "hybrid"
	ModeVector  Mode = "vector"
	ModeLexical Mode = "lexical"
)

// Query length bounds, in characters.
const (
	MaxQueryLength = 1000
)

// Request is one search invocation.
type Request struct {
	Query string
	K     int
	Mode  Mode
	// Alpha is the vector-branch weight in [0,1]. Negative means use the
	// configured default. Ignored for single-branch modes.
	Alpha float64
	// UserID scopes results to this owner's documents.
	UserID int64
	// DocumentID restricts results to one document when non-zero.
	DocumentID int64
}

// Result is one enriched search hit.
type Result struct {
	ChunkID          int64    `json:"chunk_id"`
	DocumentID       int64    `json:"document_id"`
	DocumentFilename string   `json:"document_filename"`
	ChunkIndex       int      `json:"chunk_index"`
	Page             *int     `json:"page,omitempty"`
	Content          string   `json:"content"`
	Score            float64  `json:"score"`
	VectorScore      *float64 `json:"vector_score,omitempty"`
	LexicalScore     *float64 `json:"lexical_score,omitempty"`
	Rank             int      `json:"rank"`
}

// Response is the full search outcome. QueryID is minted per invocation,
// cache hits included.
type Response struct {
	QueryID string   `json:"query_id"`
	Results []Result `json:"results"`
	K       int      `json:"k"`
	Cached  bool     `json:"cached"`
	TookMs  float64  `json:"took_ms"`
}

// normalize validates the request and applies defaults in place.
func (r *Request) normalize(defaultK, maxK int, defaultAlpha float64) error {
	r.Query = strings.TrimSpace(r.Query)
	if r.Query == "" {
		return dqerrors.New(dqerrors.ErrCodeQueryEmpty, "query must not be empty", nil)
	}
	if len([]rune(r.Query)) > MaxQueryLength {
		return dqerrors.New(dqerrors.ErrCodeQueryTooLong,
			fmt.Sprintf("query exceeds %d characters", MaxQueryLength), nil)
	}

	if r.K <= 0 {
		r.K = defaultK
	}
	if r.K > maxK {
		return dqerrors.ValidationError(fmt.Sprintf("k must be between 1 and %d", maxK))
	}

	switch r.Mode {
	case "":
		r.Mode = ModeHybrid
	case ModeHybrid, ModeVector, ModeLexical:
	default:
		return dqerrors.ValidationError(fmt.Sprintf("unknown search mode %q", r.Mode))
	}

	if r.Alpha < 0 {
		r.Alpha = defaultAlpha
	}
	if r.Alpha < 0 || r.Alpha > 1 {
		return dqerrors.ValidationError("alpha must be between 0 and 1")
	}
	// Single-branch modes pin alpha so cache keys stay distinct and stable.
	switch r.Mode {
	case ModeVector:
		r.Alpha = 1
	case ModeLexical:
		r.Alpha = 0
	}

	if r.UserID <= 0 {
		return dqerrors.ValidationError("user id is required")
	}
	return nil
}
