package rag

import (
	"regexp"
	"strconv"

	"github.com/docquery/docquery/internal/search"
)

// markerPattern matches bracketed citation markers like [1] in answers.
var markerPattern = regexp.MustCompile(`\[(\d+)\]`)

// PreviewLength is the number of characters kept from a cited chunk.
const PreviewLength = 200

// Citation binds a marker in the answer text to its source chunk.
type Citation struct {
	Marker           int     `json:"marker"`
	ChunkID          int64   `json:"chunk_id"`
	DocumentID       int64   `json:"document_id"`
	DocumentFilename string  `json:"document_filename"`
	ChunkIndex       int     `json:"chunk_index"`
	Page             *int    `json:"page,omitempty"`
	Score            float64 `json:"score"`
	Preview          string  `json:"preview"`
}

// ExtractMarkers returns every citation marker in the answer, duplicates
// included, in order of appearance.
func ExtractMarkers(answer string) []int {
	matches := markerPattern.FindAllStringSubmatch(answer, -1)
	markers := make([]int, 0, len(matches))
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		markers = append(markers, n)
	}
	return markers
}

// ValidateMarkers splits markers into those addressing a real source
// (1 through n) and those that do not.
func ValidateMarkers(markers []int, n int) (valid, invalid []int) {
	for _, m := range markers {
		if m >= 1 && m <= n {
			valid = append(valid, m)
		} else {
			invalid = append(invalid, m)
		}
	}
	return valid, invalid
}

// BindCitations resolves the answer's markers against the retrieved sources.
// Each valid marker is bound once, at its first appearance. Markers outside
// [1, len(sources)] are not bound; they come back as violations.
func BindCitations(answer string, sources []search.Result) ([]Citation, []int) {
	markers := ExtractMarkers(answer)
	valid, invalid := ValidateMarkers(markers, len(sources))

	seen := make(map[int]struct{}, len(valid))
	citations := make([]Citation, 0, len(valid))
	for _, m := range valid {
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}

		src := sources[m-1]
		citations = append(citations, Citation{
			Marker:           m,
			ChunkID:          src.ChunkID,
			DocumentID:       src.DocumentID,
			DocumentFilename: src.DocumentFilename,
			ChunkIndex:       src.ChunkIndex,
			Page:             src.Page,
			Score:            src.Score,
			Preview:          preview(src.Content),
		})
	}
	return citations, invalid
}

// preview truncates content to PreviewLength characters with an ellipsis.
func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= PreviewLength {
		return content
	}
	return string(runes[:PreviewLength]) + "..."
}
