package extract

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/docquery/docquery/internal/chunk"
	dqerrors "github.com/docquery/docquery/internal/errors"
)

// TextExtractor reads plain text and markdown files as a single segment.
type TextExtractor struct{}

var _ Extractor = (*TextExtractor)(nil)

func (e *TextExtractor) MIMETypes() []string {
	return []string{MIMEText, MIMEMarkdown}
}

func (e *TextExtractor) Extract(_ context.Context, path string) ([]chunk.Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, dqerrors.Wrap(dqerrors.ErrCodeExtractionFailed, err)
	}
	return []chunk.Segment{{Text: sanitizeUTF8(string(data))}}, nil
}

// CSVExtractor flattens each CSV record into one comma-joined line so cell
// values stay searchable as prose.
type CSVExtractor struct{}

var _ Extractor = (*CSVExtractor)(nil)

func (e *CSVExtractor) MIMETypes() []string {
	return []string{MIMECSV}
}

func (e *CSVExtractor) Extract(_ context.Context, path string) ([]chunk.Segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, dqerrors.Wrap(dqerrors.ErrCodeExtractionFailed, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var lines []string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, dqerrors.Wrap(dqerrors.ErrCodeExtractionFailed, err)
		}
		lines = append(lines, strings.Join(record, ", "))
	}
	return []chunk.Segment{{Text: sanitizeUTF8(strings.Join(lines, ". "))}}, nil
}

// sanitizeUTF8 strips invalid byte sequences and NUL characters.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) && !strings.ContainsRune(s, 0) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == utf8.RuneError || r == 0 {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
