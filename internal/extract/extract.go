// Package extract turns uploaded files into text segments for chunking.
//
// Each extractor handles one or more MIME types. Plain text formats are read
// natively; DOCX is unpacked from its zip container; PDF, scanned images,
// and audio shell out to pdftotext, tesseract, and whisper respectively,
// bounded by a per-run timeout.
package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/docquery/docquery/internal/chunk"
	dqerrors "github.com/docquery/docquery/internal/errors"
)

// Supported MIME types.
const (
	MIMEText     = "text/plain"
	MIMEMarkdown = "text/markdown"
	MIMECSV      = "text/csv"
	MIMEPDF      = "application/pdf"
	MIMEDocx     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MIMEPNG      = "image/png"
	MIMEJPEG     = "image/jpeg"
	MIMETIFF     = "image/tiff"
	MIMEMP3      = "audio/mpeg"
	MIMEWAV      = "audio/wav"
	MIMEM4A      = "audio/mp4"
)

// Extractor extracts text segments from a stored file.
type Extractor interface {
	// Extract reads the file at path and returns its text segments in
	// document order.
	Extract(ctx context.Context, path string) ([]chunk.Segment, error)

	// MIMETypes returns the MIME types this extractor handles.
	MIMETypes() []string
}

// Registry routes files to extractors by MIME type.
type Registry struct {
	byMIME map[string]Extractor
}

// NewRegistry builds a registry with the full default extractor set. The
// timeout bounds each external tool invocation.
func NewRegistry(timeout time.Duration) *Registry {
	r := &Registry{byMIME: make(map[string]Extractor)}
	r.Register(&TextExtractor{})
	r.Register(&CSVExtractor{})
	r.Register(&DocxExtractor{})
	r.Register(&PDFExtractor{Timeout: timeout})
	r.Register(&OCRExtractor{Timeout: timeout})
	r.Register(&AudioExtractor{Timeout: timeout})
	return r
}

// Register adds an extractor for all of its MIME types, replacing any
// previous registration.
func (r *Registry) Register(e Extractor) {
	for _, mt := range e.MIMETypes() {
		r.byMIME[mt] = e
	}
}

// ForMIME returns the extractor for a MIME type.
func (r *Registry) ForMIME(mimeType string) (Extractor, error) {
	base := mimeType
	if idx := strings.Index(base, ";"); idx >= 0 {
		base = strings.TrimSpace(base[:idx])
	}
	e, ok := r.byMIME[strings.ToLower(base)]
	if !ok {
		return nil, dqerrors.New(dqerrors.ErrCodeUnsupportedMedia,
			fmt.Sprintf("unsupported media type %q", mimeType), nil)
	}
	return e, nil
}

// Supported returns the sorted-insensitive list of registered MIME types.
func (r *Registry) Supported() []string {
	types := make([]string, 0, len(r.byMIME))
	for mt := range r.byMIME {
		types = append(types, mt)
	}
	return types
}

// DetectMIME guesses a file's MIME type from its extension. Returns an
// empty string for unknown extensions.
func DetectMIME(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".log", ".text":
		return MIMEText
	case ".md", ".markdown":
		return MIMEMarkdown
	case ".csv":
		return MIMECSV
	case ".pdf":
		return MIMEPDF
	case ".docx":
		return MIMEDocx
	case ".png":
		return MIMEPNG
	case ".jpg", ".jpeg":
		return MIMEJPEG
	case ".tif", ".tiff":
		return MIMETIFF
	case ".mp3":
		return MIMEMP3
	case ".wav":
		return MIMEWAV
	case ".m4a", ".mp4":
		return MIMEM4A
	default:
		return ""
	}
}
