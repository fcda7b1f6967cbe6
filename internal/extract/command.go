package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/docquery/docquery/internal/chunk"
	dqerrors "github.com/docquery/docquery/internal/errors"
)

// runTool runs an external extraction tool and returns its stdout. The run
// is bounded by timeout when one is set.
func runTool(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, dqerrors.New(dqerrors.ErrCodeExtractionFailed,
				fmt.Sprintf("%s timed out after %s", name, timeout), err).
				WithDetail("tool", name)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, dqerrors.New(dqerrors.ErrCodeExtractionFailed,
			fmt.Sprintf("%s failed: %s", name, msg), err).
			WithDetail("tool", name)
	}
	return stdout.Bytes(), nil
}

// PDFExtractor shells out to pdftotext, preserving the form-feed page
// boundaries it emits so each page becomes its own segment.
type PDFExtractor struct {
	Timeout time.Duration
}

var _ Extractor = (*PDFExtractor)(nil)

func (e *PDFExtractor) MIMETypes() []string {
	return []string{MIMEPDF}
}

func (e *PDFExtractor) Extract(ctx context.Context, path string) ([]chunk.Segment, error) {
	out, err := runTool(ctx, e.Timeout, "pdftotext", "-layout", "-enc", "UTF-8", path, "-")
	if err != nil {
		return nil, err
	}

	pages := strings.Split(string(out), "\f")
	segments := make([]chunk.Segment, 0, len(pages))
	for i, page := range pages {
		text := sanitizeUTF8(strings.TrimSpace(page))
		if text == "" {
			continue
		}
		pageNum := i + 1
		segments = append(segments, chunk.Segment{Page: &pageNum, Text: text})
	}
	return segments, nil
}

// OCRExtractor runs tesseract over scanned images.
type OCRExtractor struct {
	Timeout time.Duration
}

var _ Extractor = (*OCRExtractor)(nil)

func (e *OCRExtractor) MIMETypes() []string {
	return []string{MIMEPNG, MIMEJPEG, MIMETIFF}
}

func (e *OCRExtractor) Extract(ctx context.Context, path string) ([]chunk.Segment, error) {
	out, err := runTool(ctx, e.Timeout, "tesseract", path, "stdout")
	if err != nil {
		return nil, err
	}
	return []chunk.Segment{{Text: sanitizeUTF8(strings.TrimSpace(string(out)))}}, nil
}

// AudioExtractor transcribes audio files with whisper. The transcript is
// written to a scratch directory and read back.
type AudioExtractor struct {
	Timeout time.Duration

	// Model overrides the whisper model. Defaults to "base".
	Model string
}

var _ Extractor = (*AudioExtractor)(nil)

func (e *AudioExtractor) MIMETypes() []string {
	return []string{MIMEMP3, MIMEWAV, MIMEM4A}
}

func (e *AudioExtractor) Extract(ctx context.Context, path string) ([]chunk.Segment, error) {
	model := e.Model
	if model == "" {
		model = "base"
	}

	outDir, err := os.MkdirTemp("", "docquery-whisper-*")
	if err != nil {
		return nil, dqerrors.Wrap(dqerrors.ErrCodeExtractionFailed, err)
	}
	defer os.RemoveAll(outDir)

	if _, err := runTool(ctx, e.Timeout, "whisper", path,
		"--model", model, "--output_format", "txt", "--output_dir", outDir); err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	transcript, err := os.ReadFile(filepath.Join(outDir, base+".txt"))
	if err != nil {
		return nil, dqerrors.New(dqerrors.ErrCodeExtractionFailed,
			"whisper produced no transcript", err)
	}
	return []chunk.Segment{{Text: sanitizeUTF8(strings.TrimSpace(string(transcript)))}}, nil
}
