package extract

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dqerrors "github.com/docquery/docquery/internal/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDetectMIME(t *testing.T) {
	assert.Equal(t, MIMEText, DetectMIME("notes.txt"))
	assert.Equal(t, MIMEMarkdown, DetectMIME("README.md"))
	assert.Equal(t, MIMECSV, DetectMIME("data.CSV"))
	assert.Equal(t, MIMEPDF, DetectMIME("report.pdf"))
	assert.Equal(t, MIMEDocx, DetectMIME("memo.docx"))
	assert.Equal(t, MIMEJPEG, DetectMIME("scan.JPG"))
	assert.Equal(t, MIMEWAV, DetectMIME("call.wav"))
	assert.Empty(t, DetectMIME("binary.exe"))
}

func TestRegistryRoutesByMIME(t *testing.T) {
	r := NewRegistry(time.Minute)

	e, err := r.ForMIME(MIMEText)
	require.NoError(t, err)
	assert.IsType(t, &TextExtractor{}, e)

	e, err = r.ForMIME("text/plain; charset=utf-8")
	require.NoError(t, err)
	assert.IsType(t, &TextExtractor{}, e)

	e, err = r.ForMIME(MIMEPDF)
	require.NoError(t, err)
	assert.IsType(t, &PDFExtractor{}, e)
}

func TestRegistryRejectsUnknownMIME(t *testing.T) {
	r := NewRegistry(time.Minute)

	_, err := r.ForMIME("application/octet-stream")
	require.Error(t, err)
	assert.Equal(t, dqerrors.ErrCodeUnsupportedMedia, dqerrors.GetCode(err))
}

func TestTextExtractor(t *testing.T) {
	path := writeFile(t, "notes.txt", "First line.\nSecond line.\n")

	segments, err := (&TextExtractor{}).Extract(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, segments, 1)
	assert.Nil(t, segments[0].Page)
	assert.Equal(t, "First line.\nSecond line.\n", segments[0].Text)
}

func TestTextExtractorMissingFile(t *testing.T) {
	_, err := (&TextExtractor{}).Extract(context.Background(), "/nonexistent/file.txt")
	require.Error(t, err)
	assert.Equal(t, dqerrors.ErrCodeExtractionFailed, dqerrors.GetCode(err))
}

func TestCSVExtractorFlattensRecords(t *testing.T) {
	path := writeFile(t, "data.csv", "name,city\nAda,London\nGrace,Arlington\n")

	segments, err := (&CSVExtractor{}).Extract(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, segments, 1)
	assert.Equal(t, "name, city. Ada, London. Grace, Arlington", segments[0].Text)
}

func TestCSVExtractorRaggedRows(t *testing.T) {
	path := writeFile(t, "ragged.csv", "a,b,c\nd,e\n")

	segments, err := (&CSVExtractor{}).Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "a, b, c. d, e", segments[0].Text)
}

func writeDocx(t *testing.T, documentXML string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memo.docx")

	f, err := os.Create(path)
	require.NoError(t, err)
	w := zip.NewWriter(f)

	entry, err := w.Create("word/document.xml")
	require.NoError(t, err)
	_, err = entry.Write([]byte(documentXML))
	require.NoError(t, err)

	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return path
}

func TestDocxExtractor(t *testing.T) {
	path := writeDocx(t, `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>
    <w:p><w:r><w:t>Second </w:t></w:r><w:r><w:t>paragraph.</w:t></w:r></w:p>
  </w:body>
</w:document>`)

	segments, err := (&DocxExtractor{}).Extract(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, segments, 1)
	assert.Equal(t, "First paragraph.\nSecond paragraph.", segments[0].Text)
}

func TestDocxExtractorRejectsNonZip(t *testing.T) {
	path := writeFile(t, "fake.docx", "not a zip archive")

	_, err := (&DocxExtractor{}).Extract(context.Background(), path)
	require.Error(t, err)
	assert.Equal(t, dqerrors.ErrCodeExtractionFailed, dqerrors.GetCode(err))
}

func TestDocxExtractorMissingDocumentXML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.docx")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	entry, err := w.Create("word/styles.xml")
	require.NoError(t, err)
	_, err = entry.Write([]byte("<styles/>"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	_, err = (&DocxExtractor{}).Extract(context.Background(), path)
	require.Error(t, err)
	assert.Equal(t, dqerrors.ErrCodeExtractionFailed, dqerrors.GetCode(err))
}

func TestRunToolMissingBinary(t *testing.T) {
	_, err := runTool(context.Background(), time.Second, "docquery-no-such-tool-xyz")
	require.Error(t, err)
	assert.Equal(t, dqerrors.ErrCodeExtractionFailed, dqerrors.GetCode(err))
}

func TestSanitizeUTF8(t *testing.T) {
	assert.Equal(t, "clean text", sanitizeUTF8("clean text"))
	assert.Equal(t, "ab", sanitizeUTF8("a\x00b"))
	assert.Equal(t, "ab", sanitizeUTF8("a\xffb"))
}
