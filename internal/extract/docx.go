package extract

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"io"
	"strings"

	"github.com/docquery/docquery/internal/chunk"
	dqerrors "github.com/docquery/docquery/internal/errors"
)

// DocxExtractor pulls paragraph text out of the word/document.xml entry of a
// DOCX container. DOCX has no fixed pagination, so it yields one unpaged
// segment.
type DocxExtractor struct{}

var _ Extractor = (*DocxExtractor)(nil)

func (e *DocxExtractor) MIMETypes() []string {
	return []string{MIMEDocx}
}

func (e *DocxExtractor) Extract(_ context.Context, path string) ([]chunk.Segment, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, dqerrors.New(dqerrors.ErrCodeExtractionFailed,
			"not a valid docx container", err)
	}
	defer archive.Close()

	var doc *zip.File
	for _, f := range archive.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return nil, dqerrors.New(dqerrors.ErrCodeExtractionFailed,
			"docx container is missing word/document.xml", nil)
	}

	rc, err := doc.Open()
	if err != nil {
		return nil, dqerrors.Wrap(dqerrors.ErrCodeExtractionFailed, err)
	}
	defer rc.Close()

	text, err := documentText(rc)
	if err != nil {
		return nil, dqerrors.New(dqerrors.ErrCodeExtractionFailed,
			"failed to parse docx document xml", err)
	}
	return []chunk.Segment{{Text: text}}, nil
}

// documentText streams WordprocessingML, collecting the character data of
// w:t runs and inserting paragraph breaks at w:p boundaries and explicit
// w:br / w:tab elements.
func documentText(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)
	var b strings.Builder
	inText := false

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "br":
				b.WriteByte('\n')
			case "tab":
				b.WriteByte(' ')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}
