package ingest

import (
	"bytes"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/genioCE/WellApp/internal/model"
)

var pdfMagic = []byte("%PDF-")

// ParsePDF extracts the plain text of each page of a PDF well file. Pages are
// numbered from 1; pages with no extractable text keep their number but
// produce no unit. Scanned PDFs without a text layer are rejected.
func ParsePDF(wellID, sourceFile string, data []byte) (units []model.DataUnit, err error) {
	// The reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			units, err = nil, invalid("%s: malformed pdf: %v", sourceFile, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, invalid("%s: %v", sourceFile, err)
	}

	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		raw, err := p.GetPlainText(nil)
		if err != nil {
			return nil, invalid("%s: page %d: %v", sourceFile, i, err)
		}
		text := strings.TrimSpace(raw)
		if text == "" {
			continue
		}
		units = append(units, model.DataUnit{
			WellID:     wellID,
			Source:     model.SourceWellfile,
			Page:       i,
			Text:       text,
			SourceFile: sourceFile,
		})
	}
	if len(units) == 0 {
		return nil, invalid("%s has no extractable text", sourceFile)
	}
	return units, nil
}

func isPDF(data []byte) bool {
	return bytes.HasPrefix(data, pdfMagic)
}
