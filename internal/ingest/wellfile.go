package ingest

import (
	"strings"
	"unicode/utf8"

	"github.com/genioCE/WellApp/internal/model"
)

// ParseWellfile splits a well file into pages. PDFs are read page by page;
// text files split on form feeds. Pages are numbered from 1 in file order and
// blank pages keep their number but produce no unit.
func ParseWellfile(wellID, sourceFile string, data []byte) ([]model.DataUnit, error) {
	if isPDF(data) {
		return ParsePDF(wellID, sourceFile, data)
	}
	if !utf8.Valid(data) {
		return nil, invalid("%s is not UTF-8 text", sourceFile)
	}

	var units []model.DataUnit
	for i, page := range strings.Split(string(data), "\f") {
		text := strings.TrimSpace(page)
		if text == "" {
			continue
		}
		units = append(units, model.DataUnit{
			WellID:     wellID,
			Source:     model.SourceWellfile,
			Page:       i + 1,
			Text:       text,
			SourceFile: sourceFile,
		})
	}
	if len(units) == 0 {
		return nil, invalid("%s has no text", sourceFile)
	}
	return units, nil
}
