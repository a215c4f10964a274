// Package ingest turns uploaded files into raw data units.
//
// SCADA exports are CSV files with one reading per hour. Well files are PDFs
// or text documents whose pages are separated by form feeds. Parsing is pure; the
// Store handles where raw files live on disk.
package ingest

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/genioCE/WellApp/internal/model"
)

var (
	// ErrUnsupportedFile is returned for file types no parser handles.
	ErrUnsupportedFile = errors.New("ingest: unsupported file type")

	// ErrInvalidFile marks content that failed validation.
	ErrInvalidFile = errors.New("ingest: invalid file")
)

// ClassifyFilename maps a file name to the source it feeds, by extension.
func ClassifyFilename(name string) (model.Source, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return model.SourceSCADA, nil
	case ".txt", ".pdf":
		return model.SourceWellfile, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFile, name)
	}
}

// Parse dispatches data to the parser for src. sourceFile is recorded on
// every unit.
func Parse(src model.Source, wellID, sourceFile string, data []byte) ([]model.DataUnit, error) {
	switch src {
	case model.SourceSCADA:
		return ParseSCADA(wellID, sourceFile, data)
	case model.SourceWellfile:
		return ParseWellfile(wellID, sourceFile, data)
	default:
		return nil, fmt.Errorf("%w: source %q", ErrUnsupportedFile, src)
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidFile, fmt.Sprintf(format, args...))
}
