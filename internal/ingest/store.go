package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/genioCE/WellApp/internal/model"
)

// ErrTooLarge is returned when a file exceeds the configured size limit.
var ErrTooLarge = errors.New("ingest: file too large")

// FileReader reads a raw file named in an ingest event.
type FileReader interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
}

// Store keeps raw uploads under one root directory, laid out as
// <root>/<well_id>/<source>/<utc stamp>_<file name>. Paths handed out and
// accepted are relative to the root, and access never escapes it.
type Store struct {
	root     string
	maxBytes int64
	now      func() time.Time
}

// NewStore creates the root directory if needed.
func NewStore(root string, maxBytes int64) (*Store, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("ingest: create raw data root: %w", err)
	}
	return &Store{root: root, maxBytes: maxBytes, now: time.Now}, nil
}

// Save writes r to a new file for wellID and returns its store path. Reading
// stops one byte past the limit so oversized uploads fail without buffering
// them whole.
func (s *Store) Save(wellID string, src model.Source, filename string, r io.Reader) (string, error) {
	if err := model.ValidateWellID(wellID); err != nil {
		return "", fmt.Errorf("ingest: %w", err)
	}
	base := filepath.Base(filepath.Clean("/" + filename))
	if base == "/" || base == "." {
		return "", fmt.Errorf("ingest: invalid file name %q", filename)
	}
	rel := filepath.Join(wellID, string(src), s.now().UTC().Format("20060102T150405.000000000")+"_"+base)

	root, err := os.OpenRoot(s.root)
	if err != nil {
		return "", fmt.Errorf("ingest: open raw data root: %w", err)
	}
	defer func() { _ = root.Close() }()

	if err := root.MkdirAll(filepath.Dir(rel), 0o750); err != nil {
		return "", fmt.Errorf("ingest: create directory: %w", err)
	}
	f, err := root.OpenFile(rel, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("ingest: create %s: %w", rel, err)
	}
	n, err := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > s.maxBytes {
		err = fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, s.maxBytes)
	}
	if err != nil {
		_ = root.Remove(rel)
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// ReadFile implements FileReader for paths returned by Save.
func (s *Store) ReadFile(_ context.Context, path string) ([]byte, error) {
	rel := filepath.FromSlash(path)
	if filepath.IsAbs(rel) || strings.HasPrefix(filepath.Clean(rel), "..") {
		return nil, fmt.Errorf("ingest: path %q is outside the raw data root", path)
	}

	root, err := os.OpenRoot(s.root)
	if err != nil {
		return nil, fmt.Errorf("ingest: open raw data root: %w", err)
	}
	defer func() { _ = root.Close() }()

	f, err := root.Open(rel)
	if err != nil {
		return nil, fmt.Errorf("ingest: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("ingest: read %s: %w", path, err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, path)
	}
	return data, nil
}
