// Package replay answers questions about a well's finalized memory: its
// chronological timeline, semantic search over stored vectors, and paced
// re-broadcast of entries for downstream viewers.
package replay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/genioCE/WellApp/internal/model"
	"github.com/genioCE/WellApp/internal/search"
	"github.com/genioCE/WellApp/internal/service/embedding"
	"github.com/genioCE/WellApp/internal/storage"
)

// ErrInvalidQuery marks a query rejected before any I/O.
var ErrInvalidQuery = errors.New("replay: invalid query")

// TimelineStore reads the memory log. *storage.DB implements it.
type TimelineStore interface {
	Timeline(ctx context.Context, f storage.TimelineFilter) ([]model.MemoryEntry, error)
}

// SearchQuery describes a semantic query. Zero Stage searches both loop
// stages; a zero Limit means model.DefaultSearchLimit.
type SearchQuery struct {
	Query  string
	WellID string
	Source model.Source
	Stage  model.LoopStage
	Limit  int
}

// Service is the query layer shared by the HTTP API, the MCP tools, and the
// replayer.
type Service struct {
	store    TimelineStore
	embedder embedding.Provider
	index    search.Index
}

// NewService creates a query layer.
func NewService(store TimelineStore, embedder embedding.Provider, index search.Index) *Service {
	return &Service{store: store, embedder: embedder, index: index}
}

// Timeline returns a well's finalized entries in timestamp-or-page order,
// optionally restricted to one source.
func (s *Service) Timeline(ctx context.Context, wellID string, src model.Source, limit int) ([]model.MemoryEntry, error) {
	if err := model.ValidateWellID(wellID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if src != "" {
		if _, err := model.ParseSource(string(src)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
	}
	return s.store.Timeline(ctx, storage.TimelineFilter{
		WellID: wellID,
		Source: src,
		Stage:  model.LoopStageEmbedded,
		Limit:  limit,
	})
}

// Search embeds q.Query and returns the nearest stored vectors of the well,
// best first.
func (s *Service) Search(ctx context.Context, q SearchQuery) ([]model.SearchHit, error) {
	if err := q.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	limit := q.Limit
	if limit == 0 {
		limit = model.DefaultSearchLimit
	}

	vec, err := s.embedder.Embed(ctx, q.Query)
	if err != nil {
		return nil, fmt.Errorf("replay: embed query: %w", err)
	}
	hits, err := s.index.Search(ctx, vec.Slice(), search.Filter{
		WellID: q.WellID,
		Source: q.Source,
		Stage:  q.Stage,
	}, limit)
	if err != nil {
		return nil, fmt.Errorf("replay: search: %w", err)
	}
	return hits, nil
}

// Healthy reports whether the vector index is reachable.
func (s *Service) Healthy(ctx context.Context) error {
	return s.index.Healthy(ctx)
}

func (q SearchQuery) validate() error {
	if strings.TrimSpace(q.Query) == "" {
		return errors.New("query is required")
	}
	if len(q.Query) > model.MaxSearchQueryLen {
		return fmt.Errorf("query exceeds maximum length of %d bytes", model.MaxSearchQueryLen)
	}
	if err := model.ValidateWellID(q.WellID); err != nil {
		return err
	}
	if q.Source != "" {
		if _, err := model.ParseSource(string(q.Source)); err != nil {
			return err
		}
	}
	switch q.Stage {
	case "", model.LoopStageTruth, model.LoopStageEmbedded:
	default:
		return fmt.Errorf("unknown loop stage %q", q.Stage)
	}
	if q.Limit < 0 || q.Limit > model.MaxSearchLimit {
		return fmt.Errorf("limit must be between 1 and %d", model.MaxSearchLimit)
	}
	return nil
}
