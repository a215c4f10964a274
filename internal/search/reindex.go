package search

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"github.com/genioCE/WellApp/internal/model"
	"github.com/genioCE/WellApp/internal/storage"
	"github.com/genioCE/WellApp/internal/telemetry"
)

// VectorSource pages through stored memory log vectors.
type VectorSource interface {
	MemoryVectors(ctx context.Context, afterID int64, limit int) ([]storage.MemoryVector, error)
}

// Reindexer rebuilds a vector index from the memory log. Point ids are the
// vector ids recorded at truth-embed time, so a rebuild overwrites rather
// than duplicates.
type Reindexer struct {
	src       VectorSource
	index     Index
	logger    *slog.Logger
	batchSize int
	upserted  metric.Int64Counter
}

// NewReindexer creates a Reindexer that upserts batchSize points at a time.
func NewReindexer(src VectorSource, index Index, logger *slog.Logger, batchSize int) *Reindexer {
	if batchSize <= 0 {
		batchSize = 200
	}
	upserted, _ := telemetry.Meter("wellapp/search").Int64Counter("wellapp.reindex.points",
		metric.WithDescription("Points re-upserted into the vector index from the memory log"))
	return &Reindexer{src: src, index: index, logger: logger, batchSize: batchSize, upserted: upserted}
}

// Run copies every memory log vector into the index and returns how many
// points were written. It stops at the first failed page.
func (r *Reindexer) Run(ctx context.Context) (int, error) {
	var afterID int64
	total := 0
	for {
		page, err := r.src.MemoryVectors(ctx, afterID, r.batchSize)
		if err != nil {
			return total, err
		}
		if len(page) == 0 {
			return total, nil
		}

		points := make([]Point, 0, len(page))
		for _, mv := range page {
			points = append(points, PointFromEntry(mv.Entry, mv.Embedding))
		}
		if err := r.index.Upsert(ctx, points); err != nil {
			return total, fmt.Errorf("search: reindex after id %d: %w", afterID, err)
		}
		if r.upserted != nil {
			r.upserted.Add(ctx, int64(len(points)))
		}
		total += len(points)
		afterID = page[len(page)-1].Entry.ID
		r.logger.Debug("search: reindexed page", "points", len(points), "after_id", afterID)
	}
}

// PointFromEntry builds the index point for a memory log entry.
func PointFromEntry(e model.MemoryEntry, vector []float32) Point {
	return Point{
		ID:     e.VectorID,
		Vector: vector,
		Payload: model.VectorPayload{
			WellID:              e.WellID,
			Source:              e.Source,
			Text:                e.Text,
			NounPhrases:         e.NounPhrases,
			TimestampOrPage:     e.TimestampOrPage,
			AnomalyOrImportance: e.AnomalyOrImportance,
			LoopStage:           e.LoopStage,
			AnchorStatus:        e.AnchorStatus,
			SourceFile:          e.SourceFile,
		},
	}
}
