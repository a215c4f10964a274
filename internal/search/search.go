// Package search stores unit vectors in a vector index and answers semantic
// queries over them. The index is never authoritative: the memory log in
// Postgres can always rebuild it.
package search

import (
	"context"

	"github.com/google/uuid"

	"github.com/genioCE/WellApp/internal/model"
)

// Point is one vector with its payload.
type Point struct {
	ID      uuid.UUID
	Vector  []float32
	Payload model.VectorPayload
}

// Filter restricts a query by payload fields. Zero values do not filter.
type Filter struct {
	WellID string
	Source model.Source
	Stage  model.LoopStage
}

// Index is the vector store used by the pipeline and the query layer.
// Implementations must be safe for concurrent use.
type Index interface {
	// Upsert writes points, replacing any with the same id.
	Upsert(ctx context.Context, points []Point) error

	// SetLoopStage rewrites the loop_stage payload field of the given points.
	SetLoopStage(ctx context.Context, ids []uuid.UUID, stage model.LoopStage) error

	// Search returns up to limit hits nearest to vector, best first.
	Search(ctx context.Context, vector []float32, f Filter, limit int) ([]model.SearchHit, error)

	// Healthy returns nil if the index is reachable.
	Healthy(ctx context.Context) error
}

// payloadMap flattens a payload for storage. Keys match the JSON names of
// model.VectorPayload.
func payloadMap(p model.VectorPayload) map[string]any {
	phrases := make([]any, len(p.NounPhrases))
	for i, np := range p.NounPhrases {
		phrases[i] = np
	}
	m := map[string]any{
		"well_id":               p.WellID,
		"source":                string(p.Source),
		"text":                  p.Text,
		"noun_phrases":          phrases,
		"timestamp_or_page":     p.TimestampOrPage,
		"anomaly_or_importance": p.AnomalyOrImportance,
		"loop_stage":            string(p.LoopStage),
		"source_file":           p.SourceFile,
	}
	if p.AnchorStatus != "" {
		m["anchor_status"] = string(p.AnchorStatus)
	}
	return m
}
