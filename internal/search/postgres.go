package search

import (
	"context"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/genioCE/WellApp/internal/model"
	"github.com/genioCE/WellApp/internal/storage"
)

// PostgresIndex answers queries from the embeddings kept in the memory log.
// It is used when no Qdrant URL is configured. Writes are no-ops because the
// memory log already holds every vector and its loop stage.
type PostgresIndex struct {
	db *storage.DB
}

// NewPostgresIndex wraps db as an Index.
func NewPostgresIndex(db *storage.DB) *PostgresIndex {
	return &PostgresIndex{db: db}
}

// Upsert implements Index.
func (p *PostgresIndex) Upsert(context.Context, []Point) error { return nil }

// SetLoopStage implements Index.
func (p *PostgresIndex) SetLoopStage(context.Context, []uuid.UUID, model.LoopStage) error {
	return nil
}

// Search implements Index using pgvector cosine distance.
func (p *PostgresIndex) Search(ctx context.Context, vector []float32, f Filter, limit int) ([]model.SearchHit, error) {
	if limit <= 0 {
		limit = model.DefaultSearchLimit
	}
	return p.db.SimilarEntries(ctx, pgvector.NewVector(vector), storage.SimilarFilter{
		WellID: f.WellID,
		Source: f.Source,
		Stage:  f.Stage,
	}, limit)
}

// Healthy implements Index.
func (p *PostgresIndex) Healthy(ctx context.Context) error {
	return p.db.Ping(ctx)
}
