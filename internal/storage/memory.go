package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/genioCE/WellApp/internal/model"
)

const memoryColumns = `id, unit_id, well_id, source, text, noun_phrases, timestamp_or_page, sort_key,
	anomaly_or_importance, loop_stage, embedded, vector_id, anchor_status, source_file, created_at`

// TimelineFilter selects memory log entries for one well. Zero-valued fields
// do not filter.
type TimelineFilter struct {
	WellID string
	Source model.Source
	Stage  model.LoopStage
	Limit  int
}

// Timeline returns a well's memory log entries grouped by source (scada
// before wellfile), each source in timestamp or page order, then by insertion.
// Sort keys are unix seconds for scada and page numbers for wellfile, so they
// are only comparable within one source.
func (db *DB) Timeline(ctx context.Context, f TimelineFilter) ([]model.MemoryEntry, error) {
	query := `SELECT ` + memoryColumns + `
		 FROM memory_log
		 WHERE well_id = $1
		   AND ($2 = '' OR source = $2)
		   AND ($3 = '' OR loop_stage = $3)
		 ORDER BY source, sort_key, id`
	args := []any{f.WellID, string(f.Source), string(f.Stage)}
	if f.Limit > 0 {
		query += ` LIMIT $4`
		args = append(args, f.Limit)
	}

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query timeline: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanMemoryEntry)
	if err != nil {
		return nil, fmt.Errorf("storage: scan timeline: %w", err)
	}
	return entries, nil
}

// StageBacklog counts rows still waiting on each stage, keyed by the table
// whose flag is pending.
func (db *DB) StageBacklog(ctx context.Context) (map[string]int64, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT 'snapshot_scada', count(*) FROM snapshot_scada WHERE NOT interpreted
		UNION ALL SELECT 'snapshot_wellfile', count(*) FROM snapshot_wellfile WHERE NOT interpreted
		UNION ALL SELECT 'interpreted_scada', count(*) FROM interpreted_scada WHERE NOT reflected
		UNION ALL SELECT 'interpreted_wellfile', count(*) FROM interpreted_wellfile WHERE NOT reflected
		UNION ALL SELECT 'reflected_scada', count(*) FROM reflected_scada WHERE NOT embedded
		UNION ALL SELECT 'reflected_wellfile', count(*) FROM reflected_wellfile WHERE NOT embedded
		UNION ALL SELECT 'memory_log', count(*) FROM memory_log WHERE loop_stage = 'truth'`)
	if err != nil {
		return nil, fmt.Errorf("storage: query backlog: %w", err)
	}
	defer rows.Close()

	backlog := make(map[string]int64, 7)
	for rows.Next() {
		var table string
		var n int64
		if err := rows.Scan(&table, &n); err != nil {
			return nil, fmt.Errorf("storage: scan backlog: %w", err)
		}
		backlog[table] = n
	}
	return backlog, rows.Err()
}

// SimilarFilter restricts SimilarEntries. Zero-valued fields do not filter.
type SimilarFilter struct {
	WellID string
	Source model.Source
	Stage  model.LoopStage
}

// SimilarEntries ranks memory log entries by cosine similarity to vec. Rows
// without an embedding, or with an embedding of another dimension, are
// skipped.
func (db *DB) SimilarEntries(ctx context.Context, vec pgvector.Vector, f SimilarFilter, limit int) ([]model.SearchHit, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT vector_id::text, 1 - (embedding <=> $1) AS score,
		       well_id, source, text, noun_phrases, timestamp_or_page,
		       anomaly_or_importance, loop_stage, anchor_status, source_file
		 FROM memory_log
		 WHERE embedding IS NOT NULL
		   AND vector_dims(embedding) = $2
		   AND ($3 = '' OR well_id = $3)
		   AND ($4 = '' OR source = $4)
		   AND ($5 = '' OR loop_stage = $5)
		 ORDER BY embedding <=> $1
		 LIMIT $6`,
		vec, len(vec.Slice()), f.WellID, string(f.Source), string(f.Stage), limit)
	if err != nil {
		return nil, fmt.Errorf("storage: query similar entries: %w", err)
	}
	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.SearchHit, error) {
		var h model.SearchHit
		var score float64
		var source, stage, anchor string
		err := row.Scan(&h.VectorID, &score, &h.WellID, &source, &h.Text, &h.NounPhrases,
			&h.TimestampOrPage, &h.AnomalyOrImportance, &stage, &anchor, &h.SourceFile)
		h.Score = float32(score)
		h.Source = model.Source(source)
		h.LoopStage = model.LoopStage(stage)
		h.AnchorStatus = model.AnchorStatus(anchor)
		return h, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: scan similar entries: %w", err)
	}
	return hits, nil
}

// MemoryVector is a memory log entry together with its stored embedding.
type MemoryVector struct {
	Entry     model.MemoryEntry
	Embedding []float32
}

// MemoryVectors pages through memory log entries that carry an embedding,
// in id order starting after afterID.
func (db *DB) MemoryVectors(ctx context.Context, afterID int64, limit int) ([]MemoryVector, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+memoryColumns+`, embedding
		 FROM memory_log
		 WHERE embedding IS NOT NULL AND id > $1
		 ORDER BY id
		 LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: query memory vectors: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (MemoryVector, error) {
		var mv MemoryVector
		var emb pgvector.Vector
		var source, stage, anchor string
		e := &mv.Entry
		err := row.Scan(&e.ID, &e.UnitID, &e.WellID, &source, &e.Text, &e.NounPhrases,
			&e.TimestampOrPage, &e.SortKey, &e.AnomalyOrImportance, &stage, &e.Embedded,
			&e.VectorID, &anchor, &e.SourceFile, &e.CreatedAt, &emb)
		e.Source = model.Source(source)
		e.LoopStage = model.LoopStage(stage)
		e.AnchorStatus = model.AnchorStatus(anchor)
		mv.Embedding = emb.Slice()
		return mv, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: scan memory vectors: %w", err)
	}
	return out, nil
}

func scanMemoryEntry(row pgx.CollectableRow) (model.MemoryEntry, error) {
	var e model.MemoryEntry
	var source, stage, anchor string
	err := row.Scan(&e.ID, &e.UnitID, &e.WellID, &source, &e.Text, &e.NounPhrases,
		&e.TimestampOrPage, &e.SortKey, &e.AnomalyOrImportance, &stage, &e.Embedded,
		&e.VectorID, &anchor, &e.SourceFile, &e.CreatedAt)
	e.Source = model.Source(source)
	e.LoopStage = model.LoopStage(stage)
	e.AnchorStatus = model.AnchorStatus(anchor)
	return e, err
}
