package storage

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/genioCE/WellApp/internal/model"
)

// Selection narrows a stage batch to one source and, optionally, one well.
// An empty WellID selects pending rows of every well.
type Selection struct {
	Source model.Source
	WellID string
	Limit  int
}

// TruthRecord is what the truth stage writes for one reflected unit.
type TruthRecord struct {
	Unit         model.ReflectedUnit
	VectorID     uuid.UUID
	Embedding    pgvector.Vector
	AnchorStatus model.AnchorStatus
}

// InsertSnapshots stores raw units. Units already present (same well, file,
// and timestamp or page) are skipped. Returns the number of rows inserted.
func (db *DB) InsertSnapshots(ctx context.Context, units []model.DataUnit) (int64, error) {
	if len(units) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, u := range units {
		t, err := tablesFor(u.Source)
		if err != nil {
			return 0, err
		}
		t.insertSnapshot(batch, u)
	}

	var inserted int64
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		inserted = 0
		results := tx.SendBatch(ctx, batch)
		for range units {
			tag, err := results.Exec()
			if err != nil {
				_ = results.Close()
				return fmt.Errorf("storage: insert snapshot: %w", err)
			}
			inserted += tag.RowsAffected()
		}
		return results.Close()
	})
	return inserted, err
}

// InterpretBatch claims up to sel.Limit uninterpreted snapshot rows, passes
// them to fn, writes fn's output to the interpreted table, and marks the
// snapshots interpreted, all in one transaction. An error from fn rolls the
// batch back and leaves every row eligible.
func (db *DB) InterpretBatch(
	ctx context.Context, sel Selection,
	fn func(context.Context, []model.DataUnit) ([]model.InterpretedUnit, error),
) ([]model.InterpretedUnit, error) {
	t, err := tablesFor(sel.Source)
	if err != nil {
		return nil, err
	}

	var out []model.InterpretedUnit
	err = db.inTx(ctx, func(tx pgx.Tx) error {
		out = nil
		claimed, err := claim(ctx, tx, t, t.selectSnapshot, sel)
		if err != nil || len(claimed) == 0 {
			return err
		}
		units := make([]model.DataUnit, len(claimed))
		for i, c := range claimed {
			units[i] = c.DataUnit
		}

		interpreted, err := fn(ctx, units)
		if err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, u := range interpreted {
			t.insertInterpreted(batch, u)
		}
		if err := sendBatch(ctx, tx, batch); err != nil {
			return fmt.Errorf("storage: insert %s: %w", t.interpreted, err)
		}
		if err := markDone(ctx, tx, t.snapshot, "interpreted", ids(claimed)); err != nil {
			return err
		}
		out = interpreted
		return nil
	})
	return out, err
}

// ReflectBatch claims unreflected interpreted rows and records fn's verdicts,
// with the same transactional contract as InterpretBatch.
func (db *DB) ReflectBatch(
	ctx context.Context, sel Selection,
	fn func(context.Context, []model.InterpretedUnit) ([]model.ReflectedUnit, error),
) ([]model.ReflectedUnit, error) {
	t, err := tablesFor(sel.Source)
	if err != nil {
		return nil, err
	}

	var out []model.ReflectedUnit
	err = db.inTx(ctx, func(tx pgx.Tx) error {
		out = nil
		claimed, err := claim(ctx, tx, t, t.selectInterpreted, sel)
		if err != nil || len(claimed) == 0 {
			return err
		}
		units := make([]model.InterpretedUnit, len(claimed))
		for i, c := range claimed {
			units[i] = c.InterpretedUnit
		}

		reflected, err := fn(ctx, units)
		if err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, u := range reflected {
			t.insertReflected(batch, u)
		}
		if err := sendBatch(ctx, tx, batch); err != nil {
			return fmt.Errorf("storage: insert %s: %w", t.reflected, err)
		}
		if err := markDone(ctx, tx, t.interpreted, "reflected", ids(claimed)); err != nil {
			return err
		}
		out = reflected
		return nil
	})
	return out, err
}

// TruthBatch claims unembedded reflected rows and hands them to fn, which
// embeds them and writes their vectors. fn's records are then committed to
// the memory log at loop stage truth, together with the embedded flag and
// vector id on the reflected rows. If fn fails nothing is committed.
func (db *DB) TruthBatch(
	ctx context.Context, sel Selection,
	fn func(context.Context, []model.ReflectedUnit) ([]TruthRecord, error),
) ([]model.MemoryEntry, error) {
	t, err := tablesFor(sel.Source)
	if err != nil {
		return nil, err
	}

	var out []model.MemoryEntry
	err = db.inTx(ctx, func(tx pgx.Tx) error {
		out = nil
		claimed, err := claim(ctx, tx, t, t.selectReflected, sel)
		if err != nil || len(claimed) == 0 {
			return err
		}

		records, err := fn(ctx, claimed)
		if err != nil {
			return err
		}
		entries := make([]model.MemoryEntry, 0, len(records))
		batch := &pgx.Batch{}
		for _, r := range records {
			e := memoryEntry(r)
			batch.Queue(
				fmt.Sprintf(`UPDATE %s SET embedded = true, vector_id = $2 WHERE id = $1`, t.reflected),
				r.Unit.ID, r.VectorID)
			batch.Queue(`INSERT INTO memory_log (unit_id, well_id, source, text, noun_phrases,
				                                timestamp_or_page, sort_key, anomaly_or_importance,
				                                loop_stage, embedded, vector_id, anchor_status,
				                                source_file, embedding)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, true, $10, $11, $12, $13)
				 ON CONFLICT (source, unit_id) DO NOTHING`,
				e.UnitID, e.WellID, string(e.Source), e.Text, phrases(e.NounPhrases),
				e.TimestampOrPage, e.SortKey, e.AnomalyOrImportance,
				string(e.LoopStage), e.VectorID, string(e.AnchorStatus),
				e.SourceFile, embeddingArg(r.Embedding))
			entries = append(entries, e)
		}
		if err := sendBatch(ctx, tx, batch); err != nil {
			return fmt.Errorf("storage: record truth: %w", err)
		}
		out = entries
		return nil
	})
	return out, err
}

// FinalizeBatch claims memory log rows still at loop stage truth, passes them
// to fn (which promotes their vectors), and moves them to embedded. If fn
// fails the rows stay at truth.
func (db *DB) FinalizeBatch(
	ctx context.Context, wellID string, limit int,
	fn func(context.Context, []model.MemoryEntry) error,
) ([]model.MemoryEntry, error) {
	var out []model.MemoryEntry
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		out = nil
		rows, err := tx.Query(ctx,
			`SELECT `+memoryColumns+`
			 FROM memory_log
			 WHERE loop_stage = 'truth' AND ($1 = '' OR well_id = $1)
			 ORDER BY well_id, source, sort_key, id
			 LIMIT $2
			 FOR UPDATE SKIP LOCKED`,
			wellID, limit)
		if err != nil {
			return fmt.Errorf("storage: select truth entries: %w", err)
		}
		entries, err := pgx.CollectRows(rows, scanMemoryEntry)
		if err != nil {
			return fmt.Errorf("storage: scan truth entries: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}

		if err := fn(ctx, entries); err != nil {
			return err
		}
		entryIDs := make([]int64, len(entries))
		for i := range entries {
			entryIDs[i] = entries[i].ID
			entries[i].LoopStage = model.LoopStageEmbedded
		}
		if _, err := tx.Exec(ctx,
			`UPDATE memory_log SET loop_stage = 'embedded' WHERE id = ANY($1)`, entryIDs,
		); err != nil {
			return fmt.Errorf("storage: finalize entries: %w", err)
		}
		out = entries
		return nil
	})
	return out, err
}

// ScadaHistory returns up to n already-reflected SCADA units of wellID
// recorded before ts, oldest first. It warms the anomaly window.
func (db *DB) ScadaHistory(ctx context.Context, wellID string, before time.Time, n int) ([]model.ReflectedUnit, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, well_id, timestamp, text, noun_phrases,
		        flow_rate, pressure, temperature, volume, source_file, anomaly
		 FROM reflected_scada
		 WHERE well_id = $1 AND timestamp < $2
		 ORDER BY timestamp DESC, id DESC
		 LIMIT $3`,
		wellID, before, n)
	if err != nil {
		return nil, fmt.Errorf("storage: query scada history: %w", err)
	}
	history, err := pgx.CollectRows(rows, scadaTables.scan)
	if err != nil {
		return nil, fmt.Errorf("storage: scan scada history: %w", err)
	}
	slices.Reverse(history)
	return history, nil
}

func claim(ctx context.Context, tx pgx.Tx, t stageTables, query string, sel Selection) ([]model.ReflectedUnit, error) {
	rows, err := tx.Query(ctx, query, sel.WellID, sel.Limit)
	if err != nil {
		return nil, fmt.Errorf("storage: claim %s: %w", sel.Source, err)
	}
	units, err := pgx.CollectRows(rows, t.scan)
	if err != nil {
		return nil, fmt.Errorf("storage: scan %s: %w", sel.Source, err)
	}
	return units, nil
}

func markDone(ctx context.Context, tx pgx.Tx, table, flag string, rowIDs []int64) error {
	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET %s = true WHERE id = ANY($1)`, table, flag), rowIDs,
	); err != nil {
		return fmt.Errorf("storage: mark %s %s: %w", table, flag, err)
	}
	return nil
}

func sendBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	return tx.SendBatch(ctx, batch).Close()
}

func ids(units []model.ReflectedUnit) []int64 {
	out := make([]int64, len(units))
	for i, u := range units {
		out[i] = u.ID
	}
	return out
}

// embeddingArg stores NULL for an empty vector, which the vector type rejects.
func embeddingArg(v pgvector.Vector) any {
	if len(v.Slice()) == 0 {
		return nil
	}
	return v
}

func memoryEntry(r TruthRecord) model.MemoryEntry {
	u := r.Unit
	return model.MemoryEntry{
		UnitID:              u.ID,
		WellID:              u.WellID,
		Source:              u.Source,
		Text:                u.Text,
		NounPhrases:         u.NounPhrases,
		TimestampOrPage:     u.TimestampOrPage(),
		SortKey:             u.SortKey(),
		AnomalyOrImportance: u.Flagged,
		LoopStage:           model.LoopStageTruth,
		Embedded:            true,
		VectorID:            r.VectorID,
		AnchorStatus:        r.AnchorStatus,
		SourceFile:          u.SourceFile,
	}
}
