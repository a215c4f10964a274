package storage

import (
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/genioCE/WellApp/internal/model"
)

// stageTables holds the per-source SQL for one table family. Every select
// projects to the same column shape per source, so one scan function serves
// all three stages: snapshot selects fill text and phrases with empty values
// and every select ends with a flag column.
type stageTables struct {
	snapshot    string
	interpreted string
	reflected   string

	selectSnapshot    string
	selectInterpreted string
	selectReflected   string

	scan              func(pgx.CollectableRow) (model.ReflectedUnit, error)
	insertSnapshot    func(*pgx.Batch, model.DataUnit)
	insertInterpreted func(*pgx.Batch, model.InterpretedUnit)
	insertReflected   func(*pgx.Batch, model.ReflectedUnit)
}

// Pending rows are selected with ($1 = '' OR well_id = $1): an empty well id
// sweeps every well.
var scadaTables = stageTables{
	snapshot:    "snapshot_scada",
	interpreted: "interpreted_scada",
	reflected:   "reflected_scada",

	selectSnapshot: `SELECT id, well_id, timestamp, '' AS text, '{}'::text[] AS noun_phrases,
		        flow_rate, pressure, temperature, volume, source_file, false
		 FROM snapshot_scada
		 WHERE NOT interpreted AND ($1 = '' OR well_id = $1)
		 ORDER BY well_id, timestamp, id
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`,
	selectInterpreted: `SELECT id, well_id, timestamp, text, noun_phrases,
		        flow_rate, pressure, temperature, volume, source_file, false
		 FROM interpreted_scada
		 WHERE NOT reflected AND ($1 = '' OR well_id = $1)
		 ORDER BY well_id, timestamp, id
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`,
	selectReflected: `SELECT id, well_id, timestamp, text, noun_phrases,
		        flow_rate, pressure, temperature, volume, source_file, anomaly
		 FROM reflected_scada
		 WHERE NOT embedded AND ($1 = '' OR well_id = $1)
		 ORDER BY well_id, timestamp, id
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`,

	scan: func(row pgx.CollectableRow) (model.ReflectedUnit, error) {
		u := model.ReflectedUnit{}
		u.Source = model.SourceSCADA
		err := row.Scan(&u.ID, &u.WellID, &u.Timestamp, &u.Text, &u.NounPhrases,
			&u.FlowRate, &u.Pressure, &u.Temperature, &u.Volume, &u.SourceFile, &u.Flagged)
		return u, err
	},
	insertSnapshot: func(b *pgx.Batch, u model.DataUnit) {
		b.Queue(`INSERT INTO snapshot_scada (well_id, timestamp, flow_rate, pressure, temperature, volume, source_file)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT DO NOTHING`,
			u.WellID, u.Timestamp, u.FlowRate, u.Pressure, u.Temperature, u.Volume, u.SourceFile)
	},
	insertInterpreted: func(b *pgx.Batch, u model.InterpretedUnit) {
		b.Queue(`INSERT INTO interpreted_scada (id, well_id, timestamp, text, noun_phrases,
			                                    flow_rate, pressure, temperature, volume, source_file)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (id) DO NOTHING`,
			u.ID, u.WellID, u.Timestamp, u.Text, phrases(u.NounPhrases),
			u.FlowRate, u.Pressure, u.Temperature, u.Volume, u.SourceFile)
	},
	insertReflected: func(b *pgx.Batch, u model.ReflectedUnit) {
		b.Queue(`INSERT INTO reflected_scada (id, well_id, timestamp, text, noun_phrases,
			                                  flow_rate, pressure, temperature, volume, anomaly, source_file)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (id) DO NOTHING`,
			u.ID, u.WellID, u.Timestamp, u.Text, phrases(u.NounPhrases),
			u.FlowRate, u.Pressure, u.Temperature, u.Volume, u.Flagged, u.SourceFile)
	},
}

var wellfileTables = stageTables{
	snapshot:    "snapshot_wellfile",
	interpreted: "interpreted_wellfile",
	reflected:   "reflected_wellfile",

	selectSnapshot: `SELECT id, well_id, page, text, '{}'::text[] AS noun_phrases, source_file, false
		 FROM snapshot_wellfile
		 WHERE NOT interpreted AND ($1 = '' OR well_id = $1)
		 ORDER BY well_id, page, id
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`,
	selectInterpreted: `SELECT id, well_id, page, text, noun_phrases, source_file, false
		 FROM interpreted_wellfile
		 WHERE NOT reflected AND ($1 = '' OR well_id = $1)
		 ORDER BY well_id, page, id
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`,
	selectReflected: `SELECT id, well_id, page, text, noun_phrases, source_file, important
		 FROM reflected_wellfile
		 WHERE NOT embedded AND ($1 = '' OR well_id = $1)
		 ORDER BY well_id, page, id
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`,

	scan: func(row pgx.CollectableRow) (model.ReflectedUnit, error) {
		u := model.ReflectedUnit{}
		u.Source = model.SourceWellfile
		err := row.Scan(&u.ID, &u.WellID, &u.Page, &u.Text, &u.NounPhrases, &u.SourceFile, &u.Flagged)
		return u, err
	},
	insertSnapshot: func(b *pgx.Batch, u model.DataUnit) {
		b.Queue(`INSERT INTO snapshot_wellfile (well_id, page, text, source_file)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT DO NOTHING`,
			u.WellID, u.Page, u.Text, u.SourceFile)
	},
	insertInterpreted: func(b *pgx.Batch, u model.InterpretedUnit) {
		b.Queue(`INSERT INTO interpreted_wellfile (id, well_id, page, text, noun_phrases, source_file)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (id) DO NOTHING`,
			u.ID, u.WellID, u.Page, u.Text, phrases(u.NounPhrases), u.SourceFile)
	},
	insertReflected: func(b *pgx.Batch, u model.ReflectedUnit) {
		b.Queue(`INSERT INTO reflected_wellfile (id, well_id, page, text, noun_phrases, important, source_file)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (id) DO NOTHING`,
			u.ID, u.WellID, u.Page, u.Text, phrases(u.NounPhrases), u.Flagged, u.SourceFile)
	},
}

func tablesFor(src model.Source) (stageTables, error) {
	switch src {
	case model.SourceSCADA:
		return scadaTables, nil
	case model.SourceWellfile:
		return wellfileTables, nil
	default:
		return stageTables{}, fmt.Errorf("%w: %q", ErrUnknownSource, src)
	}
}

// phrases keeps NOT NULL array columns satisfied when a unit has no phrases.
func phrases(p []string) []string {
	if p == nil {
		return []string{}
	}
	return p
}
