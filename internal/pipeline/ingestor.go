package pipeline

import (
	"context"
	"fmt"

	"github.com/genioCE/WellApp/internal/ingest"
	"github.com/genioCE/WellApp/internal/model"
)

// Ingestor loads a raw file named in an ingest event into the snapshot
// tables. Rows already present from an earlier run of the same file are
// skipped, so replaying an ingest event is safe.
type Ingestor struct {
	store Store
	files ingest.FileReader
}

// NewIngestor creates the ingest stage.
func NewIngestor(store Store, files ingest.FileReader) *Ingestor {
	return &Ingestor{store: store, files: files}
}

// Stage implements Processor.
func (p *Ingestor) Stage() Stage {
	return Stage{
		Name:      "ingest",
		Listen:    model.ChannelIngest,
		Accepts:   []string{model.EventScadaIngestReady, model.EventWellfileIngestReady},
		Emit:      model.ChannelInterpret,
		NextEvent: model.EventInterpretReady,
	}
}

// Process implements Processor.
func (p *Ingestor) Process(ctx context.Context, ev model.StageEvent) (Outcome, error) {
	data, err := p.files.ReadFile(ctx, ev.FilePath)
	if err != nil {
		return Outcome{}, err
	}
	units, err := ingest.Parse(ev.Source, ev.WellID, ev.FilePath, data)
	if err != nil {
		return Outcome{}, err
	}
	if len(units) == 0 {
		return Outcome{}, nil
	}
	n, err := p.store.InsertSnapshots(ctx, units)
	if err != nil {
		return Outcome{}, fmt.Errorf("pipeline: ingest %s: %w", ev.FilePath, err)
	}
	// Announce even when every row was a duplicate: earlier rows may still
	// be waiting on interpretation.
	return Outcome{Rows: int(n), Touched: []Key{{WellID: ev.WellID, Source: ev.Source}}}, nil
}

// Sweep implements Processor. Files are only known from events, so there is
// nothing to sweep.
func (p *Ingestor) Sweep(context.Context) (Outcome, error) {
	return Outcome{}, nil
}
