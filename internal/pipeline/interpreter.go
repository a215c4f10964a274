package pipeline

import (
	"context"
	"fmt"
	"strconv"

	"github.com/genioCE/WellApp/internal/model"
	"github.com/genioCE/WellApp/internal/service/phrases"
	"github.com/genioCE/WellApp/internal/storage"
)

// Interpreter renders each raw unit as text and annotates it with noun
// phrases.
type Interpreter struct {
	store     Store
	phrases   phrases.Extractor
	batchSize int
}

// NewInterpreter creates the interpret stage.
func NewInterpreter(store Store, extractor phrases.Extractor, batchSize int) *Interpreter {
	return &Interpreter{store: store, phrases: extractor, batchSize: batchSize}
}

// Stage implements Processor.
func (p *Interpreter) Stage() Stage {
	return Stage{
		Name:      "interpret",
		Listen:    model.ChannelInterpret,
		Accepts:   []string{model.EventInterpretReady},
		Emit:      model.ChannelReflect,
		NextEvent: model.EventReflectReady,
	}
}

// Process implements Processor.
func (p *Interpreter) Process(ctx context.Context, ev model.StageEvent) (Outcome, error) {
	return p.run(ctx, storage.Selection{Source: ev.Source, WellID: ev.WellID, Limit: p.batchSize})
}

// Sweep implements Processor.
func (p *Interpreter) Sweep(ctx context.Context) (Outcome, error) {
	var total Outcome
	for _, src := range model.Sources {
		out, err := p.run(ctx, storage.Selection{Source: src, Limit: p.batchSize})
		total = merge(total, out)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (p *Interpreter) run(ctx context.Context, sel storage.Selection) (Outcome, error) {
	done, err := p.store.InterpretBatch(ctx, sel, p.interpret)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Rows:    len(done),
		Touched: touched(done, func(u model.InterpretedUnit) Key { return Key{u.WellID, u.Source} }),
		Full:    len(done) >= sel.Limit,
	}, nil
}

func (p *Interpreter) interpret(ctx context.Context, units []model.DataUnit) ([]model.InterpretedUnit, error) {
	out := make([]model.InterpretedUnit, len(units))
	for i, u := range units {
		if u.Source == model.SourceSCADA {
			u.Text = RenderSCADA(u)
		}
		nps, err := p.phrases.Extract(ctx, u.Text)
		if err != nil {
			return nil, fmt.Errorf("pipeline: extract phrases for %s unit %d: %w", u.Source, u.ID, err)
		}
		out[i] = model.InterpretedUnit{DataUnit: u, NounPhrases: nps}
	}
	return out, nil
}

// RenderSCADA describes a SCADA reading in one sentence.
func RenderSCADA(u model.DataUnit) string {
	return fmt.Sprintf("At %s, pressure was %s psi and flow rate was %s bbl/hr.",
		u.Timestamp.UTC().Format("15:04 on Jan 02"),
		strconv.FormatFloat(u.Pressure, 'f', -1, 64),
		strconv.FormatFloat(u.FlowRate, 'f', -1, 64))
}
