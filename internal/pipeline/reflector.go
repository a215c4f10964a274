package pipeline

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/genioCE/WellApp/internal/model"
	"github.com/genioCE/WellApp/internal/reflection"
	"github.com/genioCE/WellApp/internal/storage"
)

// Reflector tags SCADA units as anomalous and well file units as important.
type Reflector struct {
	store     Store
	detector  reflection.Detector
	keywords  []string
	batchSize int
}

// NewReflector creates the reflect stage. Nil keywords select the defaults.
func NewReflector(store Store, detector reflection.Detector, keywords []string, batchSize int) *Reflector {
	if keywords == nil {
		keywords = reflection.DefaultKeywords
	}
	return &Reflector{store: store, detector: detector, keywords: keywords, batchSize: batchSize}
}

// Stage implements Processor.
func (p *Reflector) Stage() Stage {
	return Stage{
		Name:      "reflect",
		Listen:    model.ChannelReflect,
		Accepts:   []string{model.EventReflectReady},
		Emit:      model.ChannelTruth,
		NextEvent: model.EventTruthReady,
	}
}

// Process implements Processor.
func (p *Reflector) Process(ctx context.Context, ev model.StageEvent) (Outcome, error) {
	return p.run(ctx, storage.Selection{Source: ev.Source, WellID: ev.WellID, Limit: p.batchSize})
}

// Sweep implements Processor.
func (p *Reflector) Sweep(ctx context.Context) (Outcome, error) {
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

func (p *Reflector) run(ctx context.Context, sel storage.Selection) (Outcome, error) {
	done, err := p.store.ReflectBatch(ctx, sel, p.reflect)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Rows:    len(done),
		Touched: touched(done, func(u model.ReflectedUnit) Key { return Key{u.WellID, u.Source} }),
		Full:    len(done) >= sel.Limit,
	}, nil
}

func (p *Reflector) reflect(ctx context.Context, units []model.InterpretedUnit) ([]model.ReflectedUnit, error) {
	out := make([]model.ReflectedUnit, len(units))
	for i, u := range units {
		out[i] = model.ReflectedUnit{InterpretedUnit: u}
		if u.Source == model.SourceWellfile {
			out[i].Flagged = reflection.ContainsKeywords(u.Text, p.keywords)
		}
	}

	// SCADA anomalies are judged per well, in time order, against the
	// well's already-reflected readings.
	byWell := make(map[string][]int)
	var wells []string
	for i, u := range units {
		if u.Source != model.SourceSCADA {
			continue
		}
		if _, ok := byWell[u.WellID]; !ok {
			wells = append(wells, u.WellID)
		}
		byWell[u.WellID] = append(byWell[u.WellID], i)
	}
	for _, well := range wells {
		idx := byWell[well]
		slices.SortStableFunc(idx, func(a, b int) int {
			return cmp.Compare(units[a].Timestamp.UnixNano(), units[b].Timestamp.UnixNano())
		})

		history, err := p.store.ScadaHistory(ctx, well, units[idx[0]].Timestamp, p.detector.Window)
		if err != nil {
			return nil, fmt.Errorf("pipeline: load history for %s: %w", well, err)
		}
		prior := make([]reflection.Sample, len(history))
		for i, h := range history {
			prior[i] = reflection.Sample{Pressure: h.Pressure, FlowRate: h.FlowRate}
		}
		batch := make([]reflection.Sample, len(idx))
		for i, j := range idx {
			batch[i] = reflection.Sample{Pressure: units[j].Pressure, FlowRate: units[j].FlowRate}
		}
		for i, flagged := range p.detector.Flag(prior, batch) {
			out[idx[i]].Flagged = flagged
		}
	}
	return out, nil
}
