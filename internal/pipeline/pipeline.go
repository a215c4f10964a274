// Package pipeline runs the stage processors that move well data from raw
// files to the memory log.
//
// Each processor owns one stage: it listens on one bus channel, runs one
// transactional batch per notification against the stage store, and
// announces the wells it advanced on the next stage's channel. The store's
// completion flags make every batch idempotent, so a duplicated or replayed
// notification is harmless and a lost one is recovered by the periodic sweep.
package pipeline

import (
	"context"
	"slices"
	"time"

	"github.com/genioCE/WellApp/internal/model"
	"github.com/genioCE/WellApp/internal/storage"
)

// Store is the part of the stage store the processors use. *storage.DB
// implements it.
type Store interface {
	InsertSnapshots(ctx context.Context, units []model.DataUnit) (int64, error)
	InterpretBatch(ctx context.Context, sel storage.Selection,
		fn func(context.Context, []model.DataUnit) ([]model.InterpretedUnit, error)) ([]model.InterpretedUnit, error)
	ReflectBatch(ctx context.Context, sel storage.Selection,
		fn func(context.Context, []model.InterpretedUnit) ([]model.ReflectedUnit, error)) ([]model.ReflectedUnit, error)
	TruthBatch(ctx context.Context, sel storage.Selection,
		fn func(context.Context, []model.ReflectedUnit) ([]storage.TruthRecord, error)) ([]model.MemoryEntry, error)
	FinalizeBatch(ctx context.Context, wellID string, limit int,
		fn func(context.Context, []model.MemoryEntry) error) ([]model.MemoryEntry, error)
	ScadaHistory(ctx context.Context, wellID string, before time.Time, n int) ([]model.ReflectedUnit, error)
}

// Stage describes where a processor sits in the chain.
type Stage struct {
	Name      string   // used in logs and metrics
	Listen    string   // channel the processor subscribes to
	Accepts   []string // event names accepted on Listen
	Emit      string   // channel for the next stage; empty for the last stage
	NextEvent string   // event name published on Emit
}

// Key identifies one (well, source) chain.
type Key struct {
	WellID string
	Source model.Source
}

// Outcome reports what one batch did.
type Outcome struct {
	Rows    int   // rows advanced
	Touched []Key // chains to announce on the next stage, in first-seen order
	Full    bool  // the batch hit its size bound; more rows may be pending
}

// Processor runs batches for one stage.
type Processor interface {
	Stage() Stage

	// Process runs one batch for the chain named by ev.
	Process(ctx context.Context, ev model.StageEvent) (Outcome, error)

	// Sweep runs one batch per source across every well.
	Sweep(ctx context.Context) (Outcome, error)
}

// touched lists the distinct chains among items in first-seen order.
func touched[T any](items []T, key func(T) Key) []Key {
	seen := make(map[Key]bool)
	var out []Key
	for _, it := range items {
		k := key(it)
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

// merge folds b into a for sweeps that run several batches.
func merge(a, b Outcome) Outcome {
	a.Rows += b.Rows
	a.Full = a.Full || b.Full
	for _, k := range b.Touched {
		if !slices.Contains(a.Touched, k) {
			a.Touched = append(a.Touched, k)
		}
	}
	return a
}
