package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/genioCE/WellApp/internal/model"
	"github.com/genioCE/WellApp/internal/search"
)

// Finalizer promotes memory log entries from loop stage truth to embedded,
// first in the vector index and then in the log. If the index update fails
// the entries stay at truth and are retried.
type Finalizer struct {
	store     Store
	index     search.Index
	batchSize int
}

// NewFinalizer creates the finalize stage.
func NewFinalizer(store Store, index search.Index, batchSize int) *Finalizer {
	return &Finalizer{store: store, index: index, batchSize: batchSize}
}

// Stage implements Processor. It is the last stage and emits nothing.
func (p *Finalizer) Stage() Stage {
	return Stage{
		Name:    "finalize",
		Listen:  model.ChannelEmbed,
		Accepts: []string{model.EventEmbedReady},
	}
}

// Process implements Processor. Entries of every source of the event's well
// are finalized together.
func (p *Finalizer) Process(ctx context.Context, ev model.StageEvent) (Outcome, error) {
	return p.run(ctx, ev.WellID)
}

// Sweep implements Processor.
func (p *Finalizer) Sweep(ctx context.Context) (Outcome, error) {
	return p.run(ctx, "")
}

func (p *Finalizer) run(ctx context.Context, wellID string) (Outcome, error) {
	done, err := p.store.FinalizeBatch(ctx, wellID, p.batchSize, p.promote)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Rows:    len(done),
		Touched: touched(done, func(e model.MemoryEntry) Key { return Key{e.WellID, e.Source} }),
		Full:    len(done) >= p.batchSize,
	}, nil
}

func (p *Finalizer) promote(ctx context.Context, entries []model.MemoryEntry) error {
	ids := make([]uuid.UUID, len(entries))
	for i, e := range entries {
		ids[i] = e.VectorID
	}
	return p.index.SetLoopStage(ctx, ids, model.LoopStageEmbedded)
}
