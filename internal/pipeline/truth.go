package pipeline

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/genioCE/WellApp/internal/anchor"
	"github.com/genioCE/WellApp/internal/model"
	"github.com/genioCE/WellApp/internal/search"
	"github.com/genioCE/WellApp/internal/service/embedding"
	"github.com/genioCE/WellApp/internal/storage"
)

// vectorNamespace scopes the name-based UUIDs of stored vectors.
var vectorNamespace = uuid.MustParse("9b3f6a52-1d7e-4c0b-8f21-5a6e0d4c7b93")

// VectorID derives the vector-store id of a reflected unit. Retries of the
// same unit overwrite one point instead of orphaning new ones.
func VectorID(src model.Source, unitID int64) uuid.UUID {
	return uuid.NewSHA1(vectorNamespace, []byte("reflected_"+string(src)+":"+strconv.FormatInt(unitID, 10)))
}

// TruthEmbedder embeds reflected units, anchors each vector, and writes it to
// the vector index at loop stage truth. The index write happens inside the
// store transaction, so a failed upsert leaves the rows unembedded.
type TruthEmbedder struct {
	store     Store
	embedder  embedding.Provider
	index     search.Index
	validator *anchor.Validator
	batchSize int
}

// NewTruthEmbedder creates the truth stage.
func NewTruthEmbedder(store Store, embedder embedding.Provider, index search.Index, validator *anchor.Validator, batchSize int) *TruthEmbedder {
	return &TruthEmbedder{store: store, embedder: embedder, index: index, validator: validator, batchSize: batchSize}
}

// Stage implements Processor.
func (p *TruthEmbedder) Stage() Stage {
	return Stage{
		Name:      "truth",
		Listen:    model.ChannelTruth,
		Accepts:   []string{model.EventTruthReady},
		Emit:      model.ChannelEmbed,
		NextEvent: model.EventEmbedReady,
	}
}

// Process implements Processor.
func (p *TruthEmbedder) Process(ctx context.Context, ev model.StageEvent) (Outcome, error) {
	return p.run(ctx, storage.Selection{Source: ev.Source, WellID: ev.WellID, Limit: p.batchSize})
}

// Sweep implements Processor.
func (p *TruthEmbedder) Sweep(ctx context.Context) (Outcome, error) {
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

func (p *TruthEmbedder) run(ctx context.Context, sel storage.Selection) (Outcome, error) {
	done, err := p.store.TruthBatch(ctx, sel, p.embed)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Rows:    len(done),
		Touched: touched(done, func(e model.MemoryEntry) Key { return Key{e.WellID, e.Source} }),
		Full:    len(done) >= sel.Limit,
	}, nil
}

func (p *TruthEmbedder) embed(ctx context.Context, units []model.ReflectedUnit) ([]storage.TruthRecord, error) {
	texts := make([]string, len(units))
	for i, u := range units {
		texts[i] = u.Text
	}
	vecs, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("pipeline: embed %d units: %w", len(units), err)
	}
	if len(vecs) != len(units) {
		return nil, fmt.Errorf("pipeline: embedder returned %d vectors for %d units", len(vecs), len(units))
	}

	records := make([]storage.TruthRecord, len(units))
	points := make([]search.Point, len(units))
	for i, u := range units {
		res := p.validator.Validate(vecs[i].Slice())
		id := VectorID(u.Source, u.ID)
		records[i] = storage.TruthRecord{
			Unit:         u,
			VectorID:     id,
			Embedding:    pgvector.NewVector(res.Vector),
			AnchorStatus: res.Status,
		}
		points[i] = search.Point{
			ID:     id,
			Vector: res.Vector,
			Payload: model.VectorPayload{
				WellID:              u.WellID,
				Source:              u.Source,
				Text:                u.Text,
				NounPhrases:         u.NounPhrases,
				TimestampOrPage:     u.TimestampOrPage(),
				AnomalyOrImportance: u.Flagged,
				LoopStage:           model.LoopStageTruth,
				AnchorStatus:        res.Status,
				SourceFile:          u.SourceFile,
			},
		}
	}
	if err := p.index.Upsert(ctx, points); err != nil {
		return nil, err
	}
	return records, nil
}
