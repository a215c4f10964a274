package pipeline_test

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/genioCE/WellApp/internal/model"
	"github.com/genioCE/WellApp/internal/storage"
)

// memStore is an in-memory stand-in for the stage store. Each stage table is
// a slice of rows with a completion flag; a failed callback leaves rows
// unflagged, as the transactional store does.
type memStore struct {
	mu          sync.Mutex
	nextID      int64
	snapshots   []*row
	interpreted []*row
	reflected   []*row
	memory      []*model.MemoryEntry
}

type row struct {
	unit model.ReflectedUnit
	done bool
}

func newMemStore() *memStore { return &memStore{} }

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) InsertSnapshots(_ context.Context, units []model.DataUnit) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, u := range units {
		dup := slices.ContainsFunc(s.snapshots, func(r *row) bool {
			return r.unit.WellID == u.WellID && r.unit.SourceFile == u.SourceFile &&
				r.unit.Source == u.Source && r.unit.TimestampOrPage() == u.TimestampOrPage()
		})
		if dup {
			continue
		}
		u.ID = s.id()
		s.snapshots = append(s.snapshots, &row{unit: model.ReflectedUnit{InterpretedUnit: model.InterpretedUnit{DataUnit: u}}})
		n++
	}
	return n, nil
}

// claim returns pending rows of table in store order, bounded by sel.Limit.
func (s *memStore) claim(table []*row, sel storage.Selection) []*row {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*row
	for _, r := range table {
		if r.done || r.unit.Source != sel.Source || (sel.WellID != "" && r.unit.WellID != sel.WellID) {
			continue
		}
		out = append(out, r)
	}
	slices.SortStableFunc(out, func(a, b *row) int {
		if c := cmp.Compare(a.unit.WellID, b.unit.WellID); c != 0 {
			return c
		}
		return cmp.Compare(a.unit.SortKey(), b.unit.SortKey())
	})
	if len(out) > sel.Limit {
		out = out[:sel.Limit]
	}
	return out
}

func (s *memStore) InterpretBatch(ctx context.Context, sel storage.Selection,
	fn func(context.Context, []model.DataUnit) ([]model.InterpretedUnit, error),
) ([]model.InterpretedUnit, error) {
	claimed := s.claim(s.snapshotsRef(), sel)
	if len(claimed) == 0 {
		return nil, nil
	}
	units := make([]model.DataUnit, len(claimed))
	for i, r := range claimed {
		units[i] = r.unit.DataUnit
	}
	out, err := fn(ctx, units)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range out {
		out[i].ID = s.id()
		s.interpreted = append(s.interpreted, &row{unit: model.ReflectedUnit{InterpretedUnit: out[i]}})
	}
	for _, r := range claimed {
		r.done = true
	}
	return out, nil
}

func (s *memStore) ReflectBatch(ctx context.Context, sel storage.Selection,
	fn func(context.Context, []model.InterpretedUnit) ([]model.ReflectedUnit, error),
) ([]model.ReflectedUnit, error) {
	claimed := s.claim(s.interpretedRef(), sel)
	if len(claimed) == 0 {
		return nil, nil
	}
	units := make([]model.InterpretedUnit, len(claimed))
	for i, r := range claimed {
		units[i] = r.unit.InterpretedUnit
	}
	out, err := fn(ctx, units)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range out {
		out[i].ID = s.id()
		s.reflected = append(s.reflected, &row{unit: out[i]})
	}
	for _, r := range claimed {
		r.done = true
	}
	return out, nil
}

func (s *memStore) TruthBatch(ctx context.Context, sel storage.Selection,
	fn func(context.Context, []model.ReflectedUnit) ([]storage.TruthRecord, error),
) ([]model.MemoryEntry, error) {
	claimed := s.claim(s.reflectedRef(), sel)
	if len(claimed) == 0 {
		return nil, nil
	}
	units := make([]model.ReflectedUnit, len(claimed))
	for i, r := range claimed {
		units[i] = r.unit
	}
	records, err := fn(ctx, units)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.MemoryEntry, len(records))
	for i, rec := range records {
		u := rec.Unit
		e := model.MemoryEntry{
			ID:                  s.id(),
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
			VectorID:            rec.VectorID,
			AnchorStatus:        rec.AnchorStatus,
			SourceFile:          u.SourceFile,
		}
		s.memory = append(s.memory, &e)
		out[i] = e
	}
	for _, r := range claimed {
		r.done = true
	}
	return out, nil
}

func (s *memStore) FinalizeBatch(ctx context.Context, wellID string, limit int,
	fn func(context.Context, []model.MemoryEntry) error,
) ([]model.MemoryEntry, error) {
	s.mu.Lock()
	var claimed []*model.MemoryEntry
	for _, e := range s.memory {
		if e.LoopStage == model.LoopStageTruth && (wellID == "" || e.WellID == wellID) && len(claimed) < limit {
			claimed = append(claimed, e)
		}
	}
	s.mu.Unlock()
	if len(claimed) == 0 {
		return nil, nil
	}
	entries := make([]model.MemoryEntry, len(claimed))
	for i, e := range claimed {
		entries[i] = *e
	}
	if err := fn(ctx, entries); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range claimed {
		e.LoopStage = model.LoopStageEmbedded
		entries[i].LoopStage = model.LoopStageEmbedded
	}
	return entries, nil
}

func (s *memStore) ScadaHistory(_ context.Context, wellID string, before time.Time, n int) ([]model.ReflectedUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ReflectedUnit
	for _, r := range s.reflected {
		if r.unit.Source == model.SourceSCADA && r.unit.WellID == wellID && r.unit.Timestamp.Before(before) {
			out = append(out, r.unit)
		}
	}
	slices.SortFunc(out, func(a, b model.ReflectedUnit) int { return a.Timestamp.Compare(b.Timestamp) })
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

func (s *memStore) snapshotsRef() []*row   { return s.locked(func() []*row { return s.snapshots }) }
func (s *memStore) interpretedRef() []*row { return s.locked(func() []*row { return s.interpreted }) }
func (s *memStore) reflectedRef() []*row   { return s.locked(func() []*row { return s.reflected }) }

func (s *memStore) locked(f func() []*row) []*row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(f())
}

// entries returns a copy of the memory log.
func (s *memStore) entries() []model.MemoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.MemoryEntry, len(s.memory))
	for i, e := range s.memory {
		out[i] = *e
	}
	return out
}

// pending counts unflagged rows of every stage table.
func (s *memStore) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range [][]*row{s.snapshots, s.interpreted, s.reflected} {
		for _, r := range t {
			if !r.done {
				n++
			}
		}
	}
	return n
}
