package search

import (
	"cmp"
	"context"
	"math"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/viterin/vek/vek32"

	"github.com/genioCE/WellApp/internal/model"
)

// Memory is an in-process Index. It backs single-node development runs and
// tests; contents are lost on restart.
type Memory struct {
	mu     sync.RWMutex
	points map[uuid.UUID]Point
}

// NewMemory returns an empty in-process index.
func NewMemory() *Memory {
	return &Memory{points: make(map[uuid.UUID]Point)}
}

// Upsert implements Index.
func (m *Memory) Upsert(_ context.Context, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		p.Vector = slices.Clone(p.Vector)
		p.Payload.NounPhrases = slices.Clone(p.Payload.NounPhrases)
		m.points[p.ID] = p
	}
	return nil
}

// SetLoopStage implements Index. Unknown ids are ignored.
func (m *Memory) SetLoopStage(_ context.Context, ids []uuid.UUID, stage model.LoopStage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if p, ok := m.points[id]; ok {
			p.Payload.LoopStage = stage
			m.points[id] = p
		}
	}
	return nil
}

// Search implements Index with exact cosine similarity.
func (m *Memory) Search(_ context.Context, vector []float32, f Filter, limit int) ([]model.SearchHit, error) {
	if limit <= 0 {
		limit = model.DefaultSearchLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []model.SearchHit
	for id, p := range m.points {
		if !matches(p.Payload, f) || len(p.Vector) != len(vector) {
			continue
		}
		score := vek32.CosineSimilarity(vector, p.Vector)
		if math.IsNaN(float64(score)) {
			// zero vector on either side
			score = 0
		}
		hits = append(hits, model.SearchHit{VectorID: id.String(), Score: score, VectorPayload: p.Payload})
	}
	slices.SortFunc(hits, func(a, b model.SearchHit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.VectorID, b.VectorID)
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Healthy implements Index.
func (m *Memory) Healthy(context.Context) error { return nil }

// Get returns a stored point.
func (m *Memory) Get(id uuid.UUID) (Point, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.points[id]
	return p, ok
}

// Len reports the number of stored points.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}

func matches(p model.VectorPayload, f Filter) bool {
	return (f.WellID == "" || p.WellID == f.WellID) &&
		(f.Source == "" || p.Source == f.Source) &&
		(f.Stage == "" || p.LoopStage == f.Stage)
}
