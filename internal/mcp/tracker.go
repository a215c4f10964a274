package mcp

import (
	"sync"
	"time"

	"github.com/genioCE/WellApp/internal/model"
)

// replayTracker suppresses repeated wellapp_replay calls for the same well
// and source within a time window. Agents tend to retry a tool whose effect
// they cannot see; every accepted call re-broadcasts the whole well.
//
// In-memory and per-process: a restart forgets pending windows.
type replayTracker struct {
	mu      sync.Mutex
	started map[replayKey]time.Time
	window  time.Duration
	now     func() time.Time
}

type replayKey struct {
	wellID string
	source model.Source
}

func newReplayTracker(window time.Duration) *replayTracker {
	return &replayTracker{
		started: make(map[replayKey]time.Time),
		window:  window,
		now:     time.Now,
	}
}

// TryStart records a replay request and reports whether it should proceed.
// It returns false if the same request was accepted within the window.
func (t *replayTracker) TryStart(wellID string, src model.Source) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	key := replayKey{wellID, src}
	if ts, ok := t.started[key]; ok && now.Sub(ts) <= t.window {
		return false
	}
	t.started[key] = now

	// Lazy cleanup keeps the map bounded across many wells.
	if len(t.started) > 1000 {
		t.purgeStale(now)
	}
	return true
}

// Forget drops a request so the next call proceeds, e.g. after a failed publish.
func (t *replayTracker) Forget(wellID string, src model.Source) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.started, replayKey{wellID, src})
}

// purgeStale removes entries older than the window. Must be called with mu held.
func (t *replayTracker) purgeStale(now time.Time) {
	for k, ts := range t.started {
		if now.Sub(ts) > t.window {
			delete(t.started, k)
		}
	}
}
