package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

const (
	sweepEvery     = time.Minute
	staleThreshold = 10 * time.Minute
)

type bucket struct {
	tokens float64
	seen   time.Time
}

// Memory is a token bucket per client address held in process memory.
// Buckets idle for ten minutes are evicted by a background sweep.
type Memory struct {
	rate  float64 // tokens per second
	burst float64

	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time

	stopOnce sync.Once
	done     chan struct{}
	swept    chan struct{}
}

// NewMemory creates a limiter refilling rate tokens per second up to burst.
// Call Close to stop the eviction sweep.
func NewMemory(rate float64, burst int) *Memory {
	m := &Memory{
		rate:    rate,
		burst:   float64(max(burst, 1)),
		buckets: make(map[string]*bucket),
		now:     time.Now,
		done:    make(chan struct{}),
		swept:   make(chan struct{}),
	}
	go m.sweep()
	return m
}

// Allow takes one token from key's bucket.
func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{tokens: m.burst, seen: now}
		m.buckets[key] = b
	}
	b.tokens = math.Min(m.burst, b.tokens+now.Sub(b.seen).Seconds()*m.rate)
	b.seen = now

	if b.tokens < 1 {
		wait := time.Duration((1 - b.tokens) / m.rate * float64(time.Second))
		return Decision{RetryAfter: wait}, nil
	}
	b.tokens--
	return Decision{Allowed: true, Remaining: int(b.tokens)}, nil
}

// Len reports how many client buckets are live.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// Close stops the sweep and waits for it to exit. Safe to call twice.
func (m *Memory) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	<-m.swept
	return nil
}

func (m *Memory) sweep() {
	defer close(m.swept)
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

func (m *Memory) evictStale() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-staleThreshold)
	for key, b := range m.buckets {
		if b.seen.Before(cutoff) {
			delete(m.buckets, key)
		}
	}
}
