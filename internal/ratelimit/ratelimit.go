// Package ratelimit throttles the expensive and state-changing routes per
// client address.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // Zero when Allowed.
}

// Limiter decides whether a request from key may proceed. Implementations
// must be safe for concurrent use. An error means the limiter itself failed
// and callers let the request through.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
	Close() error
}

// Noop permits every request. Used when WELLAPP_RATE_LIMIT_RPS is 0.
type Noop struct{}

// Allow always permits.
func (Noop) Allow(context.Context, string) (Decision, error) {
	return Decision{Allowed: true}, nil
}

// Close is a no-op.
func (Noop) Close() error { return nil }
