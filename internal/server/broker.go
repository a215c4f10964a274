package server

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/genioCE/WellApp/internal/bus"
	"github.com/genioCE/WellApp/internal/model"
)

// replayHistory is how many broadcast entries the broker keeps for
// GET /v1/replay/latest.
const replayHistory = 50

// Broker fans out memory replay broadcasts to SSE subscribers and keeps the
// most recent entries for late joiners.
type Broker struct {
	bus    bus.Subscriber
	logger *slog.Logger
	poll   time.Duration

	mu          sync.RWMutex
	subscribers map[chan []byte]struct{}
	latest      []model.ReplayEntry // oldest first
}

// NewBroker creates a new SSE broker. Call Start to begin listening.
func NewBroker(b bus.Subscriber, logger *slog.Logger) *Broker {
	return &Broker{
		bus:         b,
		logger:      logger,
		poll:        time.Second,
		subscribers: make(map[chan []byte]struct{}),
	}
}

// Start listens on the memory replay channel until ctx is cancelled. It
// blocks, so call it in a goroutine.
func (b *Broker) Start(ctx context.Context) {
	sub, err := b.bus.Subscribe(ctx, model.ChannelMemoryReplay)
	if err != nil {
		b.logger.Warn("broker: subscribe failed, retrying", "channel", model.ChannelMemoryReplay, "error", err)
		if sub = b.resubscribe(ctx); sub == nil {
			return
		}
	}
	defer func() {
		if sub != nil {
			_ = sub.Close(context.Background())
		}
	}()
	b.logger.Info("broker: listening for replays", "channel", model.ChannelMemoryReplay)

	for {
		msg, err := sub.Poll(ctx, b.poll)
		if err != nil {
			if ctx.Err() != nil {
				return // Shutting down.
			}
			b.logger.Warn("broker: poll failed, resubscribing", "error", err)
			_ = sub.Close(ctx)
			if sub = b.resubscribe(ctx); sub == nil {
				return
			}
			continue
		}
		if msg == nil {
			continue
		}
		entry, err := bus.DecodeReplayEntry(msg)
		if err != nil {
			b.logger.Warn("broker: dropping malformed entry", "error", err)
			continue
		}
		b.record(entry)
		b.broadcast(formatSSE("memory_replay", string(msg.Payload)))
	}
}

func (b *Broker) resubscribe(ctx context.Context) bus.Subscription {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(b.poll):
		}
		sub, err := b.bus.Subscribe(ctx, model.ChannelMemoryReplay)
		if err == nil {
			return sub
		}
		b.logger.Warn("broker: resubscribe failed", "error", err)
	}
}

// Latest returns the retained entries, newest first.
func (b *Broker) Latest() []model.ReplayEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := slices.Clone(b.latest)
	slices.Reverse(out)
	return out
}

// Subscribe returns a channel that receives SSE-formatted events.
// The caller must call Unsubscribe when done.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64) // Buffer to avoid blocking the broadcast loop.
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

func (b *Broker) record(e model.ReplayEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest = append(b.latest, e)
	if over := len(b.latest) - replayHistory; over > 0 {
		b.latest = slices.Delete(b.latest, 0, over)
	}
}

// broadcast sends an event to all subscribers. Slow subscribers that have
// a full buffer are skipped (their event is dropped) to prevent one slow
// client from blocking all others.
func (b *Broker) broadcast(event []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// formatSSE formats a notification as a Server-Sent Events message.
func formatSSE(eventType, data string) []byte {
	// SSE format: "event: <type>\ndata: <payload>\n\n"
	return []byte("event: " + eventType + "\ndata: " + data + "\n\n")
}
