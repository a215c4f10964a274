package bus

import (
	"context"
	"sync"
	"time"
)

// memoryBuffer bounds each in-memory subscription. A full subscriber drops
// new messages, matching the at-most-once contract of the Postgres bus.
const memoryBuffer = 256

// Memory is an in-process Bus. It is used in tests and by single-binary
// tooling that does not need cross-process delivery.
type Memory struct {
	mu   sync.RWMutex
	subs map[string]map[*memorySubscription]struct{}
}

// NewMemory returns an empty in-memory bus.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[*memorySubscription]struct{})}
}

// Publish delivers payload to every current subscriber of channel.
func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	if err := checkSize(channel, payload); err != nil {
		return err
	}
	msg := &Message{Channel: channel, Payload: append([]byte(nil), payload...)}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for sub := range m.subs[channel] {
		select {
		case sub.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe registers a new subscription on channel.
func (m *Memory) Subscribe(_ context.Context, channel string) (Subscription, error) {
	sub := &memorySubscription{
		bus:     m,
		channel: channel,
		ch:      make(chan *Message, memoryBuffer),
		done:    make(chan struct{}),
	}
	m.mu.Lock()
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[*memorySubscription]struct{})
	}
	m.subs[channel][sub] = struct{}{}
	m.mu.Unlock()
	return sub, nil
}

// Subscribers reports how many subscriptions are open on channel.
func (m *Memory) Subscribers(channel string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[channel])
}

type memorySubscription struct {
	bus     *Memory
	channel string
	ch      chan *Message
	done    chan struct{}
	once    sync.Once
}

func (s *memorySubscription) Poll(ctx context.Context, timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-s.ch:
		return msg, nil
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	}
}

func (s *memorySubscription) Close(context.Context) error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs[s.channel], s)
		s.bus.mu.Unlock()
		close(s.done)
	})
	return nil
}
