package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/genioCE/WellApp/internal/bus"
	"github.com/genioCE/WellApp/internal/model"
)

// testLogger returns a logger for tests that only prints errors.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestBrokerFanOut(t *testing.T) {
	broker := &Broker{
		subscribers: make(map[chan []byte]struct{}),
		logger:      testLogger(),
	}

	ch1 := broker.Subscribe()
	ch2 := broker.Subscribe()

	event := formatSSE("memory_replay", `{"well_id":"w-1"}`)
	broker.broadcast(event)

	for i, ch := range []chan []byte{ch1, ch2} {
		select {
		case got := <-ch:
			assert.Equal(t, string(event), string(got), "subscriber %d", i+1)
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timed out waiting for event", i+1)
		}
	}

	// Only ch2 hears events after ch1 leaves.
	broker.Unsubscribe(ch1)
	event2 := formatSSE("memory_replay", `{"well_id":"w-2"}`)
	broker.broadcast(event2)

	select {
	case got := <-ch2:
		assert.Equal(t, string(event2), string(got))
	case <-time.After(100 * time.Millisecond):
		t.Fatal("ch2: timed out waiting for event after ch1 unsubscribed")
	}

	broker.Unsubscribe(ch2)
}

func TestFormatSSE(t *testing.T) {
	got := string(formatSSE("memory_replay", `{"id":"123"}`))
	assert.Equal(t, "event: memory_replay\ndata: {\"id\":\"123\"}\n\n", got)
}

func TestBrokerSlowSubscriber(t *testing.T) {
	broker := &Broker{
		subscribers: make(map[chan []byte]struct{}),
		logger:      testLogger(),
	}

	slow := broker.Subscribe()
	fast := broker.Subscribe()

	for range 65 {
		broker.broadcast(formatSSE("test", "fill"))
	}
	broker.broadcast(formatSSE("test", "after-fill"))

	select {
	case <-fast:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("fast subscriber should receive events even when slow subscriber is blocked")
	}

	broker.Unsubscribe(slow)
	broker.Unsubscribe(fast)
}

func TestBrokerKeepsLatestNewestFirst(t *testing.T) {
	broker := NewBroker(bus.NewMemory(), testLogger())
	for i := range replayHistory + 5 {
		broker.record(model.ReplayEntry{WellID: "w-1", TimestampOrPage: fmt.Sprint(i)})
	}

	latest := broker.Latest()
	require.Len(t, latest, replayHistory)
	assert.Equal(t, fmt.Sprint(replayHistory+4), latest[0].TimestampOrPage)
	assert.Equal(t, "5", latest[len(latest)-1].TimestampOrPage)
}

func TestBrokerRelaysBusEntries(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := bus.NewMemory()
	broker := NewBroker(b, testLogger())
	broker.poll = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		broker.Start(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool {
		return b.Subscribers(model.ChannelMemoryReplay) == 1
	}, time.Second, 5*time.Millisecond)

	ch := broker.Subscribe()
	defer broker.Unsubscribe(ch)

	require.NoError(t, b.Publish(ctx, model.ChannelMemoryReplay, []byte(`{"oops":`)))
	require.NoError(t, bus.PublishJSON(ctx, b, model.ChannelMemoryReplay, model.ReplayEntry{
		WellID: "w-1", Source: model.SourceSCADA, Text: "pressure 50", TimestampOrPage: "2024-01-01T04:00:00Z",
		LoopStage: model.LoopStageEmbedded,
	}))

	select {
	case got := <-ch:
		assert.Contains(t, string(got), "event: memory_replay\n")
		assert.Contains(t, string(got), `"pressure 50"`)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for relayed entry")
	}

	latest := broker.Latest()
	require.Len(t, latest, 1)
	assert.Equal(t, "w-1", latest[0].WellID)
}

// flakySubscriber fails the first n Subscribe calls.
type flakySubscriber struct {
	*bus.Memory
	mu       sync.Mutex
	failures int
}

func (f *flakySubscriber) Subscribe(ctx context.Context, channel string) (bus.Subscription, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, errors.New("listen connection refused")
	}
	f.mu.Unlock()
	return f.Memory.Subscribe(ctx, channel)
}

func TestBrokerRetriesInitialSubscribe(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := &flakySubscriber{Memory: bus.NewMemory(), failures: 2}
	broker := NewBroker(b, testLogger())
	broker.poll = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		broker.Start(ctx)
	}()

	require.Eventually(t, func() bool {
		return b.Subscribers(model.ChannelMemoryReplay) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
