package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/genioCE/WellApp/internal/bus"
	"github.com/genioCE/WellApp/internal/model"
	"github.com/genioCE/WellApp/internal/telemetry"
)

// Replayer serves replay commands: for each command it re-emits the well's
// finalized entries in timeline order on the memory replay channel, one per
// interval. Commands are served one at a time; Stop interrupts a replay in
// progress.
type Replayer struct {
	svc      *Service
	bus      bus.Bus
	logger   *slog.Logger
	interval time.Duration
	poll     time.Duration

	emitted metric.Int64Counter

	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewReplayer creates a replayer. A non-positive interval emits without
// pausing.
func NewReplayer(svc *Service, b bus.Bus, logger *slog.Logger, interval, pollTimeout time.Duration) *Replayer {
	if pollTimeout <= 0 {
		pollTimeout = time.Second
	}
	emitted, _ := telemetry.Meter("wellapp/replay").Int64Counter("wellapp.replay.entries",
		metric.WithDescription("Memory entries re-broadcast by the replayer"))
	return &Replayer{
		svc:      svc,
		bus:      b,
		logger:   logger.With("stage", "replay"),
		interval: interval,
		poll:     pollTimeout,
		emitted:  emitted,
		done:     make(chan struct{}),
	}
}

// Start subscribes to the replay command channel and starts serving.
func (r *Replayer) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return fmt.Errorf("replay: already started")
	}
	sub, err := r.bus.Subscribe(ctx, model.ChannelReplay)
	if err != nil {
		r.started.Store(false)
		return fmt.Errorf("replay: subscribe %s: %w", model.ChannelReplay, err)
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	go r.loop(loopCtx, sub)
	r.logger.Info("replay: listening", "channel", model.ChannelReplay)
	return nil
}

// Stop ends the loop and waits for it, bounded by ctx.
func (r *Replayer) Stop(ctx context.Context) error {
	if !r.started.Load() {
		return nil
	}
	r.cancel()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("replay: stop: %w", ctx.Err())
	}
}

// Done is closed when the loop has exited.
func (r *Replayer) Done() <-chan struct{} {
	return r.done
}

func (r *Replayer) loop(ctx context.Context, sub bus.Subscription) {
	defer close(r.done)
	defer func() {
		if sub != nil {
			_ = sub.Close(context.Background())
		}
	}()

	for ctx.Err() == nil {
		msg, err := sub.Poll(ctx, r.poll)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("replay: poll failed, resubscribing", "error", err)
			_ = sub.Close(ctx)
			if sub = r.resubscribe(ctx); sub == nil {
				return
			}
			continue
		}
		if msg == nil {
			continue
		}

		cmd, err := bus.DecodeReplayCommand(msg)
		if err != nil {
			r.logger.Warn("replay: dropping malformed command", "error", err)
			continue
		}
		n, err := r.Replay(ctx, cmd.WellID, cmd.Source)
		if err != nil && ctx.Err() == nil {
			r.logger.Error("replay: failed", "well_id", cmd.WellID, "sent", n, "error", err)
			continue
		}
		r.logger.Info("replay: finished", "well_id", cmd.WellID, "count", n)
	}
}

func (r *Replayer) resubscribe(ctx context.Context) bus.Subscription {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.poll):
		}
		sub, err := r.bus.Subscribe(ctx, model.ChannelReplay)
		if err == nil {
			return sub
		}
		r.logger.Warn("replay: resubscribe failed", "error", err)
	}
}

// Replay emits the finalized entries of wellID and returns how many were
// published.
func (r *Replayer) Replay(ctx context.Context, wellID string, src model.Source) (int, error) {
	entries, err := r.svc.Timeline(ctx, wellID, src, 0)
	if err != nil {
		return 0, err
	}

	var ticker *time.Ticker
	if r.interval > 0 {
		ticker = time.NewTicker(r.interval)
		defer ticker.Stop()
	}
	attrs := metric.WithAttributes(attribute.String("well_id", wellID))
	for i, e := range entries {
		if i > 0 && ticker != nil {
			select {
			case <-ctx.Done():
				return i, ctx.Err()
			case <-ticker.C:
			}
		}
		payload, err := EncodeEntry(ToEntry(e))
		if err != nil {
			return i, err
		}
		if err := r.bus.Publish(ctx, model.ChannelMemoryReplay, payload); err != nil {
			return i, fmt.Errorf("replay: publish entry %d: %w", e.ID, err)
		}
		if r.emitted != nil {
			r.emitted.Add(ctx, 1, attrs)
		}
	}
	return len(entries), nil
}

// ToEntry converts a memory log row to its broadcast form.
func ToEntry(e model.MemoryEntry) model.ReplayEntry {
	return model.ReplayEntry{
		WellID:              e.WellID,
		Source:              e.Source,
		Text:                e.Text,
		TimestampOrPage:     e.TimestampOrPage,
		AnomalyOrImportance: e.AnomalyOrImportance,
		LoopStage:           e.LoopStage,
		VectorID:            e.VectorID.String(),
	}
}

// EncodeEntry marshals an entry, shortening its text until the payload fits
// the bus bound. Shortened entries are marked Truncated.
func EncodeEntry(entry model.ReplayEntry) ([]byte, error) {
	for {
		payload, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("replay: encode entry: %w", err)
		}
		over := len(payload) - bus.MaxPayload
		if over <= 0 {
			return payload, nil
		}
		if entry.Text == "" {
			return nil, fmt.Errorf("replay: entry for %s does not fit in %d bytes", entry.WellID, bus.MaxPayload)
		}
		// Escaping can make an encoded byte cost more than one source byte,
		// so this may take a few rounds.
		cut := max(len(entry.Text)-over, 0)
		for cut > 0 && !utf8.RuneStart(entry.Text[cut]) {
			cut--
		}
		entry.Text = entry.Text[:cut]
		entry.Truncated = true
	}
}
