package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/genioCE/WellApp/internal/bus"
	"github.com/genioCE/WellApp/internal/model"
	"github.com/genioCE/WellApp/internal/telemetry"
)

var tracer = telemetry.Tracer("wellapp/pipeline")

// TaskOptions tune a Task's loop.
type TaskOptions struct {
	PollTimeout      time.Duration // bound on each bus poll; also the shutdown check interval
	SweepInterval    time.Duration // 0 disables sweeps
	ResubscribeDelay time.Duration // wait between failed subscribe attempts
}

func (o TaskOptions) withDefaults() TaskOptions {
	if o.PollTimeout <= 0 {
		o.PollTimeout = time.Second
	}
	if o.ResubscribeDelay <= 0 {
		o.ResubscribeDelay = time.Second
	}
	return o
}

// Task drives one Processor: it polls the processor's channel, runs a batch
// per notification, publishes next-stage notifications, and sweeps on a
// timer. A batch in flight when Stop is called runs to completion.
type Task struct {
	proc    Processor
	stage   Stage
	bus     bus.Bus
	logger  *slog.Logger
	opts    TaskOptions
	metrics *stageMetrics

	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewTask wires a processor to a bus.
func NewTask(proc Processor, b bus.Bus, logger *slog.Logger, opts TaskOptions) *Task {
	stage := proc.Stage()
	return &Task{
		proc:    proc,
		stage:   stage,
		bus:     b,
		logger:  logger.With("stage", stage.Name),
		opts:    opts.withDefaults(),
		metrics: newStageMetrics(),
		done:    make(chan struct{}),
	}
}

// Start subscribes to the processor's channel and starts the loop. The
// subscription is open when Start returns, so notifications published
// afterwards are seen. A Task can be started once.
func (t *Task) Start(ctx context.Context) error {
	if !t.started.CompareAndSwap(false, true) {
		return fmt.Errorf("pipeline: %s task already started", t.stage.Name)
	}
	sub, err := t.bus.Subscribe(ctx, t.stage.Listen)
	if err != nil {
		t.started.Store(false)
		return fmt.Errorf("pipeline: subscribe %s: %w", t.stage.Listen, err)
	}
	loopCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	go t.loop(loopCtx, sub)
	t.logger.Info("pipeline: task started", "channel", t.stage.Listen)
	return nil
}

// Stop signals the loop to exit and waits for it, bounded by ctx.
func (t *Task) Stop(ctx context.Context) error {
	if !t.started.Load() {
		return nil
	}
	t.cancel()
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipeline: stop %s: %w", t.stage.Name, ctx.Err())
	}
}

// Done is closed when the loop has exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) loop(ctx context.Context, sub bus.Subscription) {
	defer close(t.done)
	defer func() {
		if sub != nil {
			_ = sub.Close(context.Background())
		}
		t.logger.Info("pipeline: task stopped")
	}()

	nextSweep := t.scheduleSweep(time.Now())
	for ctx.Err() == nil {
		msg, err := sub.Poll(ctx, t.opts.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.Warn("pipeline: poll failed, resubscribing", "channel", t.stage.Listen, "error", err)
			_ = sub.Close(ctx)
			if sub = t.resubscribe(ctx); sub == nil {
				return
			}
			continue
		}

		// Batches run to completion even if shutdown begins meanwhile.
		work := context.WithoutCancel(ctx)
		if msg != nil {
			t.handle(work, msg)
		}
		if !nextSweep.IsZero() && !time.Now().Before(nextSweep) {
			out := t.sweep(work)
			nextSweep = t.scheduleSweep(time.Now())
			if out.Full {
				// Backlog remains; sweep again right after the next poll.
				nextSweep = time.Now()
			}
		}
	}
}

func (t *Task) scheduleSweep(now time.Time) time.Time {
	if t.opts.SweepInterval <= 0 {
		return time.Time{}
	}
	return now.Add(t.opts.SweepInterval)
}

func (t *Task) resubscribe(ctx context.Context) bus.Subscription {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(t.opts.ResubscribeDelay):
		}
		sub, err := t.bus.Subscribe(ctx, t.stage.Listen)
		if err == nil {
			t.logger.Info("pipeline: resubscribed", "channel", t.stage.Listen)
			return sub
		}
		t.logger.Warn("pipeline: resubscribe failed", "channel", t.stage.Listen, "error", err)
	}
}

func (t *Task) handle(ctx context.Context, msg *bus.Message) {
	ev, err := bus.DecodeStageEvent(msg, t.stage.Accepts...)
	if err != nil {
		t.metrics.malformed(ctx, t.stage.Name)
		t.logger.Warn("pipeline: dropping malformed message", "channel", msg.Channel, "error", err)
		return
	}

	ctx, span := tracer.Start(ctx, "pipeline."+t.stage.Name, trace.WithAttributes(
		attribute.String("well_id", ev.WellID),
		attribute.String("source", string(ev.Source)),
	))
	defer span.End()

	start := time.Now()
	out, err := t.proc.Process(ctx, ev)
	t.metrics.batch(ctx, t.stage.Name, out.Rows, time.Since(start), err)
	span.SetAttributes(attribute.Int("rows", out.Rows))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		t.logger.Error("pipeline: batch failed",
			"well_id", ev.WellID, "source", ev.Source, "error", err)
		return
	}
	if out.Rows > 0 {
		t.logger.Debug("pipeline: batch committed",
			"well_id", ev.WellID, "source", ev.Source, "count", out.Rows)
	}
	t.announce(ctx, out)

	if out.Full {
		// Re-notify ourselves so the rest of this chain's backlog follows.
		if err := bus.PublishJSON(ctx, t.bus, t.stage.Listen, ev); err != nil {
			t.logger.Warn("pipeline: continuation publish failed", "well_id", ev.WellID, "error", err)
		}
	}
}

func (t *Task) sweep(ctx context.Context) Outcome {
	start := time.Now()
	out, err := t.proc.Sweep(ctx)
	if out.Rows == 0 && err == nil {
		return out
	}
	t.metrics.batch(ctx, t.stage.Name, out.Rows, time.Since(start), err)
	if err != nil {
		t.logger.Error("pipeline: sweep failed", "error", err)
	} else {
		t.logger.Info("pipeline: sweep advanced rows", "count", out.Rows)
	}
	t.announce(ctx, out)
	return out
}

func (t *Task) announce(ctx context.Context, out Outcome) {
	if t.stage.Emit == "" {
		return
	}
	for _, k := range out.Touched {
		ev := model.StageEvent{Event: t.stage.NextEvent, WellID: k.WellID, Source: k.Source}
		if err := bus.PublishJSON(ctx, t.bus, t.stage.Emit, ev); err != nil {
			// The rows are committed; the next stage's sweep picks them up.
			t.logger.Warn("pipeline: publish failed",
				"channel", t.stage.Emit, "well_id", k.WellID, "source", k.Source, "error", err)
		}
	}
}
