package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/genioCE/WellApp/internal/telemetry"
)

type stageMetrics struct {
	batches   metric.Int64Counter
	rows      metric.Int64Counter
	failures  metric.Int64Counter
	dropped   metric.Int64Counter
	durations metric.Float64Histogram
}

// newStageMetrics builds the counters shared by all tasks. Instrument
// creation only fails on invalid names, in which case the nil instrument is
// skipped.
func newStageMetrics() *stageMetrics {
	meter := telemetry.Meter("wellapp/pipeline")
	m := &stageMetrics{}
	m.batches, _ = meter.Int64Counter("wellapp.stage.batches",
		metric.WithDescription("Stage batches run, including empty ones"))
	m.rows, _ = meter.Int64Counter("wellapp.stage.rows",
		metric.WithDescription("Rows advanced past a stage"))
	m.failures, _ = meter.Int64Counter("wellapp.stage.failures",
		metric.WithDescription("Stage batches rolled back"))
	m.dropped, _ = meter.Int64Counter("wellapp.bus.malformed",
		metric.WithDescription("Notifications dropped as malformed"))
	m.durations, _ = meter.Float64Histogram("wellapp.stage.duration",
		metric.WithDescription("Stage batch duration"), metric.WithUnit("ms"))
	return m
}

func (m *stageMetrics) batch(ctx context.Context, stage string, rows int, d time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("stage", stage))
	if m.batches != nil {
		m.batches.Add(ctx, 1, attrs)
	}
	if m.durations != nil {
		m.durations.Record(ctx, float64(d.Milliseconds()), attrs)
	}
	if err != nil {
		if m.failures != nil {
			m.failures.Add(ctx, 1, attrs)
		}
		return
	}
	if m.rows != nil {
		m.rows.Add(ctx, int64(rows), attrs)
	}
}

func (m *stageMetrics) malformed(ctx context.Context, stage string) {
	if m.dropped != nil {
		m.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	}
}

// BacklogSource reports rows waiting on each stage.
type BacklogSource interface {
	StageBacklog(ctx context.Context) (map[string]int64, error)
}

// RegisterBacklogGauge exports pending row counts per stage table as an
// observable gauge. Rows that stay pending are the visible trace of
// background failures.
func RegisterBacklogGauge(src BacklogSource) error {
	meter := telemetry.Meter("wellapp/pipeline")
	_, err := meter.Int64ObservableGauge("wellapp.stage.backlog",
		metric.WithDescription("Rows waiting on the next stage, by table"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			backlog, err := src.StageBacklog(ctx)
			if err != nil {
				return nil // Non-fatal: just skip this observation.
			}
			for table, n := range backlog {
				o.Observe(n, metric.WithAttributes(attribute.String("table", table)))
			}
			return nil
		}),
	)
	return err
}
