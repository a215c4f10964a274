package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/genioCE/WellApp/internal/bus"
	"github.com/genioCE/WellApp/internal/model"
	"github.com/genioCE/WellApp/internal/pipeline"
	"github.com/genioCE/WellApp/internal/testutil"
)

var fastPoll = pipeline.TaskOptions{PollTimeout: 10 * time.Millisecond, ResubscribeDelay: 10 * time.Millisecond}

// startTasks starts one task per processor and returns a func that stops
// them all. Callers defer it after goleak so the tasks exit first.
func startTasks(t *testing.T, b bus.Bus, opts pipeline.TaskOptions, procs ...pipeline.Processor) func() {
	t.Helper()
	tasks := make([]*pipeline.Task, 0, len(procs))
	for _, p := range procs {
		task := pipeline.NewTask(p, b, testutil.TestLogger(), opts)
		require.NoError(t, task.Start(context.Background()))
		tasks = append(tasks, task)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, task := range tasks {
			assert.NoError(t, task.Stop(ctx))
		}
	}
}

func allEmbedded(s *memStore, n int) func() bool {
	return func() bool {
		entries := s.entries()
		if len(entries) != n {
			return false
		}
		for _, e := range entries {
			if e.LoopStage != model.LoopStageEmbedded {
				return false
			}
		}
		return true
	}
}

func TestTaskChainRunsToEmbedded(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	c := newChain(t, 100)
	b := bus.NewMemory()
	defer startTasks(t, b, fastPoll, c.ingestor, c.interp, c.reflector, c.truth, c.finalizer)()

	ev := c.save(t, "W-1", model.SourceSCADA, "scada.csv", spikeCSV)
	require.NoError(t, bus.PublishJSON(context.Background(), b, model.ChannelIngest, ev))

	require.Eventually(t, allEmbedded(c.store, 5), 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 5, c.index.Len())
}

func TestTaskDropsMalformedMessages(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	c := newChain(t, 100)
	b := bus.NewMemory()
	defer startTasks(t, b, fastPoll, c.ingestor, c.interp, c.reflector, c.truth, c.finalizer)()

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, model.ChannelIngest, []byte("not json")))
	require.NoError(t, bus.PublishJSON(ctx, b, model.ChannelIngest,
		model.StageEvent{Event: model.EventInterpretReady, WellID: "W-1", Source: model.SourceSCADA}))
	require.NoError(t, bus.PublishJSON(ctx, b, model.ChannelIngest,
		model.StageEvent{Event: model.EventScadaIngestReady, WellID: "W-1", Source: model.SourceSCADA}))

	// The task is still serving after the bad messages.
	ev := c.save(t, "W-1", model.SourceWellfile, "file.txt", "Permit approved.")
	require.NoError(t, bus.PublishJSON(ctx, b, model.ChannelIngest, ev))
	require.Eventually(t, allEmbedded(c.store, 1), 5*time.Second, 10*time.Millisecond)
}

func TestTaskAnnouncesNextStage(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	c := newChain(t, 100)
	b := bus.NewMemory()
	ctx := context.Background()

	next, err := b.Subscribe(ctx, model.ChannelInterpret)
	require.NoError(t, err)
	defer func() { _ = next.Close(ctx) }()
	defer startTasks(t, b, fastPoll, c.ingestor)()

	ev := c.save(t, "W-9", model.SourceSCADA, "scada.csv", spikeCSV)
	require.NoError(t, bus.PublishJSON(ctx, b, model.ChannelIngest, ev))

	msg, err := next.Poll(ctx, 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	got, err := bus.DecodeStageEvent(msg, model.EventInterpretReady)
	require.NoError(t, err)
	assert.Equal(t, model.StageEvent{Event: model.EventInterpretReady, WellID: "W-9", Source: model.SourceSCADA}, got)
}

func TestTaskContinuesFullBatches(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	c := newChain(t, 2)
	b := bus.NewMemory()
	ctx := context.Background()
	_, err := c.ingestor.Process(ctx, c.save(t, "W-1", model.SourceSCADA, "scada.csv", spikeCSV))
	require.NoError(t, err)

	// No sweeps: only the self-notification can carry the backlog.
	defer startTasks(t, b, fastPoll, c.interp, c.reflector, c.truth, c.finalizer)()
	require.NoError(t, bus.PublishJSON(ctx, b, model.ChannelInterpret,
		model.StageEvent{Event: model.EventInterpretReady, WellID: "W-1", Source: model.SourceSCADA}))

	require.Eventually(t, allEmbedded(c.store, 5), 5*time.Second, 10*time.Millisecond)
	entries := c.store.entries()
	assert.True(t, entries[4].AnomalyOrImportance)
	assert.False(t, entries[3].AnomalyOrImportance)
}

func TestTaskSweepRecoversLostNotifications(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	c := newChain(t, 100)
	b := bus.NewMemory()
	ctx := context.Background()
	_, err := c.ingestor.Process(ctx, c.save(t, "W-1", model.SourceSCADA, "scada.csv", spikeCSV))
	require.NoError(t, err)

	opts := fastPoll
	opts.SweepInterval = 20 * time.Millisecond
	defer startTasks(t, b, opts, c.interp, c.reflector, c.truth, c.finalizer)()

	require.Eventually(t, allEmbedded(c.store, 5), 5*time.Second, 10*time.Millisecond)
}

func TestTaskStartTwiceFails(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	c := newChain(t, 100)
	b := bus.NewMemory()
	task := pipeline.NewTask(c.interp, b, testutil.TestLogger(), fastPoll)

	require.NoError(t, task.Start(context.Background()))
	require.Error(t, task.Start(context.Background()))
	assert.Equal(t, 1, b.Subscribers(model.ChannelInterpret))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, task.Stop(ctx))
	<-task.Done()
	assert.Zero(t, b.Subscribers(model.ChannelInterpret))
}

func TestTaskStopsWhenParentContextEnds(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	c := newChain(t, 100)
	ctx, cancel := context.WithCancel(context.Background())
	task := pipeline.NewTask(c.interp, bus.NewMemory(), testutil.TestLogger(), fastPoll)
	require.NoError(t, task.Start(ctx))

	cancel()
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("task did not stop")
	}
}
