package replay_test

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/genioCE/WellApp/internal/bus"
	"github.com/genioCE/WellApp/internal/model"
	"github.com/genioCE/WellApp/internal/replay"
	"github.com/genioCE/WellApp/internal/search"
	"github.com/genioCE/WellApp/internal/service/embedding"
	"github.com/genioCE/WellApp/internal/storage"
	"github.com/genioCE/WellApp/internal/testutil"
)

const dims = 256

type fakeTimeline struct {
	entries []model.MemoryEntry
	last    storage.TimelineFilter
}

func (f *fakeTimeline) Timeline(_ context.Context, filter storage.TimelineFilter) ([]model.MemoryEntry, error) {
	f.last = filter
	var out []model.MemoryEntry
	for _, e := range f.entries {
		if e.WellID == filter.WellID && (filter.Source == "" || e.Source == filter.Source) {
			out = append(out, e)
		}
	}
	return out, nil
}

func entry(well string, page int, text string) model.MemoryEntry {
	return model.MemoryEntry{
		ID:              int64(page),
		WellID:          well,
		Source:          model.SourceWellfile,
		Text:            text,
		TimestampOrPage: string(rune('0' + page)),
		LoopStage:       model.LoopStageEmbedded,
		VectorID:        uuid.New(),
	}
}

func newService(t *testing.T, entries ...model.MemoryEntry) (*replay.Service, *fakeTimeline) {
	t.Helper()
	store := &fakeTimeline{entries: entries}
	embedder := embedding.NewHashProvider(dims)
	index := search.NewMemory()
	for _, e := range entries {
		v, err := embedder.Embed(context.Background(), e.Text)
		require.NoError(t, err)
		require.NoError(t, index.Upsert(context.Background(), []search.Point{search.PointFromEntry(e, v.Slice())}))
	}
	return replay.NewService(store, embedder, index), store
}

func TestTimelineReadsFinalizedEntries(t *testing.T) {
	svc, store := newService(t, entry("W-1", 1, "Lease signed."), entry("W-2", 1, "Other well."))

	got, err := svc.Timeline(context.Background(), "W-1", "", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.LoopStageEmbedded, store.last.Stage)

	_, err = svc.Timeline(context.Background(), "", "", 0)
	assert.ErrorIs(t, err, replay.ErrInvalidQuery)
	_, err = svc.Timeline(context.Background(), "W-1", "seismic", 0)
	assert.ErrorIs(t, err, replay.ErrInvalidQuery)
}

func TestSearchRanksByMeaning(t *testing.T) {
	svc, _ := newService(t,
		entry("W-1", 1, "Drilling permit granted by the county."),
		entry("W-1", 2, "Routine maintenance on the pump jack."),
		entry("W-2", 1, "Drilling permit granted by the county."),
	)

	hits, err := svc.Search(context.Background(), replay.SearchQuery{Query: "drilling permit granted", WellID: "W-1"})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "Drilling permit granted by the county.", hits[0].Text)
	assert.Equal(t, "W-1", hits[0].WellID)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)

	hits, err = svc.Search(context.Background(), replay.SearchQuery{Query: "permit", WellID: "W-1", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestSearchRejectsBadQueries(t *testing.T) {
	svc, _ := newService(t)
	tests := []struct {
		name string
		q    replay.SearchQuery
	}{
		{"empty query", replay.SearchQuery{WellID: "W-1"}},
		{"missing well", replay.SearchQuery{Query: "x"}},
		{"bad stage", replay.SearchQuery{Query: "x", WellID: "W-1", Stage: "draft"}},
		{"bad source", replay.SearchQuery{Query: "x", WellID: "W-1", Source: "seismic"}},
		{"limit too high", replay.SearchQuery{Query: "x", WellID: "W-1", Limit: model.MaxSearchLimit + 1}},
		{"query too long", replay.SearchQuery{Query: strings.Repeat("q", model.MaxSearchQueryLen+1), WellID: "W-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Search(context.Background(), tt.q)
			assert.ErrorIs(t, err, replay.ErrInvalidQuery)
		})
	}
}

func TestEncodeEntryTruncatesToFit(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"ascii", strings.Repeat("x", 3*bus.MaxPayload)},
		{"escaped", strings.Repeat("<\"&", bus.MaxPayload)},
		{"multibyte", strings.Repeat("é漢", bus.MaxPayload)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := replay.EncodeEntry(model.ReplayEntry{WellID: "W-1", Text: tt.text})
			require.NoError(t, err)
			assert.LessOrEqual(t, len(payload), bus.MaxPayload)

			got, err := bus.DecodeReplayEntry(&bus.Message{Channel: model.ChannelMemoryReplay, Payload: payload})
			require.NoError(t, err)
			assert.True(t, got.Truncated)
			assert.True(t, utf8.ValidString(got.Text))
			assert.True(t, strings.HasPrefix(tt.text, got.Text))
		})
	}

	payload, err := replay.EncodeEntry(model.ReplayEntry{WellID: "W-1", Text: "short"})
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "truncated")
}

func TestReplayerEmitsInOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()
	svc, _ := newService(t, entry("W-1", 1, "one"), entry("W-1", 2, "two"), entry("W-1", 3, "three"))
	b := bus.NewMemory()

	out, err := b.Subscribe(ctx, model.ChannelMemoryReplay)
	require.NoError(t, err)
	defer func() { _ = out.Close(ctx) }()

	r := replay.NewReplayer(svc, b, testutil.TestLogger(), time.Millisecond, 10*time.Millisecond)
	require.NoError(t, r.Start(ctx))
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		require.NoError(t, r.Stop(stopCtx))
	}()

	require.NoError(t, b.Publish(ctx, model.ChannelReplay, []byte(`{"command":"rewind","well_id":"W-1"}`)))
	require.NoError(t, bus.PublishJSON(ctx, b, model.ChannelReplay, model.ReplayCommand{Command: model.ReplayCommandName, WellID: "W-1"}))

	var texts []string
	for range 3 {
		msg, err := out.Poll(ctx, 5*time.Second)
		require.NoError(t, err)
		require.NotNil(t, msg)
		e, err := bus.DecodeReplayEntry(msg)
		require.NoError(t, err)
		assert.Equal(t, model.LoopStageEmbedded, e.LoopStage)
		texts = append(texts, e.Text)
	}
	assert.Equal(t, []string{"one", "two", "three"}, texts)
}

func TestReplayStopsOnCancel(t *testing.T) {
	svc, _ := newService(t, entry("W-1", 1, "one"), entry("W-1", 2, "two"))
	r := replay.NewReplayer(svc, bus.NewMemory(), testutil.TestLogger(), time.Hour, 0)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	n, err := r.Replay(ctx, "W-1", "")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, n)
}
