package storage_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genioCE/WellApp/internal/model"
	"github.com/genioCE/WellApp/internal/storage"
	"github.com/genioCE/WellApp/internal/testutil"
	"github.com/genioCE/WellApp/migrations"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		tc.Terminate()
		panic(err)
	}

	code := m.Run()

	testDB.Close(context.Background())
	tc.Terminate()
	os.Exit(code)
}

func scadaUnits(wellID string, pressures ...float64) []model.DataUnit {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	units := make([]model.DataUnit, len(pressures))
	for i, p := range pressures {
		units[i] = model.DataUnit{
			WellID:      wellID,
			Source:      model.SourceSCADA,
			Timestamp:   start.Add(time.Duration(i) * time.Hour),
			Pressure:    p,
			FlowRate:    12.5,
			Temperature: 80,
			Volume:      100,
			SourceFile:  "scada.csv",
		}
	}
	return units
}

func passThrough(_ context.Context, units []model.DataUnit) ([]model.InterpretedUnit, error) {
	out := make([]model.InterpretedUnit, len(units))
	for i, u := range units {
		u.Text = "reading"
		out[i] = model.InterpretedUnit{DataUnit: u, NounPhrases: []string{"reading"}}
	}
	return out, nil
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	require.NoError(t, testDB.RunMigrations(context.Background(), migrations.FS))
}

func TestInsertSnapshotsSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	units := scadaUnits("W-dup", 100, 101, 102)

	n, err := testDB.InsertSnapshots(ctx, units)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = testDB.InsertSnapshots(ctx, units)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestInterpretBatchIsGuardedByFlag(t *testing.T) {
	ctx := context.Background()
	_, err := testDB.InsertSnapshots(ctx, scadaUnits("W-flag", 100, 101))
	require.NoError(t, err)

	sel := storage.Selection{Source: model.SourceSCADA, WellID: "W-flag", Limit: 10}
	got, err := testDB.InterpretBatch(ctx, sel, passThrough)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 100.0, got[0].Pressure)
	assert.True(t, got[0].Timestamp.Before(got[1].Timestamp))

	// A second pass finds nothing: the flag is set.
	again, err := testDB.InterpretBatch(ctx, sel, passThrough)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestInterpretBatchRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	_, err := testDB.InsertSnapshots(ctx, scadaUnits("W-rollback", 100))
	require.NoError(t, err)

	sel := storage.Selection{Source: model.SourceSCADA, WellID: "W-rollback", Limit: 10}
	boom := errors.New("phrase extractor down")
	_, err = testDB.InterpretBatch(ctx, sel, func(context.Context, []model.DataUnit) ([]model.InterpretedUnit, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	// The row is still eligible.
	got, err := testDB.InterpretBatch(ctx, sel, passThrough)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSelectionFiltersByWell(t *testing.T) {
	ctx := context.Background()
	_, err := testDB.InsertSnapshots(ctx, scadaUnits("W-a", 1))
	require.NoError(t, err)
	_, err = testDB.InsertSnapshots(ctx, scadaUnits("W-b", 2))
	require.NoError(t, err)

	got, err := testDB.InterpretBatch(ctx, storage.Selection{Source: model.SourceSCADA, WellID: "W-a", Limit: 10}, passThrough)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "W-a", got[0].WellID)
}

func TestWellfileThroughFinalize(t *testing.T) {
	ctx := context.Background()
	well := "W-wellfile"
	_, err := testDB.InsertSnapshots(ctx, []model.DataUnit{
		{WellID: well, Source: model.SourceWellfile, Page: 2, Text: "Inspection passed.", SourceFile: "file.txt"},
		{WellID: well, Source: model.SourceWellfile, Page: 1, Text: "Lease signed.", SourceFile: "file.txt"},
	})
	require.NoError(t, err)

	sel := storage.Selection{Source: model.SourceWellfile, WellID: well, Limit: 10}
	interpreted, err := testDB.InterpretBatch(ctx, sel, func(_ context.Context, units []model.DataUnit) ([]model.InterpretedUnit, error) {
		out := make([]model.InterpretedUnit, len(units))
		for i, u := range units {
			out[i] = model.InterpretedUnit{DataUnit: u}
		}
		return out, nil
	})
	require.NoError(t, err)
	require.Len(t, interpreted, 2)
	assert.Equal(t, 1, interpreted[0].Page)

	reflected, err := testDB.ReflectBatch(ctx, sel, func(_ context.Context, units []model.InterpretedUnit) ([]model.ReflectedUnit, error) {
		out := make([]model.ReflectedUnit, len(units))
		for i, u := range units {
			out[i] = model.ReflectedUnit{InterpretedUnit: u, Flagged: u.Page == 1}
		}
		return out, nil
	})
	require.NoError(t, err)
	require.Len(t, reflected, 2)

	entries, err := testDB.TruthBatch(ctx, sel, func(_ context.Context, units []model.ReflectedUnit) ([]storage.TruthRecord, error) {
		out := make([]storage.TruthRecord, len(units))
		for i, u := range units {
			out[i] = storage.TruthRecord{
				Unit:         u,
				VectorID:     uuid.New(),
				Embedding:    pgvector.NewVector([]float32{0.1, 0.2, 0.3}),
				AnchorStatus: model.AnchorValid,
			}
		}
		return out, nil
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, model.LoopStageTruth, entries[0].LoopStage)

	timeline, err := testDB.Timeline(ctx, storage.TimelineFilter{WellID: well})
	require.NoError(t, err)
	require.Len(t, timeline, 2)
	assert.Equal(t, "1", timeline[0].TimestampOrPage)
	assert.True(t, timeline[0].AnomalyOrImportance)
	assert.Equal(t, "2", timeline[1].TimestampOrPage)

	var promoted []uuid.UUID
	final, err := testDB.FinalizeBatch(ctx, well, 10, func(_ context.Context, entries []model.MemoryEntry) error {
		for _, e := range entries {
			promoted = append(promoted, e.VectorID)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, final, 2)
	assert.Len(t, promoted, 2)

	embedded, err := testDB.Timeline(ctx, storage.TimelineFilter{WellID: well, Stage: model.LoopStageEmbedded})
	require.NoError(t, err)
	assert.Len(t, embedded, 2)
}

func TestFinalizeBatchFailureKeepsTruth(t *testing.T) {
	ctx := context.Background()
	well := "W-finalize-fail"
	_, err := testDB.InsertSnapshots(ctx, scadaUnits(well, 10))
	require.NoError(t, err)
	sel := storage.Selection{Source: model.SourceSCADA, WellID: well, Limit: 10}
	_, err = testDB.InterpretBatch(ctx, sel, passThrough)
	require.NoError(t, err)
	_, err = testDB.ReflectBatch(ctx, sel, func(_ context.Context, units []model.InterpretedUnit) ([]model.ReflectedUnit, error) {
		return []model.ReflectedUnit{{InterpretedUnit: units[0]}}, nil
	})
	require.NoError(t, err)
	_, err = testDB.TruthBatch(ctx, sel, func(_ context.Context, units []model.ReflectedUnit) ([]storage.TruthRecord, error) {
		return []storage.TruthRecord{{Unit: units[0], VectorID: uuid.New(), AnchorStatus: model.AnchorRejected}}, nil
	})
	require.NoError(t, err)

	_, err = testDB.FinalizeBatch(ctx, well, 10, func(context.Context, []model.MemoryEntry) error {
		return errors.New("vector store unavailable")
	})
	require.Error(t, err)

	truth, err := testDB.Timeline(ctx, storage.TimelineFilter{WellID: well, Stage: model.LoopStageTruth})
	require.NoError(t, err)
	require.Len(t, truth, 1)
	assert.Equal(t, model.AnchorRejected, truth[0].AnchorStatus)
}

func TestScadaHistoryOldestFirst(t *testing.T) {
	ctx := context.Background()
	well := "W-history"
	units := scadaUnits(well, 10, 11, 12, 13)
	_, err := testDB.InsertSnapshots(ctx, units)
	require.NoError(t, err)
	sel := storage.Selection{Source: model.SourceSCADA, WellID: well, Limit: 10}
	_, err = testDB.InterpretBatch(ctx, sel, passThrough)
	require.NoError(t, err)
	_, err = testDB.ReflectBatch(ctx, sel, func(_ context.Context, in []model.InterpretedUnit) ([]model.ReflectedUnit, error) {
		out := make([]model.ReflectedUnit, len(in))
		for i, u := range in {
			out[i] = model.ReflectedUnit{InterpretedUnit: u}
		}
		return out, nil
	})
	require.NoError(t, err)

	history, err := testDB.ScadaHistory(ctx, well, units[3].Timestamp, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 11.0, history[0].Pressure)
	assert.Equal(t, 12.0, history[1].Pressure)
}

func TestStageBacklog(t *testing.T) {
	backlog, err := testDB.StageBacklog(context.Background())
	require.NoError(t, err)
	assert.Contains(t, backlog, "snapshot_scada")
	assert.Contains(t, backlog, "memory_log")
}

func TestListenAndNotify(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := testDB.Listen(ctx, "storage_test_channel")
	require.NoError(t, err)
	defer func() { _ = conn.Close(context.Background()) }()

	require.NoError(t, testDB.Notify(ctx, "storage_test_channel", `{"well_id":"W-1"}`))
	n, err := conn.WaitForNotification(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"well_id":"W-1"}`, n.Payload)

	err = testDB.Notify(ctx, "storage_test_channel", strings.Repeat("x", storage.MaxNotifyPayload+1))
	assert.ErrorIs(t, err, storage.ErrPayloadTooLarge)
}

func TestWithRetryRetriesSerializationFailures(t *testing.T) {
	calls := 0
	err := storage.WithRetry(context.Background(), 2, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = storage.WithRetry(context.Background(), 2, time.Millisecond, func() error {
		calls++
		return errors.New("not transient")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

// advanceToTruth pushes every pending unit of sel through to the memory log.
func advanceToTruth(t *testing.T, sel storage.Selection) {
	t.Helper()
	ctx := context.Background()
	_, err := testDB.InterpretBatch(ctx, sel, passThrough)
	require.NoError(t, err)
	_, err = testDB.ReflectBatch(ctx, sel, func(_ context.Context, units []model.InterpretedUnit) ([]model.ReflectedUnit, error) {
		out := make([]model.ReflectedUnit, len(units))
		for i, u := range units {
			out[i] = model.ReflectedUnit{InterpretedUnit: u}
		}
		return out, nil
	})
	require.NoError(t, err)
	_, err = testDB.TruthBatch(ctx, sel, func(_ context.Context, units []model.ReflectedUnit) ([]storage.TruthRecord, error) {
		out := make([]storage.TruthRecord, len(units))
		for i, u := range units {
			out[i] = storage.TruthRecord{
				Unit:         u,
				VectorID:     uuid.New(),
				Embedding:    pgvector.NewVector([]float32{0.1, 0.2, 0.3}),
				AnchorStatus: model.AnchorValid,
			}
		}
		return out, nil
	})
	require.NoError(t, err)
}

func TestTimelineGroupsSourcesBeforeSortKey(t *testing.T) {
	ctx := context.Background()
	well := "W-mixed"
	units := scadaUnits(well, 10, 11)
	units = append(units,
		model.DataUnit{WellID: well, Source: model.SourceWellfile, Page: 2, Text: "Permit renewed.", SourceFile: "f.txt"},
		model.DataUnit{WellID: well, Source: model.SourceWellfile, Page: 1, Text: "Lease signed.", SourceFile: "f.txt"},
	)
	_, err := testDB.InsertSnapshots(ctx, units)
	require.NoError(t, err)

	// Wellfile first, so insertion order cannot explain the result.
	advanceToTruth(t, storage.Selection{Source: model.SourceWellfile, WellID: well, Limit: 10})
	advanceToTruth(t, storage.Selection{Source: model.SourceSCADA, WellID: well, Limit: 10})

	timeline, err := testDB.Timeline(ctx, storage.TimelineFilter{WellID: well})
	require.NoError(t, err)
	require.Len(t, timeline, 4)

	got := make([]model.Source, len(timeline))
	for i, e := range timeline {
		got[i] = e.Source
	}
	assert.Equal(t, []model.Source{model.SourceSCADA, model.SourceSCADA, model.SourceWellfile, model.SourceWellfile}, got)
	assert.Less(t, timeline[0].SortKey, timeline[1].SortKey)
	assert.Equal(t, "1", timeline[2].TimestampOrPage)
	assert.Equal(t, "2", timeline[3].TimestampOrPage)
}
