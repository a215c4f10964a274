package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/genioCE/WellApp/internal/bus"
	"github.com/genioCE/WellApp/internal/model"
	"github.com/genioCE/WellApp/internal/replay"
	"github.com/genioCE/WellApp/internal/search"
	"github.com/genioCE/WellApp/internal/service/embedding"
	"github.com/genioCE/WellApp/internal/storage"
	"github.com/genioCE/WellApp/internal/testutil"
)

// memoryLog is a fixed replay.TimelineStore.
type memoryLog struct {
	entries []model.MemoryEntry
}

func (m *memoryLog) Timeline(_ context.Context, f storage.TimelineFilter) ([]model.MemoryEntry, error) {
	var out []model.MemoryEntry
	for _, e := range m.entries {
		if e.WellID != f.WellID || (f.Source != "" && e.Source != f.Source) || (f.Stage != "" && e.LoopStage != f.Stage) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func page(well string, n int, text string, flagged bool) model.MemoryEntry {
	return model.MemoryEntry{
		ID:                  int64(n),
		WellID:              well,
		Source:              model.SourceWellfile,
		Text:                text,
		TimestampOrPage:     fmt.Sprint(n),
		SortKey:             int64(n),
		AnomalyOrImportance: flagged,
		LoopStage:           model.LoopStageEmbedded,
		AnchorStatus:        model.AnchorValid,
		VectorID:            uuid.New(),
	}
}

// newTestServer builds a Server over an in-memory log, index, and bus.
func newTestServer(t *testing.T, entries ...model.MemoryEntry) (*Server, *bus.Memory) {
	t.Helper()
	ctx := context.Background()
	embedder := embedding.NewHashProvider(256)
	index := search.NewMemory()
	for _, e := range entries {
		v, err := embedder.Embed(ctx, e.Text)
		require.NoError(t, err)
		require.NoError(t, index.Upsert(ctx, []search.Point{search.PointFromEntry(e, v.Slice())}))
	}
	b := bus.NewMemory()
	svc := replay.NewService(&memoryLog{entries: entries}, embedder, index)
	return New(svc, b, testutil.TestLogger(), "test"), b
}

func callTool(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	}
}

// decodeResult unmarshals the single text content of a successful result.
func decodeResult(t *testing.T, res *mcplib.CallToolResult) map[string]any {
	t.Helper()
	require.NotNil(t, res)
	require.False(t, res.IsError, "tool returned error: %s", resultText(res))
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(res)), &out))
	return out
}

func resultText(res *mcplib.CallToolResult) string {
	if len(res.Content) == 0 {
		return ""
	}
	if tc, ok := res.Content[0].(mcplib.TextContent); ok {
		return tc.Text
	}
	return ""
}
