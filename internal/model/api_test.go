package model_test

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genioCE/WellApp/internal/model"
)

// ptr is a convenience helper for pointer literals in test cases.
func ptr[T any](v T) *T { return &v }

// ---- PruneRequest ---------------------------------------------------------

func TestPruneRequest_HappyPath(t *testing.T) {
	r := model.PruneRequest{UUID: "u1", Embedding: []float32{0.1, -0.5, 0.9}, Threshold: ptr(float32(0.2)), ReduceDim: ptr(2)}
	assert.NoError(t, r.Validate())
}

func TestPruneRequest_Rejections(t *testing.T) {
	tests := []struct {
		name string
		req  model.PruneRequest
		want string
	}{
		{"empty embedding", model.PruneRequest{}, "must not be empty"},
		{"nan component", model.PruneRequest{Embedding: []float32{1, float32(math.NaN())}}, "embedding[1]"},
		{"inf component", model.PruneRequest{Embedding: []float32{float32(math.Inf(1))}}, "embedding[0]"},
		{"negative threshold", model.PruneRequest{Embedding: []float32{1}, Threshold: ptr(float32(-1))}, "threshold"},
		{"zero reduce_dim", model.PruneRequest{Embedding: []float32{1}, ReduceDim: ptr(0)}, "reduce_dim"},
		{"oversized", model.PruneRequest{Embedding: make([]float32, model.MaxEmbeddingLen+1)}, "maximum length"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

// ---- AnchorRequest --------------------------------------------------------

func TestAnchorRequest_EmptyIsValidInput(t *testing.T) {
	assert.NoError(t, model.AnchorRequest{UUID: "u"}.Validate())
}

func TestAnchorRequest_NaNRejected(t *testing.T) {
	err := model.AnchorRequest{PrunedEmbedding: []float32{float32(math.NaN())}}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pruned_embedding[0]")
}

// ---- ValidateWellID -------------------------------------------------------

func TestValidateWellID(t *testing.T) {
	assert.NoError(t, model.ValidateWellID("W-1001"))
	assert.Error(t, model.ValidateWellID(""))
	assert.Error(t, model.ValidateWellID("   "))
	assert.Error(t, model.ValidateWellID("../etc"))
	assert.Error(t, model.ValidateWellID(strings.Repeat("w", model.MaxWellIDLen+1)))
}

// ---- InterpretRequest -----------------------------------------------------

func TestInterpretRequest_Validate(t *testing.T) {
	assert.NoError(t, model.InterpretRequest{Text: "Pressure was 88 psi at noon."}.Validate())
	assert.Error(t, model.InterpretRequest{Text: " \n"}.Validate())
	assert.Error(t, model.InterpretRequest{Text: strings.Repeat("a", model.MaxInterpretText+1)}.Validate())
}

// ---- DataUnit -------------------------------------------------------------

func TestDataUnit_OrderingKeys(t *testing.T) {
	ts := time.Date(2024, 1, 2, 15, 4, 0, 0, time.UTC)
	scada := model.DataUnit{Source: model.SourceSCADA, Timestamp: ts}
	assert.Equal(t, "2024-01-02T15:04:00Z", scada.TimestampOrPage())
	assert.Equal(t, ts.Unix(), scada.SortKey())

	page := model.DataUnit{Source: model.SourceWellfile, Page: 7}
	assert.Equal(t, "7", page.TimestampOrPage())
	assert.Equal(t, int64(7), page.SortKey())
}

func TestParseSource(t *testing.T) {
	src, err := model.ParseSource("scada")
	require.NoError(t, err)
	assert.Equal(t, model.SourceSCADA, src)

	_, err = model.ParseSource("telemetry")
	assert.Error(t, err)
}
