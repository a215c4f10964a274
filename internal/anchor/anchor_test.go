package anchor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viterin/vek/vek32"

	"github.com/genioCE/WellApp/internal/model"
)

func TestAnchorBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		v       []float32
		status  model.AnchorStatus
		summary string
	}{
		{"inside", []float32{0.3, 0}, model.AnchorValid, "within threshold"},
		{"on threshold", []float32{0, 0.5}, model.AnchorValid, "within threshold"},
		{"between", []float32{0.6, 0.0}, model.AnchorAdjusted, "scaled to threshold"},
		{"on double threshold", []float32{-1, 0}, model.AnchorAdjusted, "scaled to threshold"},
		{"beyond", []float32{3, 4}, model.AnchorRejected, "exceeded threshold"},
		{"empty", nil, model.AnchorRejected, "empty embedding"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Anchor(tt.v, 0.5)
			assert.Equal(t, tt.status, got.Status)
			assert.Equal(t, tt.summary, got.Summary)
			assert.Len(t, got.Vector, len(tt.v))
		})
	}
}

func TestAnchorAdjustedHasThresholdNorm(t *testing.T) {
	v := []float32{0.45, 0.6}
	got := Anchor(v, 0.5)
	require.Equal(t, model.AnchorAdjusted, got.Status)

	assert.InDelta(t, 0.5, vek32.Norm(got.Vector), 1e-6)
	assert.InDelta(t, 0.3, got.Vector[0], 1e-6)
	assert.InDelta(t, 0.4, got.Vector[1], 1e-6)
	assert.InDelta(t, 0.75, got.Distance, 1e-6)
	// Direction preserved, input untouched.
	assert.Equal(t, []float32{0.45, 0.6}, v)
}

func TestAnchorValidAndRejectedAreUnchanged(t *testing.T) {
	valid := Anchor([]float32{0.1, 0.2}, 0.5)
	assert.Equal(t, []float32{0.1, 0.2}, valid.Vector)

	rejected := Anchor([]float32{3, 4}, 0.5)
	assert.Equal(t, []float32{3, 4}, rejected.Vector)
	assert.InDelta(t, 5.0, rejected.Distance, 1e-6)
}

func TestNewValidatorDefaults(t *testing.T) {
	assert.Equal(t, DefaultThreshold, NewValidator(0).Threshold())
	assert.Equal(t, DefaultThreshold, NewValidator(-1).Threshold())

	v := NewValidator(2)
	assert.Equal(t, float32(2), v.Threshold())
	assert.Equal(t, model.AnchorValid, v.Validate([]float32{1, 1}).Status)
}
