// Package anchor validates embeddings against a distance budget around the
// origin, scaling vectors that drift moderately and flagging those that drift
// too far.
package anchor

import (
	"github.com/viterin/vek/vek32"

	"github.com/genioCE/WellApp/internal/model"
)

// DefaultThreshold is the anchoring distance used when none is configured.
const DefaultThreshold float32 = 0.5

const (
	summaryEmpty    = "empty embedding"
	summaryWithin   = "within threshold"
	summaryScaled   = "scaled to threshold"
	summaryExceeded = "exceeded threshold"
)

// Anchor classifies v by its Euclidean norm d against threshold t:
//
//	d <= t        valid, unchanged
//	t < d <= 2t   adjusted, scaled so that its norm equals t
//	d > 2t        rejected, unchanged
//
// An empty vector is rejected. The input slice is never modified.
func Anchor(v []float32, threshold float32) model.AnchorResult {
	if len(v) == 0 {
		return model.AnchorResult{Vector: []float32{}, Status: model.AnchorRejected, Summary: summaryEmpty}
	}

	d := vek32.Norm(v)
	switch {
	case d <= threshold:
		return model.AnchorResult{Vector: clone(v), Status: model.AnchorValid, Summary: summaryWithin, Distance: d}
	case d <= 2*threshold:
		return model.AnchorResult{
			Vector:   vek32.MulNumber(v, threshold/d),
			Status:   model.AnchorAdjusted,
			Summary:  summaryScaled,
			Distance: d,
		}
	default:
		return model.AnchorResult{Vector: clone(v), Status: model.AnchorRejected, Summary: summaryExceeded, Distance: d}
	}
}

// Validator applies Anchor with a fixed threshold.
type Validator struct {
	threshold float32
}

// NewValidator returns a validator for threshold. Non-positive values fall back
// to DefaultThreshold.
func NewValidator(threshold float32) *Validator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Validator{threshold: threshold}
}

// Threshold returns the configured anchoring distance.
func (a *Validator) Threshold() float32 { return a.threshold }

// Validate anchors v.
func (a *Validator) Validate(v []float32) model.AnchorResult {
	return Anchor(v, a.threshold)
}

func clone(v []float32) []float32 {
	return append([]float32(nil), v...)
}
