// Package prune reduces embedding vectors by dropping low-magnitude components
// and, optionally, projecting what remains onto fewer dimensions.
package prune

import (
	"errors"
	"fmt"

	"github.com/viterin/vek/vek32"

	"github.com/genioCE/WellApp/internal/model"
)

// MaxIterations bounds the fixed-point filtering loop. Filtering by absolute
// value converges after one pass; the bound only guarantees termination.
const MaxIterations = 10

// ErrEmptyVector is returned for empty input, for which the reduction
// percentage is undefined.
var ErrEmptyVector = errors.New("prune: empty vector")

// Prune keeps the elements of v with |x| >= threshold, in their original order.
// When reduceDim > 0 and smaller than the filtered length, the filtered vector is
// projected onto reduceDim principal components as a single sample. A projection
// failure is recorded in the detail and the unreduced vector is returned.
func Prune(v []float32, threshold float32, reduceDim int) ([]float32, model.PruneDetail, error) {
	if len(v) == 0 {
		return nil, model.PruneDetail{}, ErrEmptyVector
	}

	pruned, iterations := filter(v, threshold)
	detail := model.PruneDetail{
		OriginalSize: len(v),
		PrunedSize:   len(pruned),
		Iterations:   iterations,
	}

	out := pruned
	if reduceDim > 0 && reduceDim < len(pruned) {
		projected, err := project([][]float32{pruned}, reduceDim)
		if err != nil {
			detail.Error = fmt.Sprintf("dimensionality reduction failed: %v", err)
		} else {
			out = projected[0]
			n := len(out)
			detail.ReducedSize = &n
		}
	}

	detail.PercentageReduced = 100 * (1 - float64(len(out))/float64(len(v)))
	return out, detail, nil
}

// filter repeats the magnitude filter until the length stops changing.
func filter(v []float32, threshold float32) ([]float32, int) {
	current := append([]float32(nil), v...)
	iterations := 0
	for iterations < MaxIterations {
		iterations++
		if len(current) == 0 {
			break
		}
		mask := vek32.GteNumber(vek32.Abs(current), threshold)
		next := vek32.Select(current, mask)
		if len(next) == len(current) {
			break
		}
		current = next
	}
	if current == nil {
		current = []float32{}
	}
	return current, iterations
}
