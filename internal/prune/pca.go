package prune

import (
	"fmt"
	"math"

	"github.com/viterin/vek"
)

const (
	powerIterations = 100
	varianceEpsilon = 1e-12
)

// project runs PCA over samples (rows) and returns each sample expressed in the
// first k components. Components are found by power iteration with deflation.
// As with any PCA, k may not exceed min(n_samples, n_features); a single sample
// therefore only ever admits one component, and its centered projection is zero.
func project(samples [][]float32, k int) ([][]float32, error) {
	n := len(samples)
	if n == 0 {
		return nil, fmt.Errorf("no samples")
	}
	d := len(samples[0])
	if limit := min(n, d); k < 1 || k > limit {
		return nil, fmt.Errorf("n_components=%d must be between 1 and min(n_samples, n_features)=%d", k, limit)
	}

	x := center(samples, d)
	components := make([][]float64, 0, k)
	for range k {
		components = append(components, principalComponent(x, components, d))
	}

	out := make([][]float32, n)
	for i, row := range x {
		out[i] = make([]float32, k)
		for c, comp := range components {
			out[i][c] = float32(vek.Dot(row, comp))
		}
	}
	return out, nil
}

func center(samples [][]float32, d int) [][]float64 {
	mean := make([]float64, d)
	for _, s := range samples {
		for j, v := range s {
			mean[j] += float64(v)
		}
	}
	for j := range mean {
		mean[j] /= float64(len(samples))
	}

	x := make([][]float64, len(samples))
	for i, s := range samples {
		row := make([]float64, d)
		for j, v := range s {
			row[j] = float64(v) - mean[j]
		}
		x[i] = row
	}
	return x
}

// principalComponent finds the dominant direction of x orthogonal to prev.
// Returns a zero vector when no variance remains.
func principalComponent(x [][]float64, prev [][]float64, d int) []float64 {
	w := make([]float64, d)
	for j := range w {
		w[j] = 1 / math.Sqrt(float64(d))
	}

	for range powerIterations {
		next := make([]float64, d)
		for _, row := range x {
			proj := vek.Dot(row, w)
			for j := range next {
				next[j] += proj * row[j]
			}
		}
		for _, p := range prev {
			dot := vek.Dot(next, p)
			for j := range next {
				next[j] -= dot * p[j]
			}
		}
		norm := vek.Norm(next)
		if norm < varianceEpsilon {
			return make([]float64, d)
		}
		for j := range next {
			next[j] /= norm
		}
		w = next
	}
	return w
}
