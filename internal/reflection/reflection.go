// Package reflection scores interpreted units: numeric SCADA readings are
// checked against a trailing rolling window, and well-file text is matched
// against regulatory keywords.
package reflection

import (
	"math"
	"strings"
)

// Defaults for anomaly detection.
const (
	DefaultWindow = 10
	DefaultSigma  = 2.0
)

// DefaultKeywords mark a well-file clause as important.
var DefaultKeywords = []string{"lease", "permit", "inspection", "abandonment", "test"}

// Sample is one SCADA reading in time order.
type Sample struct {
	Pressure float64
	FlowRate float64
}

// Detector flags readings that stray from the trailing statistics of their series.
type Detector struct {
	Window int
	Sigma  float64
}

// NewDetector returns a detector with the default window and sigma.
func NewDetector() Detector {
	return Detector{Window: DefaultWindow, Sigma: DefaultSigma}
}

// Flag returns one flag per element of batch. history holds already-reflected
// samples of the same well, oldest first, and warms up the window so that a
// batch boundary does not reset the statistics.
//
// For row i the reference is the up-to-Window rows strictly before it. The
// reading is anomalous when |x - mean| > Sigma * std for pressure or flow rate,
// with std the sample standard deviation (zero when fewer than two rows
// precede). A row with nothing before it is never anomalous.
func (d Detector) Flag(history, batch []Sample) []bool {
	window := d.Window
	if window <= 0 {
		window = DefaultWindow
	}
	if len(history) > window {
		history = history[len(history)-window:]
	}

	series := make([]Sample, 0, len(history)+len(batch))
	series = append(series, history...)
	series = append(series, batch...)

	flags := make([]bool, len(batch))
	for i := range batch {
		pos := len(history) + i
		prior := series[max(0, pos-window):pos]
		if len(prior) == 0 {
			continue
		}
		cur := series[pos]
		flags[i] = d.deviates(cur.Pressure, prior, pressure) || d.deviates(cur.FlowRate, prior, flowRate)
	}
	return flags
}

func pressure(s Sample) float64 { return s.Pressure }
func flowRate(s Sample) float64 { return s.FlowRate }

func (d Detector) deviates(x float64, prior []Sample, field func(Sample) float64) bool {
	mean, std := stats(prior, field)
	return math.Abs(x-mean) > d.Sigma*std
}

// stats returns the mean and sample standard deviation (ddof=1) of field over s.
func stats(s []Sample, field func(Sample) float64) (float64, float64) {
	var sum float64
	for _, v := range s {
		sum += field(v)
	}
	mean := sum / float64(len(s))
	if len(s) < 2 {
		return mean, 0
	}
	var sq float64
	for _, v := range s {
		diff := field(v) - mean
		sq += diff * diff
	}
	return mean, math.Sqrt(sq / float64(len(s)-1))
}

// ContainsKeywords reports whether text contains any keyword, case-insensitively.
// Matching is by substring, so "tested" matches "test".
func ContainsKeywords(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if k != "" && strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}
