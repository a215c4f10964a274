package reflection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func samples(pressure, flow []float64) []Sample {
	out := make([]Sample, len(pressure))
	for i := range pressure {
		out[i] = Sample{Pressure: pressure[i], FlowRate: flow[i]}
	}
	return out
}

func TestFlagDetectsSpike(t *testing.T) {
	batch := samples([]float64{10, 10, 10, 10, 50}, []float64{1, 1, 1, 1, 5})
	flags := NewDetector().Flag(nil, batch)
	assert.Equal(t, []bool{false, false, false, false, true}, flags)
}

func TestFlagFirstRowNeverAnomalous(t *testing.T) {
	flags := NewDetector().Flag(nil, samples([]float64{1000}, []float64{1000}))
	assert.Equal(t, []bool{false}, flags)
}

func TestFlagSingleCounterpartHasZeroSpread(t *testing.T) {
	// One prior value: std is zero, so any change is anomalous.
	flags := NewDetector().Flag(nil, samples([]float64{10, 11}, []float64{1, 1}))
	assert.Equal(t, []bool{false, true}, flags)
}

func TestFlagFlowRateAlone(t *testing.T) {
	batch := samples([]float64{10, 10, 10, 10, 10}, []float64{1, 1, 1, 1, 9})
	flags := NewDetector().Flag(nil, batch)
	assert.True(t, flags[4])
}

func TestFlagNoisyButStable(t *testing.T) {
	batch := samples(
		[]float64{100, 101, 100, 101, 100, 101, 100, 101, 100, 101, 100, 101},
		[]float64{5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5},
	)
	flags := NewDetector().Flag(nil, batch)
	// The second row sees a single prior value and zero spread; after that the
	// alternation stays within two deviations.
	assert.True(t, flags[1])
	for i := 2; i < len(flags); i++ {
		assert.False(t, flags[i], "row %d", i)
	}
}

func TestFlagUsesHistoryAcrossBatches(t *testing.T) {
	d := NewDetector()
	history := samples([]float64{10, 10, 10, 10}, []float64{1, 1, 1, 1})

	// Without history the first row of a batch has nothing to compare against.
	assert.Equal(t, []bool{false}, d.Flag(nil, samples([]float64{50}, []float64{5})))
	// With history it is compared against the earlier readings of the well.
	assert.Equal(t, []bool{true}, d.Flag(history, samples([]float64{50}, []float64{5})))
}

func TestFlagWindowIsBounded(t *testing.T) {
	d := Detector{Window: 3, Sigma: 2}
	// The large early values fall out of a three-row window.
	history := samples([]float64{1000, 1000, 10, 10, 10}, []float64{1, 1, 1, 1, 1})
	assert.Equal(t, []bool{true}, d.Flag(history, samples([]float64{11}, []float64{1})))
}

func TestContainsKeywords(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Permit granted for drilling", true},
		{"Routine maintenance check", false},
		{"LEASE terms renewed", true},
		{"Well was tested at 3000 psi", true},
		{"Final ABANDONMENT report", true},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, ContainsKeywords(tt.text, DefaultKeywords))
		})
	}
}
