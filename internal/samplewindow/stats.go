package samplewindow

import "sort"

// Average returns the arithmetic mean of values, or ok=false if values is
// empty.
func Average(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values)), true
}

// Sum returns the sum of values.
func Sum(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum
}

// Percentile computes the p-th percentile (0-100) of values using linear
// interpolation between closest ranks (NumPy's default "linear" method,
// sometimes called R-7). Requires at least two samples; with fewer, ok is
// false so callers can fall back to the "n/a" sentinel required by the
// aggregator's emission format.
func Percentile(values []float64, p float64) (float64, bool) {
	if len(values) < 2 {
		return 0, false
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	rank := (p / 100) * float64(len(sorted)-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1], true
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo]), true
}
