package classifier

import (
	"math"
	"sort"
)

// IQR multipliers for the acceptance band. The upper bound is looser so that
// genuine dormant-regime readings survive while short latency dips do not.
const (
	lowerIQRFactor = 1.5
	upperIQRFactor = 2.0
)

// trimOutliers returns the samples inside [max(0, Q1-1.5·IQR), Q3+2.0·IQR],
// in their original order. samples is not modified. If fewer than MinSamples
// would survive, the unfiltered samples are returned instead.
func trimOutliers(samples []float64) []float64 {
	sorted := sortedCopy(samples)
	q1 := sorted[quantileIndex(len(sorted), 0.25)]
	q3 := sorted[quantileIndex(len(sorted), 0.75)]
	iqr := q3 - q1

	lower := math.Max(0, q1-lowerIQRFactor*iqr)
	upper := q3 + upperIQRFactor*iqr

	kept := make([]float64, 0, len(samples))
	for _, v := range samples {
		if v >= lower && v <= upper {
			kept = append(kept, v)
		}
	}
	if len(kept) < MinSamples {
		return samples
	}
	return kept
}

// quantileIndex returns floor(n*p), the index of the p-quantile in a sorted
// slice of length n.
func quantileIndex(n int, p float64) int {
	return int(math.Floor(float64(n) * p))
}

func sortedCopy(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	sort.Float64s(out)
	return out
}
