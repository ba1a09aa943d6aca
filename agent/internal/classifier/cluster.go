package classifier

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	maxIterations = 10
	convergenceMs = 1.0

	// Seeds closer than minSeedGap are pushed seedWidening apart.
	minSeedGap   = 50.0
	seedWidening = 200.0
)

// twoMeans partitions data into two clusters and returns their centroids with
// low <= high. data must hold at least one value.
func twoMeans(data []float64) (low, high float64) {
	sorted := sortedCopy(data)
	c1 := sorted[quantileIndex(len(sorted), 0.1)]
	c2 := sorted[quantileIndex(len(sorted), 0.9)]
	if math.Abs(c1-c2) < minSeedGap {
		c2 = c1 + seedWidening
	}

	first := make([]float64, 0, len(data))
	second := make([]float64, 0, len(data))
	for i := 0; i < maxIterations; i++ {
		first, second = first[:0], second[:0]
		for _, v := range data {
			// Equidistant samples join the second cluster.
			if math.Abs(v-c1) < math.Abs(v-c2) {
				first = append(first, v)
			} else {
				second = append(second, v)
			}
		}

		n1 := meanOr(first, c1)
		n2 := meanOr(second, c2)
		converged := math.Abs(n1-c1) < convergenceMs && math.Abs(n2-c2) < convergenceMs
		c1, c2 = n1, n2
		if converged {
			break
		}
	}

	if c1 > c2 {
		c1, c2 = c2, c1
	}
	return c1, c2
}

// meanOr returns the mean of values, or fallback when values is empty.
func meanOr(values []float64, fallback float64) float64 {
	if len(values) == 0 {
		return fallback
	}
	return stat.Mean(values, nil)
}
