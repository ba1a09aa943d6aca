package classifier

import "math"

const (
	// MinSeparation is the centroid gap in ms below which the two regimes are
	// treated as one.
	MinSeparation = 300.0

	// unimodalConfidence is reported whenever the split is synthetic.
	unimodalConfidence = 0.1

	// Below this mean a unimodal target is assumed always responsive,
	// at or above it always dormant.
	unimodalPivot = 500.0

	syntheticSpread   = 1000.0
	responsiveOffset  = 500.0
	dormantOffset     = 250.0
	confidenceScaleMs = 1000.0
)

// Model is the fitted decision boundary between the low-latency (responsive)
// and high-latency (dormant) regimes. A zero Threshold means "not yet fit".
type Model struct {
	LowCentroid  float64
	HighCentroid float64
	Threshold    float64
	Confidence   float64
}

// Fitted reports whether the model holds a usable threshold.
func (m Model) Fitted() bool {
	return m.Threshold != 0
}

// synthesize turns two ordered centroids into a Model. When the centroids are
// closer than MinSeparation it fabricates a split around their midpoint so a
// threshold is always produced, flagged by unimodalConfidence.
func synthesize(low, high float64) Model {
	separation := high - low
	if separation >= MinSeparation {
		return Model{
			LowCentroid:  low,
			HighCentroid: high,
			Threshold:    (low + high) / 2,
			Confidence:   math.Min(1.0, separation/confidenceScaleMs),
		}
	}

	avg := (low + high) / 2
	if avg < unimodalPivot {
		return Model{
			LowCentroid:  avg,
			HighCentroid: avg + syntheticSpread,
			Threshold:    avg + responsiveOffset,
			Confidence:   unimodalConfidence,
		}
	}
	return Model{
		LowCentroid:  math.Max(0, avg-syntheticSpread),
		HighCentroid: avg,
		Threshold:    avg - dormantOffset,
		Confidence:   unimodalConfidence,
	}
}

// fit runs the full pipeline over a window snapshot.
func fit(samples []float64) Model {
	return synthesize(twoMeans(trimOutliers(samples)))
}
