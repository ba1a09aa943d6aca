package shipper

import (
	"github.com/google/uuid"

	"github.com/presencewatch/presencewatch/agent/internal/compute"
	"github.com/presencewatch/presencewatch/pkg/types"
)

// toObservation converts a compute.Result into the wire observation. Every
// observation gets a fresh ID so consumers can deduplicate redeliveries.
func toObservation(r *compute.Result) *types.Observation {
	return &types.Observation{
		ID:            uuid.NewString(),
		TargetID:      r.TargetID,
		TargetType:    r.TargetType,
		Timestamp:     r.Timestamp.UTC(),
		RTTMs:         r.RTTMs,
		State:         r.Presence,
		PreviousState: r.PreviousPresence,
		Changed:       r.Changed,
		Model: types.ModelStats{
			LowCentroidMs:  r.Stats.LowCentroid,
			HighCentroidMs: r.Stats.HighCentroid,
			ThresholdMs:    r.Stats.Threshold,
			Confidence:     r.Stats.Confidence,
			SampleCount:    r.Stats.SampleCount,
		},
		UptimePct:           r.UptimePct,
		ConsecutiveFailures: r.ConsecutiveFailures,
		ErrorMessage:        r.ErrorMessage,
		Extra:               r.Extra,
	}
}
