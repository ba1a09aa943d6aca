package types

import (
	"errors"
	"fmt"
	"time"
)

// Presence states reported for a tracked target.
const (
	PresenceCalibrating = "calibrating"
	PresenceOnline      = "online"
	PresenceStandby     = "standby"
	PresenceOffline     = "offline"
)

// Presences is the ordered set of presence states.
var Presences = []string{PresenceOnline, PresenceStandby, PresenceCalibrating, PresenceOffline}

// ValidPresence reports whether s is one of the known presence states.
func ValidPresence(s string) bool {
	for _, p := range Presences {
		if s == p {
			return true
		}
	}
	return false
}

// ModelStats is the read-only snapshot of a target's latency model.
// A zero Threshold means the model has not been fit yet.
type ModelStats struct {
	LowCentroidMs  float64 `json:"low_centroid_ms"`
	HighCentroidMs float64 `json:"high_centroid_ms"`
	ThresholdMs    float64 `json:"threshold_ms"`
	Confidence     float64 `json:"confidence"`
	SampleCount    int     `json:"sample_count"`
}

// Observation is the result of one probe cycle for one target.
type Observation struct {
	ID         string    `json:"id"`
	TargetID   string    `json:"target_id"`
	TargetType string    `json:"target_type"`
	Timestamp  time.Time `json:"timestamp"`

	// RTTMs is the probe round-trip time in milliseconds; 0 when the probe failed.
	RTTMs float64 `json:"rtt_ms"`

	State         string `json:"state"`
	PreviousState string `json:"previous_state,omitempty"`
	Changed       bool   `json:"changed"`

	Model ModelStats `json:"model"`

	UptimePct           float64 `json:"uptime_pct"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	ErrorMessage        string  `json:"error_message,omitempty"`

	// Extra carries probe-specific readings such as "http_status" or
	// "cert_days_left".
	Extra map[string]float64 `json:"extra,omitempty"`
}

// ErrMissingTarget is returned by Validate when TargetID is empty.
var ErrMissingTarget = errors.New("target_id is required")

// Validate checks the structural constraints of an observation received
// over the wire.
func (o Observation) Validate() error {
	if o.TargetID == "" {
		return ErrMissingTarget
	}
	if !ValidPresence(o.State) {
		return fmt.Errorf("unknown state %q", o.State)
	}
	if o.PreviousState != "" && !ValidPresence(o.PreviousState) {
		return fmt.Errorf("unknown previous_state %q", o.PreviousState)
	}
	if o.RTTMs < 0 {
		return fmt.Errorf("rtt_ms %.2f must not be negative", o.RTTMs)
	}
	if o.Model.Confidence < 0 || o.Model.Confidence > 1 {
		return fmt.Errorf("model.confidence %.3f out of [0, 1]", o.Model.Confidence)
	}
	return nil
}
