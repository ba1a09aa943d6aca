package api

import (
	"github.com/presencewatch/presencewatch/pkg/types"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	// State is "ok" when every live target is online or standby, "degraded"
	// when at least one is offline, and "unknown" when nothing is reporting.
	State            string `json:"state"`
	TargetCount      int    `json:"target_count"`
	OnlineCount      int    `json:"online_count"`
	StandbyCount     int    `json:"standby_count"`
	CalibratingCount int    `json:"calibrating_count"`
	OfflineCount     int    `json:"offline_count"`
	AlertCount       int    `json:"alert_count"`
}

// TargetResponse is one target entry in GET /api/v1/targets or
// GET /api/v1/targets/{id}.
type TargetResponse struct {
	TargetID            string             `json:"target_id"`
	TargetType          string             `json:"target_type"`
	State               string             `json:"state"`
	PreviousState       string             `json:"previous_state,omitempty"`
	Since               string             `json:"since"` // RFC3339
	RTTMs               float64            `json:"rtt_ms"`
	Model               types.ModelStats   `json:"model"`
	UptimePct           float64            `json:"uptime_pct"`
	ConsecutiveFailures int                `json:"consecutive_failures"`
	ErrorMessage        string             `json:"error_message,omitempty"`
	Extra               map[string]float64 `json:"extra,omitempty"`
	Diagnostics         []DiagnosticHint   `json:"diagnostics"`
	ObservedAt          string             `json:"observed_at"` // RFC3339
	LastSeen            string             `json:"last_seen"`   // RFC3339
}

// SnapshotResponse is the payload for GET /api/v1/snapshot and the data of
// every WebSocket "snapshot" event.
type SnapshotResponse struct {
	Targets     []TargetResponse `json:"targets"`
	GeneratedAt string           `json:"generated_at"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
