package api

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/presencewatch/presencewatch/pkg/types"
)

func keys(hints []DiagnosticHint) []string {
	out := make([]string, 0, len(hints))
	for _, h := range hints {
		out = append(out, h.Key)
	}
	return out
}

func base() *types.Observation {
	return &types.Observation{
		TargetID:   "phone",
		TargetType: "http",
		State:      types.PresenceOnline,
		RTTMs:      35,
		UptimePct:  100,
		Model:      types.ModelStats{LowCentroidMs: 40, HighCentroidMs: 900, ThresholdMs: 470, Confidence: 0.86, SampleCount: 100},
	}
}

func TestComputeDiagnostics(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *types.Observation)
		want   []string
	}{
		{"healthy", func(*types.Observation) {}, []string{"healthy"}},
		{"offline stops early", func(o *types.Observation) {
			o.State = types.PresenceOffline
			o.ErrorMessage = "timeout"
			o.ConsecutiveFailures = 3
			o.UptimePct = 50
		}, []string{"offline"}},
		{"failing but held", func(o *types.Observation) {
			o.ErrorMessage = "timeout"
			o.ConsecutiveFailures = 1
			o.RTTMs = 0
			o.UptimePct = 95
		}, []string{"probe_failing", "uptime"}},
		{"calibrating", func(o *types.Observation) {
			o.State = types.PresenceCalibrating
			o.Model = types.ModelStats{SampleCount: 4}
		}, []string{"calibrating"}},
		{"single regime", func(o *types.Observation) {
			o.Model.Confidence = 0.1
		}, []string{"single_regime"}},
		{"weak separation", func(o *types.Observation) {
			o.Model.Confidence = 0.35
		}, []string{"weak_separation"}},
		{"near threshold", func(o *types.Observation) {
			o.RTTMs = 450
		}, []string{"near_threshold"}},
		{"cert expiring", func(o *types.Observation) {
			o.TargetType = "tls"
			o.Extra = map[string]float64{"cert_days_left": 5}
		}, []string{"cert_expiry"}},
		{"cert fine", func(o *types.Observation) {
			o.TargetType = "tls"
			o.Extra = map[string]float64{"cert_days_left": 60}
		}, []string{"healthy"}},
		{"http 5xx", func(o *types.Observation) {
			o.Extra = map[string]float64{"http_status": 502}
		}, []string{"http_server_error"}},
		{"mqtt standby", func(o *types.Observation) {
			o.TargetType = "mqtt"
			o.State = types.PresenceStandby
			o.RTTMs = 900
		}, []string{"mqtt_sleeping"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			o := base()
			tc.mutate(o)
			assert.Equal(t, tc.want, keys(computeDiagnostics(o)))
		})
	}
}

func TestComputeDiagnostics_UptimeLevels(t *testing.T) {
	for _, tc := range []struct {
		uptime float64
		level  string
	}{{95, "info"}, {80, "warning"}, {50, "critical"}} {
		o := base()
		o.UptimePct = tc.uptime
		hints := computeDiagnostics(o)
		if assert.Len(t, hints, 1) {
			assert.Equal(t, tc.level, hints[0].Level, "uptime %v", tc.uptime)
		}
	}
}

func TestComputeDiagnostics_CertCritical(t *testing.T) {
	o := base()
	o.TargetType = "tls"
	o.Extra = map[string]float64{"cert_days_left": 1}
	hints := computeDiagnostics(o)
	if assert.Len(t, hints, 1) {
		assert.Equal(t, "critical", hints[0].Level)
	}
}
