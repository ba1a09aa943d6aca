package api

import (
	"fmt"
	"math"

	"github.com/presencewatch/presencewatch/pkg/types"
)

// DiagnosticHint is one human-readable insight about a target. The UI shows
// Title on a chip and Detail on click.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label, five words at most.
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is an optional number associated with the hint.
	Value *float64 `json:"value,omitempty"`
}

const (
	// minFitSamples mirrors the number of readings the agent needs before it
	// fits its first model.
	minFitSamples = 10

	// syntheticConfidence is what the agent reports when it had to invent a
	// split because only one latency regime was seen.
	syntheticConfidence = 0.1

	weakConfidence = 0.5
	nearThreshold  = 0.1 // fraction of the threshold
	certWarnDays   = 14
	certCritDays   = 3
)

// computeDiagnostics derives hints from an observation, most severe first.
func computeDiagnostics(obs *types.Observation) []DiagnosticHint {
	var hints []DiagnosticHint

	// Probe failures
	if obs.ErrorMessage != "" {
		n := float64(obs.ConsecutiveFailures)
		if obs.State == types.PresenceOffline {
			hints = append(hints, DiagnosticHint{
				Key:   "offline",
				Level: "critical",
				Title: "Target offline",
				Detail: fmt.Sprintf(
					"The last %d probes failed; the most recent error was %q. "+
						"The target is powered off or out of range, or its endpoint is wrong. "+
						"Its latency model is kept, so it resumes classifying as soon as it answers again.",
					obs.ConsecutiveFailures, obs.ErrorMessage),
				Value: &n,
			})
			return hints
		}
		hints = append(hints, DiagnosticHint{
			Key:   "probe_failing",
			Level: "warning",
			Title: "Probe failing",
			Detail: fmt.Sprintf(
				"The latest probe failed with %q (%d in a row). "+
					"The previous presence is held until enough probes fail to mark the target offline.",
				obs.ErrorMessage, obs.ConsecutiveFailures),
			Value: &n,
		})
	}

	// Model maturity
	switch {
	case obs.State == types.PresenceCalibrating:
		n := float64(obs.Model.SampleCount)
		hints = append(hints, DiagnosticHint{
			Key:   "calibrating",
			Level: "info",
			Title: "Calibrating",
			Detail: fmt.Sprintf(
				"The agent has %d of the %d readings it needs before it can fit a latency model. "+
					"No presence is reported until then. No action needed.",
				obs.Model.SampleCount, minFitSamples),
			Value: &n,
		})
	case obs.Model.Confidence <= syntheticConfidence:
		c := obs.Model.Confidence
		hints = append(hints, DiagnosticHint{
			Key:   "single_regime",
			Level: "info",
			Title: "Single latency regime",
			Detail: fmt.Sprintf(
				"Every recent reading falls in one latency band, so the threshold of %.0f ms is estimated "+
					"rather than learned. Classification will sharpen once the target has been seen "+
					"both awake and asleep.",
				obs.Model.ThresholdMs),
			Value: &c,
		})
	case obs.Model.Confidence < weakConfidence:
		c := obs.Model.Confidence
		hints = append(hints, DiagnosticHint{
			Key:   "weak_separation",
			Level: "info",
			Title: "Regimes overlap",
			Detail: fmt.Sprintf(
				"The responsive and dormant clusters sit only %.0f ms apart (%.0f ms vs %.0f ms). "+
					"Readings near the %.0f ms threshold may be misclassified.",
				obs.Model.HighCentroidMs-obs.Model.LowCentroidMs,
				obs.Model.LowCentroidMs, obs.Model.HighCentroidMs, obs.Model.ThresholdMs),
			Value: &c,
		})
	}

	// Borderline reading
	if obs.RTTMs > 0 && obs.Model.ThresholdMs > 0 &&
		math.Abs(obs.RTTMs-obs.Model.ThresholdMs) <= nearThreshold*obs.Model.ThresholdMs {
		v := obs.RTTMs
		hints = append(hints, DiagnosticHint{
			Key:   "near_threshold",
			Level: "info",
			Title: "Near threshold",
			Detail: fmt.Sprintf(
				"The latest reading of %.0f ms is within %.0f%% of the %.0f ms threshold. "+
					"Presence only flips after several agreeing readings, so a single borderline probe is harmless.",
				obs.RTTMs, nearThreshold*100, obs.Model.ThresholdMs),
			Value: &v,
		})
	}

	// Uptime
	if obs.UptimePct > 0 && obs.UptimePct < 100 {
		v := obs.UptimePct
		level := "info"
		switch {
		case obs.UptimePct < 70:
			level = "critical"
		case obs.UptimePct < 90:
			level = "warning"
		}
		hints = append(hints, DiagnosticHint{
			Key:   "uptime",
			Level: level,
			Title: fmt.Sprintf("%.0f%% reachable", obs.UptimePct),
			Detail: fmt.Sprintf(
				"The target answered %.0f%% of its recent probes. "+
					"Intermittent failures usually mean weak signal or an aggressive power-saving mode.",
				obs.UptimePct),
			Value: &v,
		})
	}

	hints = append(hints, targetTypeHints(obs)...)

	if len(hints) == 0 {
		c := obs.Model.Confidence
		hints = append(hints, DiagnosticHint{
			Key:   "healthy",
			Level: "ok",
			Title: "All clear",
			Detail: fmt.Sprintf(
				"The target is answering every probe and the model separates its two regimes "+
					"with confidence %.2f.", c),
			Value: &c,
		})
	}
	return hints
}

// targetTypeHints returns hints specific to the probe type.
func targetTypeHints(obs *types.Observation) []DiagnosticHint {
	var hints []DiagnosticHint

	switch obs.TargetType {
	case "tls":
		days, ok := obs.Extra["cert_days_left"]
		if !ok || days >= certWarnDays {
			break
		}
		level := "warning"
		if days < certCritDays {
			level = "critical"
		}
		hints = append(hints, DiagnosticHint{
			Key:   "cert_expiry",
			Level: level,
			Title: fmt.Sprintf("Cert expires in %.0fd", days),
			Detail: fmt.Sprintf(
				"The certificate presented by this target expires in %.0f days. "+
					"Once it expires the handshake fails and the target will show as offline.", days),
			Value: &days,
		})

	case "http":
		code, ok := obs.Extra["http_status"]
		if !ok || code < 500 {
			break
		}
		hints = append(hints, DiagnosticHint{
			Key:   "http_server_error",
			Level: "warning",
			Title: fmt.Sprintf("HTTP %.0f", code),
			Detail: "The endpoint answers with a server error. The round trip still counts as a reading, " +
				"but error pages are often served faster or slower than real responses, which skews the model.",
			Value: &code,
		})

	case "mqtt":
		if obs.State == types.PresenceStandby {
			hints = append(hints, DiagnosticHint{
				Key:   "mqtt_sleeping",
				Level: "info",
				Title: "Device likely sleeping",
				Detail: "Replies are arriving at dormant-regime latency, which for MQTT devices usually " +
					"means the radio is in a power-save cycle and the broker is holding messages.",
			})
		}
	}
	return hints
}
