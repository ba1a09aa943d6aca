package alerts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/presencewatch/presencewatch/pkg/types"
)

// condition is a parsed rule expression of the form "field op value".
//
// Supported expressions:
//
//	state == offline
//	state != online
//	rtt_ms > 2000
//	threshold_ms < 100
//	confidence < 0.2
//	uptime_pct < 90
//	consecutive_failures >= 3
//	sample_count < 10
type condition struct {
	field string
	op    string
	text  string  // right-hand side for state comparisons
	num   float64 // right-hand side for numeric comparisons
}

var numericFields = map[string]func(*types.Observation) float64{
	"rtt_ms":               func(o *types.Observation) float64 { return o.RTTMs },
	"threshold_ms":         func(o *types.Observation) float64 { return o.Model.ThresholdMs },
	"confidence":           func(o *types.Observation) float64 { return o.Model.Confidence },
	"uptime_pct":           func(o *types.Observation) float64 { return o.UptimePct },
	"consecutive_failures": func(o *types.Observation) float64 { return float64(o.ConsecutiveFailures) },
	"sample_count":         func(o *types.Observation) float64 { return float64(o.Model.SampleCount) },
}

// parseCondition compiles a rule condition string.
func parseCondition(s string) (condition, error) {
	parts := strings.Fields(s)
	if len(parts) != 3 {
		return condition{}, fmt.Errorf("condition %q: want \"field op value\"", s)
	}
	c := condition{field: parts[0], op: parts[1]}

	if c.field == "state" {
		if c.op != "==" && c.op != "!=" {
			return condition{}, fmt.Errorf("condition %q: state supports == and != only", s)
		}
		if !types.ValidPresence(parts[2]) {
			return condition{}, fmt.Errorf("condition %q: unknown state %q", s, parts[2])
		}
		c.text = parts[2]
		return c, nil
	}

	if _, ok := numericFields[c.field]; !ok {
		return condition{}, fmt.Errorf("condition %q: unknown field %q", s, c.field)
	}
	switch c.op {
	case ">", ">=", "<", "<=", "==", "!=":
	default:
		return condition{}, fmt.Errorf("condition %q: unknown operator %q", s, c.op)
	}
	v, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return condition{}, fmt.Errorf("condition %q: %w", s, err)
	}
	c.num = v
	return c, nil
}

// eval reports whether the condition holds for obs, plus the value compared.
// State comparisons report a value of 0.
func (c condition) eval(obs *types.Observation) (bool, float64) {
	if c.field == "state" {
		if c.op == "==" {
			return obs.State == c.text, 0
		}
		return obs.State != c.text, 0
	}
	v := numericFields[c.field](obs)
	return compareFloat(v, c.op, c.num), v
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
