package metrics

import (
	"log/slog"
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/presencewatch/presencewatch/agent/internal/compute"
	"github.com/presencewatch/presencewatch/pkg/types"
)

const namespace = "presencewatch_"

// Source supplies the latest result per target.
type Source interface {
	Snapshot() []*compute.Result
}

// Queue reports the shipper buffer. Optional.
type Queue interface {
	Pending() int
	Evicted() int64
}

// Handler serves /metrics for src. q may be nil.
func Handler(src Source, q Queue) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		format := expfmt.NewFormat(expfmt.TypeTextPlain)
		w.Header().Set("Content-Type", string(format))
		enc := expfmt.NewEncoder(w, format)
		for _, mf := range Families(src.Snapshot(), q) {
			if err := enc.Encode(mf); err != nil {
				slog.Warn("metrics: encode family", "family", mf.GetName(), "err", err)
				return
			}
		}
	})
}

// gaugeSpec describes one per-target gauge.
type gaugeSpec struct {
	name  string
	help  string
	value func(*compute.Result) float64
}

var targetGauges = []gaugeSpec{
	{"rtt_ms", "Last measured round-trip time in milliseconds (0 when the probe failed).",
		func(r *compute.Result) float64 { return r.RTTMs }},
	{"threshold_ms", "Current decision threshold between the responsive and dormant regimes.",
		func(r *compute.Result) float64 { return r.Stats.Threshold }},
	{"low_centroid_ms", "Centroid of the responsive latency regime.",
		func(r *compute.Result) float64 { return r.Stats.LowCentroid }},
	{"high_centroid_ms", "Centroid of the dormant latency regime.",
		func(r *compute.Result) float64 { return r.Stats.HighCentroid }},
	{"model_confidence", "Separation-based confidence of the latency model, 0 to 1.",
		func(r *compute.Result) float64 { return r.Stats.Confidence }},
	{"window_samples", "Number of RTT samples held in the model window.",
		func(r *compute.Result) float64 { return float64(r.Stats.SampleCount) }},
	{"uptime_pct", "Share of the last 20 probes that succeeded.",
		func(r *compute.Result) float64 { return r.UptimePct }},
	{"consecutive_failures", "Number of failed probes in a row.",
		func(r *compute.Result) float64 { return float64(r.ConsecutiveFailures) }},
}

// Families builds the metric families for a snapshot. Results are expected
// sorted by target ID, as compute.Engine.Snapshot returns them. Per-target
// families are omitted while no target has been probed.
func Families(results []*compute.Result, q Queue) []*dto.MetricFamily {
	out := make([]*dto.MetricFamily, 0, len(targetGauges)+3)

	for _, g := range targetGauges {
		mf := family(g.name, g.help, dto.MetricType_GAUGE)
		for _, r := range results {
			mf.Metric = append(mf.Metric, gauge(g.value(r), label("target", r.TargetID)))
		}
		out = appendNonEmpty(out, mf)
	}

	presence := family("presence", "One-hot presence state per target.", dto.MetricType_GAUGE)
	for _, r := range results {
		for _, p := range types.Presences {
			var v float64
			if r.Presence == p {
				v = 1
			}
			presence.Metric = append(presence.Metric,
				gauge(v, label("target", r.TargetID), label("presence", p)))
		}
	}
	out = appendNonEmpty(out, presence)

	if q != nil {
		pending := family("shipper_pending", "Observations waiting to be written to Kafka.", dto.MetricType_GAUGE)
		pending.Metric = append(pending.Metric, gauge(float64(q.Pending())))
		evicted := family("shipper_evicted_total", "Observations dropped because the buffer was full.", dto.MetricType_COUNTER)
		evicted.Metric = append(evicted.Metric, &dto.Metric{
			Counter: &dto.Counter{Value: floatPtr(float64(q.Evicted()))},
		})
		out = append(out, pending, evicted)
	}
	return out
}

// appendNonEmpty drops families without series; the text format cannot
// encode them.
func appendNonEmpty(out []*dto.MetricFamily, mf *dto.MetricFamily) []*dto.MetricFamily {
	if len(mf.Metric) == 0 {
		return out
	}
	return append(out, mf)
}

func family(name, help string, typ dto.MetricType) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: strPtr(namespace + name),
		Help: strPtr(help),
		Type: typ.Enum(),
	}
}

func gauge(v float64, labels ...*dto.LabelPair) *dto.Metric {
	return &dto.Metric{Label: labels, Gauge: &dto.Gauge{Value: floatPtr(v)}}
}

func label(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: strPtr(name), Value: strPtr(value)}
}

func strPtr(s string) *string      { return &s }
func floatPtr(f float64) *float64 { return &f }
