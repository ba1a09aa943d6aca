package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/presencewatch/presencewatch/agent/internal/config"
)

// probeSuccess is the blackbox-exporter success gauge. A value of 0 means
// the exporter could not reach the target.
const probeSuccess = "probe_success"

// promProber reads a latency gauge, in seconds, from a Prometheus text
// endpoint such as blackbox_exporter's /probe. The RTT is the exporter's
// measurement, not the time taken to fetch it.
type promProber struct {
	target config.Target
	client *http.Client
}

func (p *promProber) Probe(ctx context.Context) (*Sample, error) {
	s := newSample(p.target, time.Now())

	mfs, err := fetchMetrics(ctx, p.client, p.target.Endpoint)
	if err != nil {
		return s.fail("prometheus fetch %q: %w", p.target.ID, err), nil
	}

	if mf, ok := mfs[probeSuccess]; ok {
		v, _ := firstValue(mf)
		s.Extra[probeSuccess] = v
		if v == 0 {
			return s.fail("prometheus %q: %s is 0", p.target.ID, probeSuccess), nil
		}
	}

	metric := p.target.Metric
	if metric == "" {
		metric = config.DefaultLatencyMetric
	}
	seconds, found := firstValue(mfs[metric])
	if !found {
		return s.fail("prometheus %q: metric %s not found", p.target.ID, metric), nil
	}
	if seconds <= 0 {
		return s.fail("prometheus %q: %s is %v", p.target.ID, metric, seconds), nil
	}
	s.RTT = time.Duration(seconds * float64(time.Second))
	return s, nil
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition from r into metric families.
// A partial result with a non-fatal parse warning is still returned successfully.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// firstValue returns the value of the first series in mf. Blackbox probes
// expose exactly one series per gauge.
func firstValue(mf *dto.MetricFamily) (float64, bool) {
	if mf == nil {
		return 0, false
	}
	for _, m := range mf.GetMetric() {
		switch {
		case m.Gauge != nil:
			return m.Gauge.GetValue(), true
		case m.Untyped != nil:
			return m.Untyped.GetValue(), true
		case m.Counter != nil:
			return m.Counter.GetValue(), true
		}
	}
	return 0, false
}
