package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/common/expfmt"

	"github.com/presencewatch/presencewatch/agent/internal/classifier"
	"github.com/presencewatch/presencewatch/agent/internal/compute"
	"github.com/presencewatch/presencewatch/pkg/types"
)

type staticSource []*compute.Result

func (s staticSource) Snapshot() []*compute.Result { return s }

type staticQueue struct{}

func (staticQueue) Pending() int   { return 7 }
func (staticQueue) Evicted() int64 { return 2 }

func sampleResults() staticSource {
	return staticSource{
		{
			TargetID: "phone", Presence: types.PresenceOnline, RTTMs: 42,
			Stats:     classifier.Stats{LowCentroid: 40, HighCentroid: 900, Threshold: 470, Confidence: 0.86, SampleCount: 100},
			UptimePct: 100,
		},
		{
			TargetID: "tablet", Presence: types.PresenceOffline,
			ConsecutiveFailures: 4, UptimePct: 80,
		},
	}
}

func TestHandler_RoundTripsThroughParser(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler(sampleResults(), staticQueue{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}

	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(rec.Body)
	if err != nil {
		t.Fatalf("parse exposition: %v", err)
	}

	thr := mfs["presencewatch_threshold_ms"]
	if thr == nil || len(thr.GetMetric()) != 2 {
		t.Fatalf("threshold family = %v", thr)
	}
	if got := thr.GetMetric()[0].GetGauge().GetValue(); got != 470 {
		t.Errorf("phone threshold = %v, want 470", got)
	}
	if got := mfs["presencewatch_consecutive_failures"].GetMetric()[1].GetGauge().GetValue(); got != 4 {
		t.Errorf("tablet consecutive_failures = %v, want 4", got)
	}
	if got := mfs["presencewatch_shipper_evicted_total"].GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Errorf("evicted = %v, want 2", got)
	}
}

func TestFamilies_PresenceIsOneHot(t *testing.T) {
	var found bool
	for _, mf := range Families(sampleResults(), nil) {
		if mf.GetName() != "presencewatch_presence" {
			continue
		}
		found = true
		hot := map[string]string{}
		for _, m := range mf.GetMetric() {
			var target, state string
			for _, l := range m.GetLabel() {
				switch l.GetName() {
				case "target":
					target = l.GetValue()
				case "presence":
					state = l.GetValue()
				}
			}
			if m.GetGauge().GetValue() == 1 {
				if prev, dup := hot[target]; dup {
					t.Errorf("%s is both %s and %s", target, prev, state)
				}
				hot[target] = state
			}
		}
		if hot["phone"] != types.PresenceOnline || hot["tablet"] != types.PresenceOffline {
			t.Errorf("one-hot states = %v", hot)
		}
		if want := 2 * len(types.Presences); len(mf.GetMetric()) != want {
			t.Errorf("presence series = %d, want %d", len(mf.GetMetric()), want)
		}
	}
	if !found {
		t.Fatal("presence family missing")
	}
}

func TestFamilies_NoQueue(t *testing.T) {
	for _, mf := range Families(sampleResults(), nil) {
		if strings.HasPrefix(mf.GetName(), "presencewatch_shipper") {
			t.Errorf("unexpected family %s without a queue", mf.GetName())
		}
	}
}

func TestFamilies_NoTargetsStillEncodes(t *testing.T) {
	mfs := Families(nil, staticQueue{})
	if len(mfs) != 2 {
		t.Fatalf("families = %d, want only the two shipper families", len(mfs))
	}
	rec := httptest.NewRecorder()
	Handler(staticSource(nil), nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Errorf("empty snapshot: status=%d body=%q", rec.Code, rec.Body.String())
	}
}
