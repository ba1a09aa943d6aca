package types

import (
	"errors"
	"strings"
	"testing"
)

func TestValidPresence(t *testing.T) {
	for _, p := range Presences {
		if !ValidPresence(p) {
			t.Errorf("ValidPresence(%q) = false", p)
		}
	}
	for _, p := range []string{"", "Online", "asleep", "low", "high"} {
		if ValidPresence(p) {
			t.Errorf("ValidPresence(%q) = true", p)
		}
	}
}

func TestObservationValidate(t *testing.T) {
	valid := Observation{TargetID: "phone", State: PresenceOnline, RTTMs: 40, Model: ModelStats{Confidence: 0.8}}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid observation: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(o *Observation)
		wantErr string
	}{
		{"missing target", func(o *Observation) { o.TargetID = "" }, "target_id"},
		{"unknown state", func(o *Observation) { o.State = "asleep" }, "unknown state"},
		{"unknown previous", func(o *Observation) { o.PreviousState = "zombie" }, "previous_state"},
		{"negative rtt", func(o *Observation) { o.RTTMs = -1 }, "rtt_ms"},
		{"confidence above one", func(o *Observation) { o.Model.Confidence = 1.5 }, "confidence"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			o := valid
			tc.mutate(&o)
			err := o.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tc.wantErr)
			}
		})
	}

	o := valid
	o.TargetID = ""
	if !errors.Is(o.Validate(), ErrMissingTarget) {
		t.Error("missing target should wrap ErrMissingTarget")
	}
}
