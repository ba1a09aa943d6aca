package compute

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/presencewatch/presencewatch/agent/internal/classifier"
	"github.com/presencewatch/presencewatch/agent/internal/probe"
	"github.com/presencewatch/presencewatch/pkg/types"
)

// uptimeWindow is the number of recent probe outcomes tracked for uptime %.
const uptimeWindow = 20

// Result is the presence snapshot for one target after one probe, ready to be
// handed to the shipper and the metrics exporter.
type Result struct {
	TargetID   string
	TargetType string
	Timestamp  time.Time

	// RTTMs is the measured round-trip time; 0 when the probe failed.
	RTTMs float64

	Presence         string
	PreviousPresence string
	Changed          bool

	Stats               classifier.Stats
	UptimePct           float64
	ConsecutiveFailures int
	ErrorMessage        string             // non-empty when the probe failed
	Extra               map[string]float64 // probe-specific readings, copied from the sample
}

// Engine owns one classifier per target and turns probe samples into
// presence results.
//
// All exported methods are safe for concurrent use.
type Engine struct {
	offlineAfter int

	mu     sync.Mutex
	states map[string]*targetState
}

// NewEngine returns a ready-to-use Engine. A target is reported offline after
// offlineAfter consecutive failed probes.
func NewEngine(offlineAfter int) *Engine {
	if offlineAfter <= 0 {
		offlineAfter = 1
	}
	return &Engine{
		offlineAfter: offlineAfter,
		states:       make(map[string]*targetState),
	}
}

// Process ingests one probe sample and returns the target's presence.
//
// now is passed explicitly so callers (and tests) control the clock without
// sleeping. Use time.Now() in production.
//
// Successful samples go to the classifier (AddMeasurement, then
// DetermineState). Failed samples never reach it; they only count towards
// offline detection.
func (e *Engine) Process(s *probe.Sample, now time.Time) *Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stateFor(s.TargetID)
	success := s.Err == nil
	st.recordProbe(success)

	out := &Result{
		TargetID:         s.TargetID,
		TargetType:       s.TargetType,
		Timestamp:        now,
		PreviousPresence: st.presence,
		UptimePct:        st.uptimePct(),
	}
	if len(s.Extra) > 0 {
		out.Extra = make(map[string]float64, len(s.Extra))
		for k, v := range s.Extra {
			out.Extra[k] = v
		}
	}

	var state classifier.State
	if success {
		rtt := s.RTTMillis()
		if !classifier.Valid(rtt) {
			slog.Debug("compute: rtt outside model range, not learned",
				"target", s.TargetID, "rtt_ms", rtt)
		}
		st.cls.AddMeasurement(rtt)
		state = st.cls.DetermineState(rtt)
		st.failures = 0
		out.RTTMs = rtt
	} else {
		st.failures++
		out.ErrorMessage = s.Err.Error()
		slog.Warn("compute: probe failed",
			"target", s.TargetID, "consecutive", st.failures, "err", s.Err)
	}

	st.presence = nextPresence(st.presence, state, st.failures, e.offlineAfter)
	out.Presence = st.presence
	out.Changed = out.Presence != out.PreviousPresence
	out.ConsecutiveFailures = st.failures
	out.Stats = st.cls.DebugStats()

	if out.Changed {
		slog.Info("compute: presence changed",
			"target", s.TargetID,
			"from", out.PreviousPresence,
			"to", out.Presence,
			"threshold_ms", out.Stats.Threshold,
			"confidence", out.Stats.Confidence)
	}

	st.last = out
	return out
}

// Reset discards everything learned about a target, as after an explicit
// restart of its tracking. The target reports calibrating from now on; the
// returned Result carries that transition so it can be shipped. Reset returns
// nil for a target that was never probed.
func (e *Engine) Reset(id string, now time.Time) *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[id]
	if !ok {
		return nil
	}
	st.cls.Reset()
	st.failures = 0
	st.history = st.history[:0]

	out := &Result{
		TargetID:         id,
		Timestamp:        now,
		PreviousPresence: st.presence,
		Presence:         types.PresenceCalibrating,
		Stats:            st.cls.DebugStats(),
		UptimePct:        st.uptimePct(),
	}
	if st.last != nil {
		out.TargetType = st.last.TargetType
	}
	out.Changed = out.Presence != out.PreviousPresence
	st.presence = out.Presence
	st.last = out
	slog.Info("compute: target reset", "target", id, "from", out.PreviousPresence)
	return out
}

// Remove stops tracking a target and frees its classifier.
func (e *Engine) Remove(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, id)
}

// Snapshot returns the latest result of every target that has been probed,
// sorted by target ID.
func (e *Engine) Snapshot() []*Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*Result, 0, len(e.states))
	for _, st := range e.states {
		if st.last != nil {
			out = append(out, st.last)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetID < out[j].TargetID })
	return out
}

// targetState holds one target's classifier and probe history.
type targetState struct {
	cls      *classifier.Classifier
	presence string
	failures int
	history  []bool // probe outcomes, newest last
	last     *Result
}

func (e *Engine) stateFor(id string) *targetState {
	if st, ok := e.states[id]; ok {
		return st
	}
	st := &targetState{
		cls:      classifier.New(),
		presence: types.PresenceCalibrating,
	}
	e.states[id] = st
	return st
}

func (st *targetState) recordProbe(success bool) {
	if len(st.history) >= uptimeWindow {
		st.history = st.history[1:]
	}
	st.history = append(st.history, success)
}

func (st *targetState) uptimePct() float64 {
	if len(st.history) == 0 {
		return 100 // assume up before first observation
	}
	var ok int
	for _, s := range st.history {
		if s {
			ok++
		}
	}
	return float64(ok) / float64(len(st.history)) * 100
}
