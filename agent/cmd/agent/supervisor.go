package main

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/presencewatch/presencewatch/agent/internal/compute"
	"github.com/presencewatch/presencewatch/agent/internal/config"
	"github.com/presencewatch/presencewatch/agent/internal/probe"
)

// resultSink receives every result the agent produces; the shipper in
// production.
type resultSink interface {
	Ship(res *compute.Result)
}

type proberFactory func(t config.Target, timeout time.Duration) (probe.Prober, error)

// targetPlan is the difference between the running and the configured
// target sets.
type targetPlan struct {
	added   []config.Target
	removed []string
	changed []targetChange
}

type targetChange struct {
	old, new config.Target
}

// remeasured reports whether the change points the probe at something else,
// so what was learned about the old target no longer applies.
func (c targetChange) remeasured() bool {
	return c.old.Type != c.new.Type || c.old.Endpoint != c.new.Endpoint
}

// diffTargets compares running targets with the configured list by ID. All
// slices in the plan are sorted by ID.
func diffTargets(running map[string]config.Target, configured []config.Target) targetPlan {
	var p targetPlan
	want := make(map[string]bool, len(configured))
	for _, t := range configured {
		want[t.ID] = true
		old, ok := running[t.ID]
		switch {
		case !ok:
			p.added = append(p.added, t)
		case old != t:
			p.changed = append(p.changed, targetChange{old: old, new: t})
		}
	}
	for id := range running {
		if !want[id] {
			p.removed = append(p.removed, id)
		}
	}
	sort.Slice(p.added, func(i, j int) bool { return p.added[i].ID < p.added[j].ID })
	sort.Strings(p.removed)
	sort.Slice(p.changed, func(i, j int) bool { return p.changed[i].new.ID < p.changed[j].new.ID })
	return p
}

// supervisor runs one probe loop per target and reconciles the set of loops
// with the configuration on every reload.
type supervisor struct {
	ctx       context.Context
	engine    *compute.Engine
	sink      resultSink
	newProber proberFactory
	interval  time.Duration
	timeout   time.Duration
	now       func() time.Time

	mu    sync.Mutex
	loops map[string]*targetLoop
}

type targetLoop struct {
	target config.Target
	prober probe.Prober
	cancel context.CancelFunc
	done   chan struct{}
}

func newSupervisor(ctx context.Context, engine *compute.Engine, sink resultSink, interval, timeout time.Duration) *supervisor {
	return &supervisor{
		ctx:       ctx,
		engine:    engine,
		sink:      sink,
		newProber: probe.New,
		interval:  interval,
		timeout:   timeout,
		now:       time.Now,
		loops:     make(map[string]*targetLoop),
	}
}

// apply brings the running loops in line with targets. Dropped targets stop
// and are forgotten by the engine; targets whose type or endpoint changed
// restart calibration; other edits only rebuild the prober.
func (s *supervisor) apply(targets []config.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()

	running := make(map[string]config.Target, len(s.loops))
	for id, l := range s.loops {
		running[id] = l.target
	}
	plan := diffTargets(running, targets)

	for _, id := range plan.removed {
		s.stop(id)
		s.engine.Remove(id)
		slog.Info("agent: target removed", "target", id)
	}
	for _, c := range plan.changed {
		s.stop(c.new.ID)
		if c.remeasured() {
			if res := s.engine.Reset(c.new.ID, s.now()); res != nil {
				s.sink.Ship(res)
			}
		}
		s.start(c.new)
		slog.Info("agent: target updated", "target", c.new.ID, "recalibrating", c.remeasured())
	}
	for _, t := range plan.added {
		s.start(t)
	}
}

// running returns the IDs of the targets with an active loop, sorted.
func (s *supervisor) running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.loops))
	for id := range s.loops {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// stopAll stops every loop and closes its prober.
func (s *supervisor) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.loops {
		s.stop(id)
	}
}

// start must be called with s.mu held.
func (s *supervisor) start(t config.Target) {
	p, err := s.newProber(t, s.timeout)
	if err != nil {
		slog.Error("agent: skipping target, could not build prober", "target", t.ID, "err", err)
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	l := &targetLoop{target: t, prober: p, cancel: cancel, done: make(chan struct{})}
	s.loops[t.ID] = l

	go func() {
		defer close(l.done)
		runTarget(ctx, t, p, s.engine, s.sink, s.interval)
	}()
	slog.Info("agent: target registered", "target", t.ID, "type", t.Type, "endpoint", t.Endpoint)
}

// stop must be called with s.mu held.
func (s *supervisor) stop(id string) {
	l, ok := s.loops[id]
	if !ok {
		return
	}
	delete(s.loops, id)
	l.cancel()
	<-l.done
	if c, ok := l.prober.(probe.Closer); ok {
		c.Close()
	}
}

// runTarget probes one target every interval, feeds the engine and hands the
// result to sink, until ctx is cancelled.
func runTarget(ctx context.Context, t config.Target, p probe.Prober, engine *compute.Engine, sink resultSink, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s, err := p.Probe(ctx)
			if err != nil {
				slog.Warn("agent: probe error", "target", t.ID, "err", err)
				continue
			}
			res := engine.Process(s, now)
			sink.Ship(res)
			slog.Debug("agent: probed",
				"target", t.ID,
				"rtt_ms", res.RTTMs,
				"presence", res.Presence,
				"threshold_ms", res.Stats.Threshold,
			)
		}
	}
}
