package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/presencewatch/presencewatch/pkg/types"
)

// Entry is the latest observation of one target.
type Entry struct {
	Observation *types.Observation

	// UpdatedAt is the local receive time; liveness is judged on it.
	UpdatedAt time.Time

	// Since is when the target entered its current state, as far as this
	// server has seen.
	Since time.Time
}

// Store holds the latest Entry per target_id. Entries not refreshed within
// the TTL are hidden from List and removed by Run.
type Store struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	targets map[string]*Entry
}

// New returns an empty Store whose entries expire after ttl.
func New(ttl time.Duration) *Store {
	return &Store{
		ttl:     ttl,
		now:     time.Now,
		targets: make(map[string]*Entry),
	}
}

// TTL returns the configured time-to-live.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Put records obs for its target and reports whether it was accepted. An
// observation timestamped before the stored one, or carrying the stored
// observation's ID, is rejected: redelivered messages must neither roll a
// target back nor be reported twice. obs must not be modified afterwards.
func (s *Store) Put(obs *types.Observation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e := &Entry{Observation: obs, UpdatedAt: now, Since: now}
	if prev, ok := s.targets[obs.TargetID]; ok {
		if obs.Timestamp.Before(prev.Observation.Timestamp) || isRedelivery(prev.Observation, obs) {
			return false
		}
		if prev.Observation.State == obs.State {
			e.Since = prev.Since
		}
	}
	s.targets[obs.TargetID] = e
	return true
}

// Get returns the entry for targetID, live or not.
func (s *Store) Get(targetID string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.targets[targetID]
	return e, ok
}

// List returns the live entries ordered by target ID.
func (s *Store) List() []*Entry {
	s.mu.RLock()
	cutoff := s.cutoff(s.now())
	out := make([]*Entry, 0, len(s.targets))
	for _, e := range s.targets {
		if e.UpdatedAt.After(cutoff) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Observation.TargetID < out[j].Observation.TargetID
	})
	return out
}

// Count returns the number of held entries, stale ones included.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.targets)
}

// Evict drops every entry that is no longer live at now and returns how many
// were dropped.
func (s *Store) Evict(now time.Time) int {
	cutoff := s.cutoff(now)

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.targets {
		if !e.UpdatedAt.After(cutoff) {
			delete(s.targets, id)
			n++
		}
	}
	return n
}

// Run evicts stale entries every ttl/2, but no more than once a second,
// until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	every := max(s.ttl/2, time.Second)
	tick := time.NewTicker(every)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted stale targets", "count", n)
			}
		}
	}
}

func isRedelivery(prev, obs *types.Observation) bool {
	return obs.ID != "" && obs.ID == prev.ID
}

func (s *Store) cutoff(now time.Time) time.Time {
	return now.Add(-s.ttl)
}
