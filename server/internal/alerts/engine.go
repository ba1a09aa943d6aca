package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/presencewatch/presencewatch/pkg/types"
	"github.com/presencewatch/presencewatch/server/internal/config"
)

const (
	defaultCooldown = 15 * time.Minute
	maxHistoryLen   = 200
	recentWindow    = time.Hour
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	TargetID   string     `json:"target_id"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"`
}

type rule struct {
	config.AlertRule
	cond condition
}

// Engine evaluates alert rules against incoming observations and delivers
// webhook notifications when rules fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	rules    []rule
	webhooks []config.WebhookConfig
	client   *http.Client
	now      func() time.Time

	mu       sync.Mutex
	active   map[string]*Alert    // key: "ruleName:targetID"
	lastFire map[string]time.Time // last fire time per key (for cooldown)
	history  []*Alert             // recently resolved alerts

	deliveries sync.WaitGroup
}

// New creates an Engine from the server alert configuration. It fails if any
// rule condition cannot be parsed. An Engine with no rules is valid and
// Evaluate becomes a no-op.
func New(cfg config.AlertsConfig) (*Engine, error) {
	rules := make([]rule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		c, err := parseCondition(r.Condition)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		if r.Cooldown <= 0 {
			r.Cooldown = defaultCooldown
		}
		if r.Severity == "" {
			r.Severity = "warning"
		}
		rules = append(rules, rule{AlertRule: r, cond: c})
	}
	return &Engine{
		rules:    rules,
		webhooks: cfg.Webhooks,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
	}, nil
}

// Evaluate tests all configured rules against obs.
// Alerts that fire are stored and webhook delivery is triggered asynchronously.
// Alerts that were firing but whose condition is now false are resolved.
func (e *Engine) Evaluate(obs *types.Observation) {
	if len(e.rules) == 0 {
		return
	}

	now := e.now()
	for _, r := range e.rules {
		fires, value := r.cond.eval(obs)
		var notify *Alert
		if fires {
			notify = e.fire(r, obs.TargetID, value, now)
		} else {
			notify = e.resolve(r, obs.TargetID, now)
		}
		if notify != nil {
			e.deliveries.Add(1)
			go func() {
				defer e.deliveries.Done()
				e.deliver(notify)
			}()
		}
	}
}

// fire records a new firing alert unless one is already active or the rule
// is cooling down. It returns a copy to deliver, or nil.
func (e *Engine) fire(r rule, targetID string, value float64, now time.Time) *Alert {
	key := r.Name + ":" + targetID

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.active[key]; ok {
		return nil
	}
	if last, ok := e.lastFire[key]; ok && now.Sub(last) < r.Cooldown {
		return nil
	}

	a := &Alert{
		ID:       uuid.NewString(),
		RuleName: r.Name,
		TargetID: targetID,
		Severity: r.Severity,
		Value:    value,
		Message: fmt.Sprintf("%s fired on %s: %s (value %.2f)",
			r.Name, targetID, r.Condition, value),
		FiredAt: now,
		State:   StateFiring,
	}
	e.active[key] = a
	e.lastFire[key] = now

	slog.Warn("alerts: alert fired",
		"rule", r.Name,
		"target", targetID,
		"value", value,
		"severity", r.Severity,
	)
	cp := *a
	return &cp
}

// resolve closes an active alert for the rule and target, if any.
func (e *Engine) resolve(r rule, targetID string, now time.Time) *Alert {
	key := r.Name + ":" + targetID

	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.active[key]
	if !ok {
		return nil
	}
	resolved := now
	a.State = StateResolved
	a.ResolvedAt = &resolved
	delete(e.active, key)

	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}

	slog.Info("alerts: alert resolved", "rule", r.Name, "target", targetID)
	cp := *a
	return &cp
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, sorted newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]*Alert, 0, len(e.active))

	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FiredAt.Equal(out[j].FiredAt) {
			return out[i].FiredAt.After(out[j].FiredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Wait blocks until every in-flight webhook delivery has finished.
func (e *Engine) Wait() {
	e.deliveries.Wait()
}
