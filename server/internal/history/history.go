package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/presencewatch/presencewatch/pkg/types"
)

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

// Measurement is one persisted observation.
type Measurement struct {
	ID                  string    `json:"id"`
	TargetID            string    `json:"target_id"`
	Timestamp           time.Time `json:"timestamp"`
	RTTMs               float64   `json:"rtt_ms"`
	State               string    `json:"state"`
	ThresholdMs         float64   `json:"threshold_ms"`
	Confidence          float64   `json:"confidence"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	ErrorMessage        string    `json:"error_message,omitempty"`
}

// StateChange is a persisted presence transition.
type StateChange struct {
	TargetID  string    `json:"target_id"`
	Timestamp time.Time `json:"timestamp"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	RTTMs     float64   `json:"rtt_ms"`
}

// Target is the registry row of a target that has reported at least once.
type Target struct {
	TargetID   string    `json:"target_id"`
	TargetType string    `json:"target_type"`
	State      string    `json:"state"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

// Query narrows a history read. Zero fields are unconstrained; Limit <= 0
// means DefaultLimit.
type Query struct {
	TargetID string
	Since    time.Time
	Until    time.Time
	Limit    int
}

const (
	DefaultLimit = 500
	MaxLimit     = 10000
)

// History is a SQLite-backed observation log. It is safe for concurrent use.
type History struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies pending
// migrations.
func Open(path string) (*History, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &History{db: db}, nil
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}

// Record persists obs. Observations are deduplicated by ID, so redelivered
// messages are recorded once. A transition row is written when obs.Changed.
func (h *History) Record(ctx context.Context, obs *types.Observation) error {
	id := obs.ID
	if id == "" {
		id = uuid.NewString()
	}
	ts := obs.Timestamp.UnixMilli()

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO measurements
			(id, target_id, ts, rtt_ms, state, threshold_ms, confidence, consecutive_failures, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, obs.TargetID, ts, obs.RTTMs, obs.State,
		obs.Model.ThresholdMs, obs.Model.Confidence, obs.ConsecutiveFailures, obs.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("insert measurement: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil // duplicate
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO targets (target_id, target_type, state, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (target_id) DO UPDATE SET
			target_type = excluded.target_type,
			state       = CASE WHEN excluded.last_seen >= targets.last_seen THEN excluded.state ELSE targets.state END,
			first_seen  = MIN(targets.first_seen, excluded.first_seen),
			last_seen   = MAX(targets.last_seen, excluded.last_seen)`,
		obs.TargetID, obs.TargetType, obs.State, ts, ts,
	); err != nil {
		return fmt.Errorf("upsert target: %w", err)
	}

	if obs.Changed {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO state_changes (target_id, ts, from_state, to_state, rtt_ms)
			VALUES (?, ?, ?, ?, ?)`,
			obs.TargetID, ts, obs.PreviousState, obs.State, obs.RTTMs,
		); err != nil {
			return fmt.Errorf("insert state change: %w", err)
		}
	}

	return tx.Commit()
}

// Measurements returns observations matching q, newest first.
func (h *History) Measurements(ctx context.Context, q Query) ([]Measurement, error) {
	where, args := q.where()
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, target_id, ts, rtt_ms, state, threshold_ms, confidence, consecutive_failures, error_message
		FROM measurements`+where+`
		ORDER BY ts DESC, id
		LIMIT ?`, append(args, q.limit())...)
	if err != nil {
		return nil, fmt.Errorf("query measurements: %w", err)
	}
	defer rows.Close()

	out := []Measurement{}
	for rows.Next() {
		var m Measurement
		var ts int64
		if err := rows.Scan(&m.ID, &m.TargetID, &ts, &m.RTTMs, &m.State,
			&m.ThresholdMs, &m.Confidence, &m.ConsecutiveFailures, &m.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan measurement: %w", err)
		}
		m.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// StateChanges returns transitions matching q, newest first.
func (h *History) StateChanges(ctx context.Context, q Query) ([]StateChange, error) {
	where, args := q.where()
	rows, err := h.db.QueryContext(ctx, `
		SELECT target_id, ts, from_state, to_state, rtt_ms
		FROM state_changes`+where+`
		ORDER BY ts DESC, id DESC
		LIMIT ?`, append(args, q.limit())...)
	if err != nil {
		return nil, fmt.Errorf("query state changes: %w", err)
	}
	defer rows.Close()

	out := []StateChange{}
	for rows.Next() {
		var c StateChange
		var ts int64
		if err := rows.Scan(&c.TargetID, &ts, &c.From, &c.To, &c.RTTMs); err != nil {
			return nil, fmt.Errorf("scan state change: %w", err)
		}
		c.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// Targets returns every known target ordered by ID.
func (h *History) Targets(ctx context.Context) ([]Target, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT target_id, target_type, state, first_seen, last_seen
		FROM targets ORDER BY target_id`)
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	defer rows.Close()

	out := []Target{}
	for rows.Next() {
		var t Target
		var first, last int64
		if err := rows.Scan(&t.TargetID, &t.TargetType, &t.State, &first, &last); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		t.FirstSeen = time.UnixMilli(first).UTC()
		t.LastSeen = time.UnixMilli(last).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// Prune deletes measurements and transitions older than before and returns
// the number of rows removed. The target registry is kept.
func (h *History) Prune(ctx context.Context, before time.Time) (int64, error) {
	cutoff := before.UnixMilli()
	var total int64
	for _, table := range []string{"measurements", "state_changes"} {
		res, err := h.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE ts < ?", cutoff)
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// Run prunes rows older than retention once per interval until ctx is
// cancelled. A non-positive retention disables pruning.
func (h *History) Run(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := h.Prune(ctx, now.Add(-retention))
			if err != nil {
				slog.Warn("history: prune failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Debug("history: pruned rows", "count", n)
			}
		}
	}
}

func (q Query) where() (string, []any) {
	var clauses []string
	var args []any
	if q.TargetID != "" {
		clauses = append(clauses, "target_id = ?")
		args = append(args, q.TargetID)
	}
	if !q.Since.IsZero() {
		clauses = append(clauses, "ts >= ?")
		args = append(args, q.Since.UnixMilli())
	}
	if !q.Until.IsZero() {
		clauses = append(clauses, "ts < ?")
		args = append(args, q.Until.UnixMilli())
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (q Query) limit() int {
	switch {
	case q.Limit <= 0:
		return DefaultLimit
	case q.Limit > MaxLimit:
		return MaxLimit
	default:
		return q.Limit
	}
}
