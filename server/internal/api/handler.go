package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/presencewatch/presencewatch/pkg/types"
	"github.com/presencewatch/presencewatch/server/internal/alerts"
	"github.com/presencewatch/presencewatch/server/internal/history"
	"github.com/presencewatch/presencewatch/server/internal/store"
)

// HistoryReader is the read side of the history database.
type HistoryReader interface {
	Measurements(ctx context.Context, q history.Query) ([]history.Measurement, error)
	StateChanges(ctx context.Context, q history.Query) ([]history.StateChange, error)
	Targets(ctx context.Context) ([]history.Target, error)
}

// AlertLister returns the currently relevant alerts.
type AlertLister interface {
	Active() []*alerts.Alert
}

const apiPrefix = "/api/v1"

// Handler serves every /api/v1/* endpoint. Live state comes from the
// in-memory store; past state from the history database.
type Handler struct {
	store   *store.Store
	history HistoryReader
	alerts  AlertLister
	router  *mux.Router
}

// New creates a Handler and registers all routes. hist and al may be nil,
// in which case the endpoints backed by them return empty lists.
func New(st *store.Store, hist HistoryReader, al AlertLister) *Handler {
	h := &Handler{store: st, history: hist, alerts: al, router: mux.NewRouter()}

	// Registered on the root router: mux reports method mismatches inside
	// a subrouter as not found.
	for _, rt := range []struct {
		path string
		fn   http.HandlerFunc
	}{
		{"/health", h.health},
		{"/targets", h.listTargets},
		{"/targets/{id}", h.getTarget},
		{"/targets/{id}/measurements", h.measurements},
		{"/targets/{id}/transitions", h.transitions},
		{"/transitions", h.transitions},
		{"/registry", h.registry},
		{"/alerts", h.listAlerts},
		{"/snapshot", h.snapshot},
	} {
		h.router.HandleFunc(apiPrefix+rt.path, rt.fn).Methods(http.MethodGet)
	}

	h.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})
	h.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health: presence counts across live targets.
func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	entries := h.store.List()
	resp := HealthResponse{TargetCount: len(entries)}

	for _, e := range entries {
		switch e.Observation.State {
		case types.PresenceOnline:
			resp.OnlineCount++
		case types.PresenceStandby:
			resp.StandbyCount++
		case types.PresenceCalibrating:
			resp.CalibratingCount++
		case types.PresenceOffline:
			resp.OfflineCount++
		}
	}
	if h.alerts != nil {
		for _, a := range h.alerts.Active() {
			if a.State == alerts.StateFiring {
				resp.AlertCount++
			}
		}
	}

	switch {
	case len(entries) == 0:
		resp.State = "unknown"
	case resp.OfflineCount > 0:
		resp.State = "degraded"
	default:
		resp.State = "ok"
	}
	jsonResp(w, http.StatusOK, resp)
}

// listTargets returns GET /api/v1/targets: all live targets.
func (h *Handler) listTargets(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, h.liveTargets())
}

// getTarget returns GET /api/v1/targets/{id}: a single live target.
func (h *Handler) getTarget(w http.ResponseWriter, r *http.Request) {
	e, ok := h.store.Get(mux.Vars(r)["id"])
	// Stale entries that have not been evicted yet count as missing.
	if !ok || time.Since(e.UpdatedAt) > h.store.TTL() {
		jsonErr(w, http.StatusNotFound, "target not found")
		return
	}
	jsonResp(w, http.StatusOK, toTargetResponse(e))
}

// measurements returns GET /api/v1/targets/{id}/measurements from history.
func (h *Handler) measurements(w http.ResponseWriter, r *http.Request) {
	q, ok := parseQuery(w, r)
	if !ok {
		return
	}
	if h.history == nil {
		jsonResp(w, http.StatusOK, []history.Measurement{})
		return
	}
	out, err := h.history.Measurements(r.Context(), q)
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, out)
}

// transitions returns presence changes from history, for one target when
// the route carries {id} and for all targets otherwise.
func (h *Handler) transitions(w http.ResponseWriter, r *http.Request) {
	q, ok := parseQuery(w, r)
	if !ok {
		return
	}
	if h.history == nil {
		jsonResp(w, http.StatusOK, []history.StateChange{})
		return
	}
	out, err := h.history.StateChanges(r.Context(), q)
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, out)
}

// registry returns GET /api/v1/registry: every target ever seen, including
// those no longer reporting.
func (h *Handler) registry(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		jsonResp(w, http.StatusOK, []history.Target{})
		return
	}
	out, err := h.history.Targets(r.Context())
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, out)
}

// listAlerts returns GET /api/v1/alerts: firing and recently resolved alerts.
func (h *Handler) listAlerts(w http.ResponseWriter, _ *http.Request) {
	out := []*alerts.Alert{}
	if h.alerts != nil {
		out = append(out, h.alerts.Active()...)
	}
	jsonResp(w, http.StatusOK, out)
}

// snapshot returns GET /api/v1/snapshot: full JSON dump of all live targets.
func (h *Handler) snapshot(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, BuildSnapshot(h.store))
}

// BuildSnapshot assembles the snapshot payload from the live store.
func BuildSnapshot(st *store.Store) SnapshotResponse {
	entries := st.List()
	targets := make([]TargetResponse, 0, len(entries))
	for _, e := range entries {
		targets = append(targets, toTargetResponse(e))
	}
	return SnapshotResponse{
		Targets:     targets,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// --- helpers ----------------------------------------------------------------

func (h *Handler) liveTargets() []TargetResponse {
	entries := h.store.List()
	out := make([]TargetResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toTargetResponse(e))
	}
	return out
}

// parseQuery reads the history filters from the route and query string:
// since and until (RFC3339 or a duration back from now, e.g. "1h") and limit.
// It writes a 400 and reports false on malformed input.
func parseQuery(w http.ResponseWriter, r *http.Request) (history.Query, bool) {
	q := history.Query{TargetID: mux.Vars(r)["id"]}
	v := r.URL.Query()
	now := time.Now()

	var err error
	if s := v.Get("since"); s != "" {
		if q.Since, err = parseTime(s, now); err != nil {
			jsonErr(w, http.StatusBadRequest, "since: "+err.Error())
			return q, false
		}
	}
	if s := v.Get("until"); s != "" {
		if q.Until, err = parseTime(s, now); err != nil {
			jsonErr(w, http.StatusBadRequest, "until: "+err.Error())
			return q, false
		}
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			jsonErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return q, false
		}
		q.Limit = n
	}
	return q, true
}

func parseTime(s string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	return time.Parse(time.RFC3339, s)
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// toTargetResponse maps a store.Entry to its JSON representation.
func toTargetResponse(e *store.Entry) TargetResponse {
	obs := e.Observation
	return TargetResponse{
		TargetID:            obs.TargetID,
		TargetType:          obs.TargetType,
		State:               obs.State,
		PreviousState:       obs.PreviousState,
		Since:               e.Since.UTC().Format(time.RFC3339),
		RTTMs:               obs.RTTMs,
		Model:               obs.Model,
		UptimePct:           obs.UptimePct,
		ConsecutiveFailures: obs.ConsecutiveFailures,
		ErrorMessage:        obs.ErrorMessage,
		Extra:               obs.Extra,
		Diagnostics:         computeDiagnostics(obs),
		ObservedAt:          obs.Timestamp.UTC().Format(time.RFC3339),
		LastSeen:            e.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
