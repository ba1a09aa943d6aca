package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presencewatch/presencewatch/pkg/types"
	"github.com/presencewatch/presencewatch/server/internal/alerts"
	"github.com/presencewatch/presencewatch/server/internal/api"
	"github.com/presencewatch/presencewatch/server/internal/history"
	"github.com/presencewatch/presencewatch/server/internal/store"
)

// --- test helpers -----------------------------------------------------------

func newStore(obs ...*types.Observation) *store.Store {
	st := store.New(5 * time.Minute)
	for _, o := range obs {
		st.Put(o)
	}
	return st
}

func observation(id, state string) *types.Observation {
	return &types.Observation{
		TargetID:   id,
		TargetType: "http",
		Timestamp:  time.Now().UTC(),
		RTTMs:      35,
		State:      state,
		Model: types.ModelStats{
			LowCentroidMs:  40,
			HighCentroidMs: 900,
			ThresholdMs:    470,
			Confidence:     0.86,
			SampleCount:    100,
		},
		UptimePct: 100,
	}
}

type fakeHistory struct {
	lastQuery history.Query
	err       error
}

func (f *fakeHistory) Measurements(_ context.Context, q history.Query) ([]history.Measurement, error) {
	f.lastQuery = q
	if f.err != nil {
		return nil, f.err
	}
	return []history.Measurement{{ID: "m1", TargetID: q.TargetID, RTTMs: 35, State: types.PresenceOnline}}, nil
}

func (f *fakeHistory) StateChanges(_ context.Context, q history.Query) ([]history.StateChange, error) {
	f.lastQuery = q
	if f.err != nil {
		return nil, f.err
	}
	return []history.StateChange{{TargetID: "phone", From: types.PresenceOnline, To: types.PresenceStandby}}, nil
}

func (f *fakeHistory) Targets(context.Context) ([]history.Target, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []history.Target{{TargetID: "gone", State: types.PresenceOffline}}, nil
}

type fakeAlerts []*alerts.Alert

func (f fakeAlerts) Active() []*alerts.Alert { return f }

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, h, http.MethodGet, path)
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rr.Body).Decode(v), "body: %s", rr.Body.String())
}

// --- health -----------------------------------------------------------------

func TestHealth_EmptyStore(t *testing.T) {
	rr := get(t, api.New(newStore(), nil, nil), "/api/v1/health")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp api.HealthResponse
	decode(t, rr, &resp)
	assert.Equal(t, "unknown", resp.State)
	assert.Zero(t, resp.TargetCount)
}

func TestHealth_CountsByPresence(t *testing.T) {
	st := newStore(
		observation("a", types.PresenceOnline),
		observation("b", types.PresenceOnline),
		observation("c", types.PresenceStandby),
		observation("d", types.PresenceCalibrating),
		observation("e", types.PresenceOffline),
	)
	al := fakeAlerts{
		{ID: "1", State: alerts.StateFiring},
		{ID: "2", State: alerts.StateResolved},
	}
	rr := get(t, api.New(st, nil, al), "/api/v1/health")

	var resp api.HealthResponse
	decode(t, rr, &resp)
	assert.Equal(t, api.HealthResponse{
		State:            "degraded",
		TargetCount:      5,
		OnlineCount:      2,
		StandbyCount:     1,
		CalibratingCount: 1,
		OfflineCount:     1,
		AlertCount:       1,
	}, resp)
}

func TestHealth_OKWithoutOffline(t *testing.T) {
	st := newStore(observation("a", types.PresenceOnline), observation("b", types.PresenceStandby))
	var resp api.HealthResponse
	decode(t, get(t, api.New(st, nil, nil), "/api/v1/health"), &resp)
	assert.Equal(t, "ok", resp.State)
}

func TestHealth_MethodNotAllowed(t *testing.T) {
	rr := do(t, api.New(newStore(), nil, nil), http.MethodPost, "/api/v1/health")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
}

// --- targets ----------------------------------------------------------------

func TestListTargets_Empty(t *testing.T) {
	rr := get(t, api.New(newStore(), nil, nil), "/api/v1/targets")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestListTargets_SortedWithFields(t *testing.T) {
	st := newStore(observation("tablet", types.PresenceStandby), observation("phone", types.PresenceOnline))
	var out []api.TargetResponse
	decode(t, get(t, api.New(st, nil, nil), "/api/v1/targets"), &out)

	require.Len(t, out, 2)
	assert.Equal(t, "phone", out[0].TargetID)
	assert.Equal(t, "tablet", out[1].TargetID)

	p := out[0]
	assert.Equal(t, types.PresenceOnline, p.State)
	assert.Equal(t, 470.0, p.Model.ThresholdMs)
	assert.NotEmpty(t, p.Since)
	assert.NotEmpty(t, p.LastSeen)
	assert.NotEmpty(t, p.Diagnostics)
}

func TestGetTarget_Found(t *testing.T) {
	st := newStore(observation("phone", types.PresenceOnline))
	rr := get(t, api.New(st, nil, nil), "/api/v1/targets/phone")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp api.TargetResponse
	decode(t, rr, &resp)
	assert.Equal(t, "phone", resp.TargetID)
	require.Len(t, resp.Diagnostics, 1)
	assert.Equal(t, "healthy", resp.Diagnostics[0].Key)
}

func TestGetTarget_NotFound(t *testing.T) {
	rr := get(t, api.New(newStore(), nil, nil), "/api/v1/targets/missing")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	var resp map[string]string
	decode(t, rr, &resp)
	assert.Equal(t, "target not found", resp["error"])
}

func TestUnknownRoute_JSON404(t *testing.T) {
	rr := get(t, api.New(newStore(), nil, nil), "/api/v1/pipelines")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
}

// --- history ----------------------------------------------------------------

func TestMeasurements_PassesFilters(t *testing.T) {
	fh := &fakeHistory{}
	h := api.New(newStore(), fh, nil)

	rr := get(t, h, "/api/v1/targets/phone/measurements?since=2026-01-01T00:00:00Z&limit=25")
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, "phone", fh.lastQuery.TargetID)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), fh.lastQuery.Since.UTC())
	assert.Equal(t, 25, fh.lastQuery.Limit)

	var out []history.Measurement
	decode(t, rr, &out)
	require.Len(t, out, 1)
	assert.Equal(t, "phone", out[0].TargetID)
}

func TestMeasurements_DurationSince(t *testing.T) {
	fh := &fakeHistory{}
	before := time.Now()
	get(t, api.New(newStore(), fh, nil), "/api/v1/targets/phone/measurements?since=1h")

	assert.WithinDuration(t, before.Add(-time.Hour), fh.lastQuery.Since, 5*time.Second)
}

func TestMeasurements_BadQuery(t *testing.T) {
	h := api.New(newStore(), &fakeHistory{}, nil)
	for _, path := range []string{
		"/api/v1/targets/phone/measurements?since=yesterday",
		"/api/v1/targets/phone/measurements?until=soon",
		"/api/v1/targets/phone/measurements?limit=0",
		"/api/v1/targets/phone/measurements?limit=ten",
	} {
		assert.Equal(t, http.StatusBadRequest, get(t, h, path).Code, path)
	}
}

func TestMeasurements_HistoryError(t *testing.T) {
	h := api.New(newStore(), &fakeHistory{err: errors.New("disk on fire")}, nil)
	rr := get(t, h, "/api/v1/targets/phone/measurements")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestTransitions_AllAndPerTarget(t *testing.T) {
	fh := &fakeHistory{}
	h := api.New(newStore(), fh, nil)

	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/transitions").Code)
	assert.Empty(t, fh.lastQuery.TargetID)

	rr := get(t, h, "/api/v1/targets/phone/transitions")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "phone", fh.lastQuery.TargetID)

	var out []history.StateChange
	decode(t, rr, &out)
	require.Len(t, out, 1)
	assert.Equal(t, types.PresenceStandby, out[0].To)
}

func TestRegistry(t *testing.T) {
	var out []history.Target
	decode(t, get(t, api.New(newStore(), &fakeHistory{}, nil), "/api/v1/registry"), &out)
	require.Len(t, out, 1)
	assert.Equal(t, "gone", out[0].TargetID)
}

func TestHistoryEndpoints_WithoutHistory(t *testing.T) {
	h := api.New(newStore(), nil, nil)
	for _, path := range []string{
		"/api/v1/targets/phone/measurements",
		"/api/v1/transitions",
		"/api/v1/registry",
	} {
		rr := get(t, h, path)
		assert.Equal(t, http.StatusOK, rr.Code, path)
		assert.JSONEq(t, "[]", rr.Body.String(), path)
	}
}

// --- alerts and snapshot ----------------------------------------------------

func TestAlerts_EmptyArray(t *testing.T) {
	rr := get(t, api.New(newStore(), nil, nil), "/api/v1/alerts")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestAlerts_Listed(t *testing.T) {
	al := fakeAlerts{{ID: "x", RuleName: "gone", TargetID: "phone", State: alerts.StateFiring}}
	var out []alerts.Alert
	decode(t, get(t, api.New(newStore(), nil, al), "/api/v1/alerts"), &out)
	require.Len(t, out, 1)
	assert.Equal(t, "gone", out[0].RuleName)
}

func TestSnapshot_AllLiveTargets(t *testing.T) {
	st := newStore(observation("a", types.PresenceOnline), observation("b", types.PresenceOffline))
	var resp api.SnapshotResponse
	decode(t, get(t, api.New(st, nil, nil), "/api/v1/snapshot"), &resp)

	assert.Len(t, resp.Targets, 2)
	_, err := time.Parse(time.RFC3339, resp.GeneratedAt)
	assert.NoError(t, err)
}

func TestRoutes_WrongMethodIs405(t *testing.T) {
	h := api.New(newStore(), nil, nil)
	for _, path := range []string{
		"/api/v1/health",
		"/api/v1/targets",
		"/api/v1/targets/phone",
		"/api/v1/targets/phone/measurements",
		"/api/v1/targets/phone/transitions",
		"/api/v1/transitions",
		"/api/v1/registry",
		"/api/v1/alerts",
		"/api/v1/snapshot",
	} {
		t.Run(path, func(t *testing.T) {
			rr := do(t, h, http.MethodDelete, path)
			assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
			assert.JSONEq(t, `{"error":"method not allowed"}`, rr.Body.String())
		})
	}
}

func TestRoutes_UnknownPathIs404(t *testing.T) {
	rr := get(t, api.New(newStore(), nil, nil), "/api/v1/nope")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"error":"not found"}`, rr.Body.String())
}
