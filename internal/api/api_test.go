package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelian/calsync/internal/mapping"
	"github.com/mycelian/calsync/internal/model"
	"github.com/mycelian/calsync/internal/services"
	"github.com/mycelian/calsync/internal/store/sqlite"
	"github.com/mycelian/calsync/internal/syncer"
	"github.com/mycelian/calsync/internal/synclog"
)

type fakePuller struct {
	res *syncer.PullResult
}

func (f *fakePuller) SyncIn(_ context.Context, userID string) *syncer.PullResult {
	f.res.UserID = userID
	return f.res
}

type fakeHealth struct{ up bool }

func (f fakeHealth) IsHealthy() bool             { return f.up }
func (f fakeHealth) Components() map[string]bool { return map[string]bool{"store": f.up} }

type testAPI struct {
	router   *mux.Router
	mappings *mapping.Store
	logs     *synclog.Logger
	puller   *fakePuller
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	st, err := sqlite.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.DB().Close() })

	m := mapping.New(st, zerolog.Nop())
	logs := synclog.New(50, zerolog.Nop())
	p := &fakePuller{res: &syncer.PullResult{}}
	return &testAPI{
		router: NewRouter(Deps{
			Events:      services.NewEventService(st, m, zerolog.Nop()),
			Calendars:   services.NewCalendarService(st),
			Connections: services.NewConnectionService(st),
			Puller:      p,
			Logs:        logs,
			Health:      fakeHealth{up: true},
			Log:         zerolog.Nop(),
		}),
		mappings: m,
		logs:     logs,
		puller:   p,
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestEventLifecycle(t *testing.T) {
	a := newTestAPI(t)

	rr := a.do(t, "POST", "/api/users/u1/calendars", map[string]string{"name": "Work"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	cal := decode[model.LocalCalendar](t, rr)
	assert.True(t, cal.IsDefault)

	rr = a.do(t, "POST", "/api/users/u1/events", map[string]interface{}{
		"title":     "Planning",
		"startTime": "2024-05-02T09:00:00Z",
		"endTime":   "2024-05-02T10:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	ev := decode[model.LocalEvent](t, rr)
	assert.Equal(t, cal.ID, ev.CalendarID)
	path := fmt.Sprintf("/api/users/u1/events/%d", ev.ID)

	rr = a.do(t, "PUT", path, map[string]interface{}{
		"title":     "Planning (moved)",
		"startTime": "2024-05-02T11:00:00Z",
		"endTime":   "2024-05-02T12:00:00Z",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Planning (moved)", decode[model.LocalEvent](t, rr).Title)

	rr = a.do(t, "GET", "/api/users/u1/events?from=2024-05-02T00:00:00Z&to=2024-05-03T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, decode[map[string]interface{}](t, rr)["count"])

	require.NoError(t, a.mappings.StoreExternalID(context.Background(), ev.ID, model.ProviderGoogle, "g-1"))
	rr = a.do(t, "GET", path+"/mappings", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var ms struct {
		Mappings []model.ExternalEventMapping `json:"mappings"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ms))
	require.Len(t, ms.Mappings, 1)
	assert.Equal(t, "g-1", ms.Mappings[0].ExternalID)

	rr = a.do(t, "DELETE", path, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = a.do(t, "GET", path, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = a.do(t, "DELETE", path, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestEventValidationErrors(t *testing.T) {
	a := newTestAPI(t)
	require.Equal(t, http.StatusCreated, a.do(t, "POST", "/api/users/u1/calendars", map[string]string{"name": "Work"}).Code)

	rr := a.do(t, "POST", "/api/users/u1/events", "{not json")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = a.do(t, "POST", "/api/users/u1/events", map[string]interface{}{
		"title":     "Backwards",
		"startTime": "2024-05-02T10:00:00Z",
		"endTime":   "2024-05-02T09:00:00Z",
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "endTime", decode[map[string]interface{}](t, rr)["field"])

	rr = a.do(t, "GET", "/api/users/u1/events/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = a.do(t, "GET", "/api/users/u1/events?from=tomorrow", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = a.do(t, "POST", "/api/users/u1/calendars", map[string]string{"name": "x", "color": "red"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestOccurrences(t *testing.T) {
	a := newTestAPI(t)
	require.Equal(t, http.StatusCreated, a.do(t, "POST", "/api/users/u1/calendars", map[string]string{"name": "Work"}).Code)
	rr := a.do(t, "POST", "/api/users/u1/events", map[string]interface{}{
		"title":          "Daily",
		"startTime":      "2024-05-01T08:00:00Z",
		"endTime":        "2024-05-01T08:15:00Z",
		"recurrenceRule": "FREQ=DAILY",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = a.do(t, "GET", "/api/users/u1/occurrences?from=2024-05-01T00:00:00Z&to=2024-05-08T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.EqualValues(t, 7, decode[map[string]interface{}](t, rr)["count"])

	rr = a.do(t, "GET", "/api/users/u1/occurrences", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestConnections(t *testing.T) {
	a := newTestAPI(t)

	rr := a.do(t, "PUT", "/api/users/u1/connections/google", map[string]string{"accessToken": "secret-token"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.NotContains(t, rr.Body.String(), "secret-token")

	rr = a.do(t, "PUT", "/api/users/u1/connections/apple", map[string]string{"feedUrl": "ftp://nope"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = a.do(t, "PUT", "/api/users/u1/connections/yahoo", map[string]string{"accessToken": "x"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = a.do(t, "GET", "/api/users/u1/connections", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, decode[map[string]interface{}](t, rr)["count"])

	assert.Equal(t, http.StatusNoContent, a.do(t, "DELETE", "/api/users/u1/connections/google", nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(t, "DELETE", "/api/users/u1/connections/outlook", nil).Code)
}

func TestPull(t *testing.T) {
	a := newTestAPI(t)
	a.puller.res = &syncer.PullResult{
		Events:   make([]model.NormalizedEvent, 3),
		Created:  2,
		Skipped:  1,
		Failures: map[model.Provider]error{model.ProviderOutlook: errors.New("outlook: 503")},
	}

	rr := a.do(t, "POST", "/api/users/u1/sync/pull", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var body struct {
		UserID   string            `json:"userId"`
		Pulled   int               `json:"pulled"`
		Created  int               `json:"created"`
		Skipped  int               `json:"skipped"`
		Failures map[string]string `json:"failures"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "u1", body.UserID)
	assert.Equal(t, 3, body.Pulled)
	assert.Equal(t, 2, body.Created)
	assert.Equal(t, 1, body.Skipped)
	assert.Equal(t, "outlook: 503", body.Failures["outlook"])

	a.puller.res = &syncer.PullResult{Err: errors.New("connection table unavailable")}
	rr = a.do(t, "POST", "/api/users/u1/sync/pull", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestSyncLogs(t *testing.T) {
	a := newTestAPI(t)
	a.logs.Info("sync_out", model.ProviderGoogle, "u1", "pushed")
	a.logs.Error("sync_out", model.ProviderOutlook, "u1", "push failed")
	a.logs.Info("sync_in", model.ProviderGoogle, "u2", "pulled")

	rr := a.do(t, "GET", "/api/sync/logs?provider=google", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Logs []model.SyncLogEntry `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Logs, 2)
	assert.Equal(t, "pushed", body.Logs[0].Message)

	rr = a.do(t, "GET", "/api/sync/logs?userId=u1&limit=1", nil)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Logs, 1)
	assert.Equal(t, "push failed", body.Logs[0].Message)

	assert.Equal(t, http.StatusBadRequest, a.do(t, "GET", "/api/sync/logs?provider=yahoo", nil).Code)

	assert.Equal(t, http.StatusNoContent, a.do(t, "DELETE", "/api/sync/logs", nil).Code)
	assert.Zero(t, a.logs.Len())
}

func TestHealthAndMetrics(t *testing.T) {
	a := newTestAPI(t)
	rr := a.do(t, "GET", "/api/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "healthy", decode[map[string]interface{}](t, rr)["status"])

	rr = a.do(t, "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}
