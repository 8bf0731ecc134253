package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"foqus-orchestrator/api/rest/handlers"
	"foqus-orchestrator/core/lifecycle"
	"foqus-orchestrator/core/models"
	"foqus-orchestrator/core/monitoring"
	"foqus-orchestrator/core/notify"
	"foqus-orchestrator/core/pagination"
	"foqus-orchestrator/core/repository"
	"foqus-orchestrator/core/session"
	"foqus-orchestrator/storage"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type server struct {
	router  *mux.Router
	engine  *lifecycle.Engine
	records *repository.MemoryStore
	objects *storage.MemoryStore
}

func newServer(t *testing.T) *server {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := monitoring.NewCollector(reg)
	s := &server{
		router:  mux.NewRouter(),
		records: repository.NewMemoryStore(),
		objects: storage.NewMemoryStore(),
	}
	bus := notify.NewMemoryBus()
	s.engine = lifecycle.NewEngine(s.records, s.objects, bus, metrics, lifecycle.DefaultOptions())
	sessions := session.NewOrchestrator(s.records, s.objects, bus, s.engine, session.Options{BulkConcurrency: 2})
	pages := pagination.NewPaginator(s.objects, storage.NewObjectLedgerProvider(s.objects), metrics, 3)
	SetupRoutes(s.router, sessions, pages, reg)
	return s
}

func (s *server) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(handlers.UserHeader, "alice")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") && strings.HasPrefix(rec.Body.String(), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	s := newServer(t)

	rec, body := s.do(t, http.MethodPost, "/v1/session", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	id := body["id"].(string)
	require.NotEmpty(t, id)

	rec, body = s.do(t, http.MethodPost, "/v1/session/"+id+"/append",
		`[{"Simulation":"flowsheet","Input":{"x":1}},{"Simulation":"flowsheet"}]`)
	require.Equal(t, http.StatusCreated, rec.Code)
	jobs := body["jobs"].([]interface{})
	require.Len(t, jobs, 2)

	rec, body = s.do(t, http.MethodGet, "/v1/session/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["jobs"], 2)

	rec, body = s.do(t, http.MethodPost, "/v1/session/"+id+"/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, body["submitted"])

	first := jobs[0].(string)
	output := `{"y":2}`
	require.NoError(t, s.records.UpdateJob(context.Background(), first, repository.JobUpdate{Output: &output}))
	_, err := s.engine.ApplyStatus(context.Background(), lifecycle.StatusRequest{
		JobID: first, Status: models.JobStateSuccess, User: "alice", Timestamp: time.Now(),
	})
	require.NoError(t, err)

	rec, body = s.do(t, http.MethodPost, "/v1/session/"+id+"/result", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, body["page"])

	rec, _ = s.do(t, http.MethodGet, "/v1/session/"+id+"/result/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page models.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page, 1)
	assert.Equal(t, first, page[0].ID)
	assert.JSONEq(t, output, string(page[0].Output))

	rec, body = s.do(t, http.MethodGet, "/v1/session/"+id+"/result/2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, body["error"])

	rec, body = s.do(t, http.MethodPost, "/v1/session/"+id+"/kill", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{jobs[1]}, body["jobs"])

	rec, body = s.do(t, http.MethodGet, "/v1/session/"+id+"/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	states := body["states"].(map[string]interface{})
	assert.Equal(t, 1.0, states["success"])
	assert.Equal(t, 1.0, states["terminate"])
	assert.Equal(t, 2.0, body["jobs"].(map[string]interface{})["finished"])
}

func TestAppendRejectsBadDefinitions(t *testing.T) {
	s := newServer(t)

	rec, body := s.do(t, http.MethodPost, "/v1/session/sess-1/append", `[{"Input":{}}]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "simulation is required")

	rec, _ = s.do(t, http.MethodPost, "/v1/session/sess-1/append", `{broken`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, s.objects.Keys())
}

func TestStopOnlyTouchesSubmittedJobs(t *testing.T) {
	s := newServer(t)
	require.NoError(t, s.records.PutJobs(context.Background(), []*models.Job{
		{ID: "a", SessionID: "sess-1", User: "alice", State: models.JobStateSubmit},
		{ID: "b", SessionID: "sess-1", User: "alice", State: models.JobStateRunning},
	}))

	rec, body := s.do(t, http.MethodPost, "/v1/session/sess-1/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{"a"}, body["jobs"])

	rec, body = s.do(t, http.MethodGet, "/v1/session/sess-1?state=running", "")
	require.Equal(t, http.StatusOK, rec.Code)
	jobs := body["jobs"].([]interface{})
	require.Len(t, jobs, 1)
	assert.Equal(t, "b", jobs[0].(map[string]interface{})["id"])
}

func TestLedgerInconsistencyIsNotEchoed(t *testing.T) {
	s := newServer(t)
	require.NoError(t, s.objects.Put(context.Background(), storage.PagedKey("alice", "sess-1", "ghost"), []byte("1")))

	rec, body := s.do(t, http.MethodPost, "/v1/session/sess-1/result", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Result ledger inconsistent", body["error"])
}

func TestRejectsUserWithPathSeparator(t *testing.T) {
	s := newServer(t)
	for _, path := range []string{"/v1/session", "/v1/session/sess-1/append", "/v1/session/sess-1/result"} {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(`[{"Simulation":"flowsheet"}]`))
		req.Header.Set(handlers.UserHeader, "alice/../bob")
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
	assert.Empty(t, s.objects.Keys())
	jobs, err := s.records.QuerySessionJobs(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t)

	rec, _ := s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	s.do(t, http.MethodPost, "/v1/session/sess-1/result", "")
	rec, _ = s.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "foqus_")
}

func TestJobEvents(t *testing.T) {
	s := newServer(t)
	store := repository.NewMemoryEventStore()
	SetupEventRoutes(s.router, store)
	for _, name := range []string{"job.setup", "job.running"} {
		require.NoError(t, store.AppendEvent(context.Background(), models.EventRecord{
			JobID: "job-1", Name: name, Body: []byte(`{}`), At: time.Now(),
		}))
	}

	rec, body := s.do(t, http.MethodGet, "/v1/job/job-1/events?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	events := body["events"].([]interface{})
	require.Len(t, events, 1)
	assert.Equal(t, "job.running", events[0].(map[string]interface{})["name"])

	rec, body = s.do(t, http.MethodGet, "/v1/job/job-2/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["events"])

	rec, _ = s.do(t, http.MethodGet, "/v1/job/job-1/events?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
