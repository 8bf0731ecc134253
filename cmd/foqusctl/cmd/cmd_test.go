package cmd

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"

	"foqus-orchestrator/api/rest/routes"
	"foqus-orchestrator/core/lifecycle"
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

func newServer(t *testing.T) string {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := monitoring.NewCollector(reg)
	records := repository.NewMemoryStore()
	objects := storage.NewMemoryStore()
	bus := notify.NewMemoryBus()
	engine := lifecycle.NewEngine(records, objects, bus, metrics, lifecycle.DefaultOptions())
	sessions := session.NewOrchestrator(records, objects, bus, engine, session.Options{BulkConcurrency: 1})
	pages := pagination.NewPaginator(objects, storage.NewObjectLedgerProvider(objects), metrics, 3)

	r := mux.NewRouter()
	routes.SetupRoutes(r, sessions, pages, reg)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv.URL
}

func run(t *testing.T, url, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := RootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--url", url, "--user", "alice"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestSessionCommands(t *testing.T) {
	url := newServer(t)

	out, err := run(t, url, "", "session", "create")
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	require.NotEmpty(t, id)

	out, err = run(t, url, `[{"Simulation":"flowsheet"}]`, "session", "append", id, "-")
	require.NoError(t, err)
	assert.Len(t, strings.Fields(out), 1)

	out, err = run(t, url, "", "session", "start", id)
	require.NoError(t, err)
	assert.Contains(t, out, `"submitted": 1`)

	out, err = run(t, url, "", "session", "show", id, "--state", "submit")
	require.NoError(t, err)
	assert.Contains(t, out, `"state": "submit"`)

	out, err = run(t, url, "", "result", "request", id)
	require.NoError(t, err)
	assert.Equal(t, "0", strings.TrimSpace(out))
}

func TestResultGetRejectsBadPage(t *testing.T) {
	_, err := run(t, newServer(t), "", "result", "get", "sess-1", "first")
	assert.Error(t, err)
}
