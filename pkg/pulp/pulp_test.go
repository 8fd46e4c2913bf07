package pulp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e2llm/rpmrepo-export/pkg/faults"
	"github.com/e2llm/rpmrepo-export/pkg/logging"
	"github.com/e2llm/rpmrepo-export/pkg/remote"
)

func newClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	rest, err := remote.New(remote.ArtifactStoreTarget{URL: srv.URL, Username: "u", Password: "p"}, time.Second, logging.Discard())
	require.NoError(t, err)
	c := New(rest, 2*time.Second, logging.Discard())
	c.interval = time.Millisecond
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestEnsureExporterCreates(t *testing.T) {
	var created Exporter
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			assert.Equal(t, "almalinux-9-x86_64", r.URL.Query().Get("name"))
			writeJSON(w, map[string]any{"count": 0, "results": []any{}})
		case http.MethodPost:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			writeJSON(w, map[string]string{"pulp_href": "/pulp/api/v3/exporters/core/filesystem/1/"})
		}
	}))

	href, err := c.EnsureExporter(context.Background(), "almalinux-9-x86_64", "/srv/export/almalinux/9/BaseOS/x86_64/os/Packages", "hardlink")
	require.NoError(t, err)
	assert.Equal(t, "/pulp/api/v3/exporters/core/filesystem/1/", href)
	assert.Equal(t, "hardlink", created.Method)
}

func TestEnsureExporterUpdatesPath(t *testing.T) {
	var patched atomic.Bool
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/pulp/api/v3/exporters/core/filesystem/":
			writeJSON(w, map[string]any{"results": []Exporter{{Href: "/pulp/api/v3/exporters/core/filesystem/7/", Name: "x", Path: "/old", Method: "write"}}})
		case r.Method == http.MethodPatch:
			assert.Equal(t, "/pulp/api/v3/exporters/core/filesystem/7/", r.URL.Path)
			patched.Store(true)
			writeJSON(w, map[string]string{"task": "/pulp/api/v3/tasks/3/"})
		case r.URL.Path == "/pulp/api/v3/tasks/3/":
			writeJSON(w, Task{Href: "/pulp/api/v3/tasks/3/", State: TaskCompleted})
		}
	}))

	href, err := c.EnsureExporter(context.Background(), "x", "/new", "hardlink")
	require.NoError(t, err)
	assert.True(t, patched.Load())
	assert.Equal(t, "/pulp/api/v3/exporters/core/filesystem/7/", href)
}

func TestLatestVersionAndPublications(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/pulp/api/v3/repositories/rpm/rpm/10/":
			writeJSON(w, map[string]string{"latest_version_href": "/pulp/api/v3/repositories/rpm/rpm/10/versions/4/"})
		case "/pulp/api/v3/publications/rpm/rpm/":
			assert.Equal(t, "/pulp/api/v3/repositories/rpm/rpm/10/versions/4/", r.URL.Query().Get("repository_version"))
			writeJSON(w, map[string]any{"results": []map[string]string{{"pulp_href": "/pub/1/"}, {"pulp_href": "/pub/2/"}}})
		}
	}))

	v, err := c.LatestVersion(context.Background(), "/pulp/api/v3/repositories/rpm/rpm/10/")
	require.NoError(t, err)
	assert.Equal(t, "/pulp/api/v3/repositories/rpm/rpm/10/versions/4/", v)

	pubs, err := c.Publications(context.Background(), v)
	require.NoError(t, err)
	assert.Equal(t, []string{"/pub/1/", "/pub/2/"}, pubs)
}

func TestExportPollsTask(t *testing.T) {
	var polls atomic.Int32
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/exporters/1/exports/":
			body, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"repository_version":"/v/4/"}`, string(body))
			writeJSON(w, map[string]string{"task": "/tasks/9/"})
		case "/tasks/9/":
			state := TaskRunning
			if polls.Add(1) >= 3 {
				state = TaskCompleted
			}
			writeJSON(w, Task{Href: "/tasks/9/", State: state})
		}
	}))

	require.NoError(t, c.Export(context.Background(), "/exporters/1/", "/v/4/"))
	assert.Equal(t, int32(3), polls.Load())
}

func TestWaitTaskFailed(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"pulp_href": "/tasks/1/", "state": "failed", "error": map[string]string{"description": "disk full"}})
	}))

	_, err := c.WaitTask(context.Background(), "/tasks/1/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, faults.KindTransient, faults.KindOf(err))
}

func TestWaitTaskTimesOut(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, Task{Href: "/tasks/1/", State: TaskWaiting})
	}))
	c.taskTimeout = 20 * time.Millisecond

	_, err := c.WaitTask(context.Background(), "/tasks/1/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still waiting")
}
