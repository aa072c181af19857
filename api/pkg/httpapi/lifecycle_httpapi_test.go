package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleStatusAggregatesSessionAndControl(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/lifecycle/status", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "control")
	assert.Contains(t, body, "recording")
}

func TestLifecycleEventsRejectsZeroLimit(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/lifecycle/events?limit=0", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLifecycleEventsDefaultLimit(t *testing.T) {
	srv, _ := newTestServer(t)
	_, err := srv.sessions.EnsureSession()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/lifecycle/events", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "events")
}

func TestLifecycleDiagBundleIncludesManifestAndRegistry(t *testing.T) {
	srv, _ := newTestServer(t)
	_, err := srv.sessions.EnsureSession()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/lifecycle/diag_bundle", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "session_manifest")
	assert.Contains(t, body, "process_registry")
	assert.Contains(t, body, "lifecycle_events")
}

func TestLifecycleShutdownGraceful(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/lifecycle/shutdown?delay=1", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "shutting_down", body["status"])
}

func TestLifecycleShutdownInvalidDelayRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/lifecycle/shutdown?delay=soon", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLifecycleResetWorkspace(t *testing.T) {
	if testing.Short() {
		t.Skip("waits about 3s for explorer.exe to appear; skip in -short")
	}
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/lifecycle/reset_workspace", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOpenboxReconfigureAndRestart(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/openbox/reconfigure", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/openbox/restart", nil)
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
