package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMouseClickRecordsCanonicalAnnotation(t *testing.T) {
	srv, _ := newTestServer(t)
	_, err := srv.sessions.EnsureSession()
	require.NoError(t, err)
	_, err = srv.recorder.Start(nil)
	require.NoError(t, err)

	body, _ := json.Marshal(MouseClickModel{X: 100, Y: 200})
	req := httptest.NewRequest(http.MethodPost, "/input/mouse/click", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMouseClickDeniedByPolicyReturns423(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.broker.UpdateSession("sess", true)
	require.False(t, srv.broker.CheckAccess())

	body, _ := json.Marshal(MouseClickModel{X: 1, Y: 1})
	req := httptest.NewRequest(http.MethodPost, "/input/mouse/click", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusLocked, w.Code)
}

func TestInputTraceStartStatusStop(t *testing.T) {
	srv, _ := newTestServer(t)
	_, err := srv.sessions.EnsureSession()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/input/trace/canonical/start", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/input/trace/canonical/status", nil)
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/input/trace/canonical/stop", nil)
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestInputTraceUnknownSourceRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/input/trace/bogus/status", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInputEventsDefaultsToCanonicalSource(t *testing.T) {
	srv, _ := newTestServer(t)
	_, err := srv.sessions.EnsureSession()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/input/events", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "events")
}

func TestInputEventsInvalidLimitRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/input/events?limit=not-a-number", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
