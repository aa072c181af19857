package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionsListEmpty(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Empty(t, body["sessions"])
}

func TestSessionSuspendUnknownSessionFails(t *testing.T) {
	srv, _ := newTestServer(t)
	payload, _ := json.Marshal(SessionSuspendModel{SessionID: "does-not-exist"})
	req := httptest.NewRequest(http.MethodPost, "/sessions/suspend", bytes.NewReader(payload))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.NotEqual(t, http.StatusOK, w.Code)
}

func TestSessionResumeRoundTripsThroughSuspend(t *testing.T) {
	srv, _ := newTestServer(t)
	dir, err := srv.sessions.EnsureSession()
	require.NoError(t, err)
	id := filepath.Base(dir)

	suspend, _ := json.Marshal(SessionSuspendModel{SessionID: id})
	req := httptest.NewRequest(http.MethodPost, "/sessions/suspend", bytes.NewReader(suspend))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	resume, _ := json.Marshal(SessionResumeModel{SessionID: id})
	req = httptest.NewRequest(http.MethodPost, "/sessions/resume", bytes.NewReader(resume))
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
