package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winebot/controlplane/api/pkg/types"
)

func TestControlGetReturnsSnapshot(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/sessions/abc123/control", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var state types.ControlState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
}

func TestControlGrantThenRenew(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.broker.UpdateSession("abc123", true)
	body, _ := json.Marshal(ControlLeaseModel{LeaseSeconds: 30})
	req := httptest.NewRequest(http.MethodPost, "/sessions/abc123/control/grant", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/sessions/abc123/control/renew", bytes.NewReader(body))
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUserIntentRejectsUnknownValue(t *testing.T) {
	srv, _ := newTestServer(t)
	body, _ := json.Marshal(UserIntentModel{Intent: "bogus"})
	req := httptest.NewRequest(http.MethodPost, "/sessions/abc123/user_intent", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserIntentAcceptsKnownValue(t *testing.T) {
	srv, _ := newTestServer(t)
	body, _ := json.Marshal(UserIntentModel{Intent: types.IntentSafeInterrupt})
	req := httptest.NewRequest(http.MethodPost, "/sessions/abc123/user_intent", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
