package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppsRunRequiresPath(t *testing.T) {
	srv, _ := newTestServer(t)
	body, _ := json.Marshal(AppRunModel{})
	req := httptest.NewRequest(http.MethodPost, "/apps/run", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAppsRunPrependsWineForExeExtension(t *testing.T) {
	cmd := buildAppCommand(`C:\apps\notepad.exe`, "--foo bar")
	assert.Equal(t, []string{"wine", `C:\apps\notepad.exe`, "--foo", "bar"}, cmd)
}

func TestAppsRunLeavesLinuxBinaryUnprefixed(t *testing.T) {
	cmd := buildAppCommand("/usr/bin/xterm", "")
	assert.Equal(t, []string{"/usr/bin/xterm"}, cmd)
}

func TestAppsRunSynchronous(t *testing.T) {
	srv, root := newTestServer(t)
	body, _ := json.Marshal(AppRunModel{Path: root + "/apps/true"})
	req := httptest.NewRequest(http.MethodPost, "/apps/run", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAppsRunRejectsPathOutsideAllowedPrefixes(t *testing.T) {
	srv, _ := newTestServer(t)
	ranCommand := false
	srv.automation.run = func(ctx context.Context, args []string, timeoutSeconds int) (string, string, error) {
		ranCommand = true
		return "", "", nil
	}

	body, _ := json.Marshal(AppRunModel{Path: "/etc/passwd"})
	req := httptest.NewRequest(http.MethodPost, "/apps/run", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "allowed prefixes")
	assert.False(t, ranCommand, "command must not be spawned for a rejected path")
}

func TestRunAHKWritesScriptAndInvokesInterpreter(t *testing.T) {
	srv, _ := newTestServer(t)
	_, err := srv.sessions.EnsureSession()
	assert.NoError(t, err)

	body, _ := json.Marshal(ScriptModel{Script: "MsgBox, hello"})
	req := httptest.NewRequest(http.MethodPost, "/run/ahk", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestInspectWindowRequiresTitleOrHandle(t *testing.T) {
	srv, _ := newTestServer(t)
	body, _ := json.Marshal(InspectWindowModel{})
	req := httptest.NewRequest(http.MethodPost, "/inspect/window", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWindowsListReturnsEmptyWhenNoWindows(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/windows", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
