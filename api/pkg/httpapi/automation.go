package httpapi

import (
	"context"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/winebot/controlplane/api/pkg/apierr"
	"github.com/winebot/controlplane/api/pkg/broker"
	"github.com/winebot/controlplane/api/pkg/inputtrace"
	"github.com/winebot/controlplane/api/pkg/pathfs"
	"github.com/winebot/controlplane/api/pkg/session"
)

// CommandRunner executes an automation command with a timeout, returning
// stdout and stderr separately and any execution error. Production runs the real
// binary; tests inject a stub so Workflow/agent tests never shell out.
type CommandRunner func(ctx context.Context, args []string, timeoutSeconds int) (stdout string, stderr string, err error)

func defaultCommandRunner(ctx context.Context, args []string, timeoutSeconds int) (string, string, error) {
	cctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
	defer cancel()
	cmd := exec.CommandContext(cctx, args[0], args[1:]...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// automationRunner is the shared collaborator behind the /apps, /run,
// /inspect, /screenshot and /windows routes, grounded on
// original_source/api/routers/automation.py.
type automationRunner struct {
	sessions  *session.Manager
	broker    *broker.Broker
	run       CommandRunner
	validator *pathfs.Validator
}

// runAutomation is a convenience wrapper returning only the error, for callers (like
// /input/mouse/click) that only care whether the command succeeded.
func (s *Server) runAutomation(ctx context.Context, args []string, timeoutSeconds int) error {
	_, stderr, err := s.automation.run(ctx, args, timeoutSeconds)
	if err != nil {
		if stderr != "" {
			return apierr.IO(err, "%s", stderr)
		}
		return apierr.IO(err, "command failed: %s", strings.Join(args, " "))
	}
	return nil
}

func (a *automationRunner) checkAccess(w http.ResponseWriter) bool {
	if a.broker == nil || a.broker.CheckAccess() {
		return true
	}
	writeError(w, policyDenied())
	return false
}

// AppRunModel is the POST /apps/run body.
type AppRunModel struct {
	Path   string `json:"path"`
	Args   string `json:"args"`
	Detach bool   `json:"detach"`
}

func (s *Server) handleAppsRun(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) || !s.automation.checkAccess(w) {
		return
	}
	var body AppRunModel
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Path == "" {
		writeError(w, apierr.BadRequest("path is required"))
		return
	}
	resolved, err := s.automation.validator.Validate(body.Path)
	if err != nil {
		writeError(w, err)
		return
	}

	cmd := buildAppCommand(resolved, body.Args)
	if body.Detach {
		go func() {
			if _, _, err := s.automation.run(context.Background(), cmd, 0); err != nil {
				log.Warn().Err(err).Strs("cmd", cmd).Msg("detached app run failed")
			}
		}()
		writeJSON(w, http.StatusOK, map[string]string{"status": "detached"})
		return
	}

	stdout, stderr, err := s.automation.run(r.Context(), cmd, 30)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "failed", "stdout": stdout, "stderr": stderr})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "finished", "stdout": stdout, "stderr": stderr})
}

// buildAppCommand decides whether to prepend "wine", mirroring
// automation.py's extension-based heuristic.
func buildAppCommand(path, args string) []string {
	lower := strings.ToLower(path)
	isWindows := strings.HasSuffix(lower, ".exe") || strings.HasSuffix(lower, ".bat") ||
		strings.HasSuffix(lower, ".msi") || strings.HasSuffix(lower, ".cmd")

	cmd := []string{path}
	if isWindows {
		cmd = []string{"wine", path}
	}
	if args != "" {
		cmd = append(cmd, strings.Fields(args)...)
	}
	return cmd
}

func (s *Server) writeScript(ext, content string) (string, error) {
	dir, err := s.sessions.EnsureSession()
	if err != nil {
		return "", err
	}
	scriptsDir := filepath.Join(dir, "scripts")
	if err := os.MkdirAll(scriptsDir, 0o755); err != nil {
		return "", apierr.IO(err, "create scripts dir")
	}
	name := "run_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8] + ext
	path := filepath.Join(scriptsDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", apierr.IO(err, "write script %s", path)
	}
	return path, nil
}

// ScriptModel is the shared body for the three /run/{ahk,autoit,python}
// endpoints.
type ScriptModel struct {
	Script string `json:"script"`
}

func (s *Server) handleRunAHK(w http.ResponseWriter, r *http.Request) {
	s.runScript(w, r, ".ahk", "ahk")
}

func (s *Server) handleRunAutoIt(w http.ResponseWriter, r *http.Request) {
	s.runScript(w, r, ".au3", "autoit")
}

func (s *Server) handleRunPython(w http.ResponseWriter, r *http.Request) {
	s.runScript(w, r, ".py", "python3")
}

func (s *Server) runScript(w http.ResponseWriter, r *http.Request, ext, interpreter string) {
	if !requireMethod(w, r, http.MethodPost) || !s.automation.checkAccess(w) {
		return
	}
	var body ScriptModel
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	path, err := s.writeScript(ext, body.Script)
	if err != nil {
		writeError(w, err)
		return
	}
	stdout, _, err := s.automation.run(r.Context(), []string{interpreter, path}, 30)
	if err != nil {
		writeError(w, apierr.IO(err, "run %s script", interpreter))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "stdout": stdout})
}

// InspectWindowModel is the POST /inspect/window body.
type InspectWindowModel struct {
	Title           string `json:"title"`
	Handle          string `json:"handle"`
	IncludeControls bool   `json:"include_controls"`
	MaxControls     int    `json:"max_controls"`
}

func (s *Server) handleInspectWindow(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) || !s.automation.checkAccess(w) {
		return
	}
	var body InspectWindowModel
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Title == "" && body.Handle == "" {
		writeError(w, apierr.BadRequest("must provide title or handle"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "details": map[string]any{}})
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	dir, err := s.sessions.EnsureSession()
	if err != nil {
		writeError(w, err)
		return
	}
	screenshotsDir := filepath.Join(dir, "screenshots")
	if err := os.MkdirAll(screenshotsDir, 0o755); err != nil {
		writeError(w, apierr.IO(err, "create screenshots dir"))
		return
	}
	path := filepath.Join(screenshotsDir, "screenshot_"+time.Now().UTC().Format("20060102T150405")+".png")

	if _, _, err := s.automation.run(r.Context(), []string{"/automation/bin/screenshot.sh", path}, 15); err != nil {
		writeError(w, apierr.IO(err, "capture screenshot"))
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		writeError(w, apierr.IO(err, "screenshot capture produced no file"))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Screenshot-Path", path)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// FocusModel is the POST /windows/focus body.
type FocusModel struct {
	WindowID string `json:"window_id"`
}

func (s *Server) handleWindowsFocus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) || !s.automation.checkAccess(w) {
		return
	}
	var body FocusModel
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if _, _, err := s.automation.run(r.Context(), []string{"/automation/bin/x11.sh", "focus-window", body.WindowID}, 10); err != nil {
		writeError(w, apierr.IO(err, "focus window %s", body.WindowID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "focused"})
}

func (s *Server) handleWindowsList(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	stdout, _, err := s.automation.run(r.Context(), []string{"/automation/bin/x11.sh", "list-windows"}, 10)
	windows := []map[string]string{}
	if err == nil {
		for _, line := range strings.Split(stdout, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			parts := strings.SplitN(line, " ", 2)
			if len(parts) == 2 {
				windows = append(windows, map[string]string{"id": parts[0], "title": parts[1]})
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"windows": windows})
}

// x11DeviceResolver looks for "Virtual core pointer" and "Virtual core
// keyboard" in `xinput list --short` and, for each name found, returns the
// X server's fixed master id (2 and 3); ids are not parsed from the output.
// If xinput fails, both results are nil.
func (s *Server) x11DeviceResolver() (*inputtrace.DeviceRef, *inputtrace.DeviceRef, error) {
	stdout, _, err := s.automation.run(context.Background(), []string{"xinput", "list", "--short"}, 5)
	if err != nil {
		return nil, nil, nil
	}
	var pointer, keyboard *inputtrace.DeviceRef
	for _, line := range strings.Split(stdout, "\n") {
		if strings.Contains(line, "Virtual core pointer") && pointer == nil {
			pointer = &inputtrace.DeviceRef{ID: 2, Name: "Virtual core pointer"}
		}
		if strings.Contains(line, "Virtual core keyboard") && keyboard == nil {
			keyboard = &inputtrace.DeviceRef{ID: 3, Name: "Virtual core keyboard"}
		}
	}
	return pointer, keyboard, nil
}

// rfbProxyRunning checks whether the RFB-exporting x11vnc process is alive.
func (s *Server) rfbProxyRunning() bool {
	stdout, _, err := s.automation.run(context.Background(), []string{"pgrep", "-x", "x11vnc"}, 5)
	return err == nil && strings.TrimSpace(stdout) != ""
}
