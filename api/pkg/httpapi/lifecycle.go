package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/winebot/controlplane/api/pkg/apierr"
	"github.com/winebot/controlplane/api/pkg/eventbus"
	"github.com/winebot/controlplane/api/pkg/lifecycle"
	"github.com/winebot/controlplane/api/pkg/pathfs"
	"github.com/winebot/controlplane/api/pkg/process"
	"github.com/winebot/controlplane/api/pkg/recorder"
	"github.com/winebot/controlplane/api/pkg/types"
)

func lifecycleLogPath(dir string) string { return filepath.Join(dir, "logs", "lifecycle.jsonl") }

// handleLifecycleStatus aggregates the broker, recorder and session state
// into one snapshot.
func (s *Server) handleLifecycleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	dir, err := s.sessions.EnsureSession()
	if err != nil {
		writeError(w, err)
		return
	}
	state, err := s.sessions.ReadState(dir)
	if err != nil {
		writeError(w, err)
		return
	}

	body := map[string]any{
		"session_dir":   dir,
		"session_state": state,
	}
	if s.broker != nil {
		body["control"] = s.broker.Snapshot()
	}
	if s.recorder != nil {
		recState, _, segment := s.recorder.Status()
		body["recording"] = map[string]any{"state": recState, "segment": segment}
	}
	writeJSON(w, http.StatusOK, body)
}

// handleLifecycleEvents tails logs/lifecycle.jsonl.
func (s *Server) handleLifecycleEvents(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			writeError(w, apierr.BadRequest("limit must be >= 1"))
			return
		}
		limit = parsed
	}

	dir, err := s.sessions.EnsureSession()
	if err != nil {
		writeError(w, err)
		return
	}
	events, err := readLifecycleEvents(dir, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func readLifecycleEvents(dir string, limit int) ([]types.LifecycleEvent, error) {
	lines, err := pathfs.TailLines(lifecycleLogPath(dir), limit)
	if err != nil {
		return nil, err
	}
	events := make([]types.LifecycleEvent, 0, len(lines))
	for _, line := range lines {
		var ev types.LifecycleEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// handleLifecycleStream is a supplemental SSE endpoint streaming lifecycle
// events live via the internal event bus, since GET /lifecycle/events only
// polls.
func (s *Server) handleLifecycleStream(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.bus == nil {
		writeError(w, apierr.New(apierr.KindIO, "event bus not configured"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apierr.New(apierr.KindIO, "streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := make(chan []byte, 16)
	unsub, err := s.bus.Subscribe(eventbus.SubjectLifecycleEvent, func(payload []byte) {
		select {
		case events <- payload:
		default:
		}
	})
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindIO, err, "subscribe to lifecycle events"))
		return
	}
	defer unsub()

	for {
		select {
		case <-r.Context().Done():
			return
		case payload := <-events:
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// handleLifecycleDiagBundle bundles the current session's manifest, recent
// lifecycle events and process registry snapshot into one JSON document,
// grounded on scripts/diagnostics/diag_bundle.py.
func (s *Server) handleLifecycleDiagBundle(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	dir, err := s.sessions.EnsureSession()
	if err != nil {
		writeError(w, err)
		return
	}
	manifest, err := s.sessions.ReadManifest(dir)
	if err != nil {
		writeError(w, err)
		return
	}
	events, err := readLifecycleEvents(dir, 200)
	if err != nil {
		writeError(w, err)
		return
	}

	var handles []process.Handle
	if s.registry != nil {
		for _, h := range s.registry.Snapshot() {
			handles = append(handles, *h)
		}
	}

	recState := recorder.StateIdle
	if s.recorder != nil {
		recState, _, _ = s.recorder.Status()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"generated_at":     types.NowUTC(time.Now()),
		"session_manifest": manifest,
		"lifecycle_events": events,
		"process_registry": handles,
		"recorder_state":   recState,
	})
}

// handleLifecycleShutdown issues a graceful shutdown per spec.md §4.G.
func (s *Server) handleLifecycleShutdown(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	q := r.URL.Query()
	delay := 5
	if v := q.Get("delay"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, apierr.BadRequest("invalid delay %q", v))
			return
		}
		delay = parsed
	}
	opts := lifecycle.ShutdownOpts{
		DelaySeconds: delay,
		WineShutdown: q.Get("wine_shutdown") != "false",
		PowerOff:     q.Get("power_off") == "true",
	}
	if err := s.lifecycle.Shutdown(r.Context(), opts); err != nil {
		writeError(w, err)
		return
	}
	status := "shutting_down"
	if opts.PowerOff {
		status = "powering_off"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "delay_seconds": delay})
}

// handleLifecycleResetWorkspace ensures the in-guest explorer shell is
// running and moves its window to the top-left corner (xdotool windowmove
// 0 0), grounded on
// original_source/api/routers/lifecycle.py's reset_workspace.
func (s *Server) handleLifecycleResetWorkspace(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	explorerPIDs, _ := process.FindProcesses("explorer.exe", false)
	if len(explorerPIDs) == 0 {
		go func() { _, _, _ = s.automation.run(r.Context(), []string{"wine", "explorer.exe"}, 0) }()
		time.Sleep(3 * time.Second)
	}
	_, _, _ = s.automation.run(r.Context(), []string{"xdotool", "search", "--class", "explorer", "windowmove", "0", "0"}, 5)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "workspace reset requested"})
}

func (s *Server) handleOpenboxReconfigure(w http.ResponseWriter, r *http.Request) {
	s.openboxControl(w, r, "--reconfigure", "reconfigured")
}

func (s *Server) handleOpenboxRestart(w http.ResponseWriter, r *http.Request) {
	s.openboxControl(w, r, "--restart", "restarted")
}

func (s *Server) openboxControl(w http.ResponseWriter, r *http.Request, flag, doneStatus string) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if _, _, err := s.automation.run(r.Context(), []string{"openbox", flag}, 5); err != nil {
		writeError(w, apierr.IO(err, "openbox %s", flag))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": doneStatus})
}
