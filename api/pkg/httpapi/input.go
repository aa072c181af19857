package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/winebot/controlplane/api/pkg/apierr"
	"github.com/winebot/controlplane/api/pkg/inputtrace"
	"github.com/winebot/controlplane/api/pkg/types"
)

// MouseClickModel is the POST /input/mouse/click body.
type MouseClickModel struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// handleInputMouseClick performs an agent-originated click, gated by the
// control broker, and records a request/complete pair in the canonical
// trace so latency can be derived from shared trace_id.
func (s *Server) handleInputMouseClick(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if !s.checkAccess(w) {
		return
	}
	var body MouseClickModel
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	traceID := uuid.NewString()
	x, y := body.X, body.Y
	s.appendCanonicalClick(traceID, types.PhaseRequest, x, y, "")

	if err := s.runAutomation(r.Context(), []string{"/automation/bin/x11.sh", "click-at", strconv.Itoa(x), strconv.Itoa(y)}, 10); err != nil {
		s.appendCanonicalClick(traceID, types.PhaseComplete, x, y, err.Error())
		writeError(w, err)
		return
	}
	s.appendCanonicalClick(traceID, types.PhaseComplete, x, y, "")
	writeJSON(w, http.StatusOK, map[string]string{"status": "clicked"})
}

// appendCanonicalClick records a request/complete pair for one click in both
// the recorder's overlay annotations and the canonical input_events.jsonl
// log; both lines of the pair carry the same trace_id.
func (s *Server) appendCanonicalClick(traceID string, phase types.Phase, x, y int, errMsg string) {
	if s.recorder != nil {
		message := "agent_click[" + traceID + "]"
		if errMsg != "" {
			message += ": " + errMsg
		}
		xv, yv := x, y
		_ = s.recorder.Annotate(message, &xv, &yv, string(phase), "api")
	}
	if s.inputtrace != nil {
		if err := s.inputtrace.AppendAgentClick(traceID, phase, x, y, errMsg); err != nil {
			log.Warn().Err(err).Str("trace_id", traceID).Msg("failed to append canonical agent click")
		}
	}
}

// handleInputClientEvent accepts free-form JSON from the noVNC viewer.
func (s *Server) handleInputClientEvent(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var ev types.TraceEvent
	if err := decodeJSON(r, &ev); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.inputtrace.ReceiveClientEvent(ev)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleInputTraceRoutes dispatches the five lifecycle triples
// /input/trace/{canonical|x11core|client|windows|network}/{status,start,stop}.
func (s *Server) handleInputTraceRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/input/trace/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 {
		writeError(w, apierr.NotFound("unknown route %s", r.URL.Path))
		return
	}
	source, op := parts[0], parts[1]

	name, ok := traceSourceName(source)
	if !ok {
		writeError(w, apierr.BadRequest("unknown input trace source %q", source))
		return
	}

	switch op {
	case "status":
		s.handleTraceStatus(w, r, name)
	case "start":
		s.handleTraceStart(w, r, name)
	case "stop":
		s.handleTraceStop(w, r, name)
	default:
		writeError(w, apierr.NotFound("unknown route %s", r.URL.Path))
	}
}

func traceSourceName(source string) (inputtrace.Name, bool) {
	switch source {
	case "canonical":
		return inputtrace.Canonical, true
	case "x11core":
		return inputtrace.X11Core, true
	case "client":
		return inputtrace.Client, true
	case "windows":
		return inputtrace.Windows, true
	case "network":
		return inputtrace.Network, true
	default:
		return "", false
	}
}

func (s *Server) handleTraceStatus(w http.ResponseWriter, r *http.Request, name inputtrace.Name) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	result, err := s.inputtrace.Status(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// TraceStartModel is the shared start(opts) body across all five sources.
type TraceStartModel struct {
	MotionSampleMs int      `json:"motion_sample_ms"`
	WindowsBackend string   `json:"windows_backend"`
	DebugKeys      []string `json:"debug_keys"`
	DebugSampleMs  int      `json:"debug_sample_ms"`
}

func (s *Server) handleTraceStart(w http.ResponseWriter, r *http.Request, name inputtrace.Name) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var body TraceStartModel
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	opts := inputtrace.StartOpts{
		MotionSampleMs: body.MotionSampleMs,
		WindowsBackend: body.WindowsBackend,
		DebugKeys:      body.DebugKeys,
		DebugSampleMs:  body.DebugSampleMs,
	}

	var (
		result inputtrace.StartResult
		err    error
	)
	switch name {
	case inputtrace.Canonical:
		result, err = s.inputtrace.StartCanonical(opts)
	case inputtrace.X11Core:
		result, err = s.inputtrace.StartX11Core(opts, s.x11DeviceResolver)
	case inputtrace.Client:
		result, err = s.inputtrace.StartClient()
	case inputtrace.Windows:
		result, err = s.inputtrace.StartWindows(opts)
	case inputtrace.Network:
		result, err = s.inputtrace.StartNetwork(opts, s.rfbProxyRunning)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTraceStop(w http.ResponseWriter, r *http.Request, name inputtrace.Name) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var (
		result inputtrace.StopResult
		err    error
	)
	switch name {
	case inputtrace.Canonical:
		result, err = s.inputtrace.StopCanonical()
	case inputtrace.X11Core:
		result, err = s.inputtrace.StopX11Core()
	case inputtrace.Client:
		result, err = s.inputtrace.StopClient()
	case inputtrace.Windows:
		result, err = s.inputtrace.StopWindows()
	case inputtrace.Network:
		result, err = s.inputtrace.StopNetwork()
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleInputEvents serves GET /input/events, routing the source query
// param to the matching log file, per original_source's input.py.
func (s *Server) handleInputEvents(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()

	limit := 200
	if v := q.Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, apierr.BadRequest("invalid limit %q", v))
			return
		}
		limit = parsed
	}
	var sinceMs int64
	if v := q.Get("since_epoch_ms"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, apierr.BadRequest("invalid since_epoch_ms %q", v))
			return
		}
		sinceMs = parsed
	}

	name, ok := traceSourceName(q.Get("source"))
	if !ok {
		name = inputtrace.Canonical
	}

	events, err := s.inputtrace.Events(name, inputtrace.EventsQuery{
		Limit:        limit,
		SinceEpochMs: sinceMs,
		Origin:       q.Get("origin"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "log_path": s.inputtrace.LogPath(sessionDirOrEmpty(s), name)})
}

func sessionDirOrEmpty(s *Server) string {
	dir, err := s.sessions.EnsureSession()
	if err != nil {
		return ""
	}
	return dir
}
