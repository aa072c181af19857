// Package httpapi implements the HTTP Control Surface: a thin net/http
// ServeMux mapping the specification's routes onto the session, broker,
// recorder, input trace and lifecycle packages, grounded on
// api/pkg/desktop/desktop.go's httpHandler() mux-wiring shape.
package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/winebot/controlplane/api/pkg/apierr"
	"github.com/winebot/controlplane/api/pkg/broker"
	"github.com/winebot/controlplane/api/pkg/eventbus"
	"github.com/winebot/controlplane/api/pkg/inputtrace"
	"github.com/winebot/controlplane/api/pkg/lifecycle"
	"github.com/winebot/controlplane/api/pkg/pathfs"
	"github.com/winebot/controlplane/api/pkg/process"
	"github.com/winebot/controlplane/api/pkg/recorder"
	"github.com/winebot/controlplane/api/pkg/session"
)

// BuildVersion is overridden at link time (-ldflags "-X ...BuildVersion=...").
var BuildVersion = "dev"

// APIVersion is the HTTP contract version reported on every response.
const APIVersion = "1"

// ArtifactSchemaVersion and EventSchemaVersion mirror types.SchemaVersion --
// kept as separate constants here since the HTTP contract version and the
// on-disk schema version are allowed to evolve independently.
const (
	ArtifactSchemaVersion = "1"
	EventSchemaVersion    = "1"
)

// Server wires the HTTP Control Surface to the control plane's components.
type Server struct {
	sessions   *session.Manager
	broker     *broker.Broker
	recorder   *recorder.Supervisor
	inputtrace *inputtrace.Manager
	lifecycle  *lifecycle.Supervisor
	registry   *process.Registry
	bus        *eventbus.Bus

	apiToken      string
	recordEnabled bool

	automation *automationRunner
}

// Config bundles what the Server needs to construct.
type Config struct {
	Sessions      *session.Manager
	Broker        *broker.Broker
	Recorder      *recorder.Supervisor
	InputTrace    *inputtrace.Manager
	Lifecycle     *lifecycle.Supervisor
	Registry      *process.Registry
	Bus           *eventbus.Bus
	Validator     *pathfs.Validator
	APIToken      string
	RecordEnabled bool
	Runner        CommandRunner // optional; defaults to exec.Command-backed runner
}

// New constructs a Server.
func New(cfg Config) *Server {
	runner := cfg.Runner
	if runner == nil {
		runner = defaultCommandRunner
	}
	return &Server{
		sessions:      cfg.Sessions,
		broker:        cfg.Broker,
		recorder:      cfg.Recorder,
		inputtrace:    cfg.InputTrace,
		lifecycle:     cfg.Lifecycle,
		registry:      cfg.Registry,
		bus:           cfg.Bus,
		apiToken:      cfg.APIToken,
		recordEnabled: cfg.RecordEnabled,
		automation:    &automationRunner{sessions: cfg.Sessions, broker: cfg.Broker, run: runner, validator: cfg.Validator},
	}
}

// Handler builds the routed, middleware-wrapped http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/environment", s.handleHealthEnvironment)
	mux.HandleFunc("/health/system", s.handleHealthSystem)
	mux.HandleFunc("/health/x11", s.handleHealthX11)
	mux.HandleFunc("/health/windows", s.handleHealthWindows)
	mux.HandleFunc("/health/wine", s.handleHealthWine)
	mux.HandleFunc("/health/tools", s.handleHealthTools)
	mux.HandleFunc("/health/storage", s.handleHealthStorage)
	mux.HandleFunc("/health/recording", s.handleHealthRecording)

	mux.HandleFunc("/sessions", s.handleSessionsList)
	mux.HandleFunc("/sessions/suspend", s.handleSessionSuspend)
	mux.HandleFunc("/sessions/resume", s.handleSessionResume)
	mux.HandleFunc("/sessions/", s.handleSessionControlRoutes)

	mux.HandleFunc("/recording/start", s.handleRecordingStart)
	mux.HandleFunc("/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("/recording/pause", s.handleRecordingPause)
	mux.HandleFunc("/recording/resume", s.handleRecordingResume)

	mux.HandleFunc("/input/mouse/click", s.handleInputMouseClick)
	mux.HandleFunc("/input/client/event", s.handleInputClientEvent)
	mux.HandleFunc("/input/trace/", s.handleInputTraceRoutes)
	mux.HandleFunc("/input/events", s.handleInputEvents)

	mux.HandleFunc("/apps/run", s.handleAppsRun)
	mux.HandleFunc("/run/ahk", s.handleRunAHK)
	mux.HandleFunc("/run/autoit", s.handleRunAutoIt)
	mux.HandleFunc("/run/python", s.handleRunPython)
	mux.HandleFunc("/inspect/window", s.handleInspectWindow)
	mux.HandleFunc("/screenshot", s.handleScreenshot)
	mux.HandleFunc("/windows/focus", s.handleWindowsFocus)
	mux.HandleFunc("/windows", s.handleWindowsList)

	mux.HandleFunc("/lifecycle/status", s.handleLifecycleStatus)
	mux.HandleFunc("/lifecycle/events", s.handleLifecycleEvents)
	mux.HandleFunc("/lifecycle/stream", s.handleLifecycleStream)
	mux.HandleFunc("/lifecycle/diag_bundle", s.handleLifecycleDiagBundle)
	mux.HandleFunc("/lifecycle/shutdown", s.handleLifecycleShutdown)
	mux.HandleFunc("/lifecycle/reset_workspace", s.handleLifecycleResetWorkspace)
	mux.HandleFunc("/openbox/reconfigure", s.handleOpenboxReconfigure)
	mux.HandleFunc("/openbox/restart", s.handleOpenboxRestart)

	return s.withLogging(s.withVersionHeaders(s.withAuth(mux)))
}

// withLogging logs every request at debug level once it completes.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logRequest(r, start)
	})
}

// withVersionHeaders stamps every response with the contract/schema version
// headers the specification requires.
func (s *Server) withVersionHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-WineBot-API-Version", APIVersion)
		w.Header().Set("X-WineBot-Build-Version", BuildVersion)
		w.Header().Set("X-WineBot-Artifact-Schema-Version", ArtifactSchemaVersion)
		w.Header().Set("X-WineBot-Event-Schema-Version", EventSchemaVersion)
		next.ServeHTTP(w, r)
	})
}

// withAuth rejects requests missing or mismatching the configured bearer
// token, except paths under /ui. No token configured disables the check
// entirely.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiToken == "" || strings.HasPrefix(r.URL.Path, "/ui") {
			next.ServeHTTP(w, r)
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got == "" || got != s.apiToken {
			writeError(w, apierr.Forbidden("auth_required", "missing or invalid bearer token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkAccess enforces the broker's policy gate on every agent-triggered
// input mutation, returning 423 on denial.
func (s *Server) checkAccess(w http.ResponseWriter) bool {
	if s.broker == nil || s.broker.CheckAccess() {
		return true
	}
	writeError(w, policyDenied())
	return false
}

func policyDenied() *apierr.Error {
	return apierr.Forbidden("agent_control_denied_by_policy", "agent control denied by policy")
}

// requireMethod writes 405 and returns false if r.Method != method.
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func logRequest(r *http.Request, start time.Time) {
	log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("elapsed", time.Since(start)).Msg("http request")
}
