// Package inputtrace implements the Multi-layer Input Trace Fabric: five
// independent capture sources (canonical/XI2, x11_core, client, windows,
// network/RFB) sharing one lifecycle shape -- status/start/stop/events --
// and one append-only JSONL log format per source.
//
// Process supervision mirrors the recorder supervisor's pattern (an
// injectable spawn function plus a mutex-guarded handle), itself grounded on
// api/pkg/desktop/session_registry.go's registry locking shape.
package inputtrace

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/winebot/controlplane/api/pkg/apierr"
	"github.com/winebot/controlplane/api/pkg/broker"
	"github.com/winebot/controlplane/api/pkg/pathfs"
	"github.com/winebot/controlplane/api/pkg/process"
	"github.com/winebot/controlplane/api/pkg/types"
)

// Name identifies one of the five capture sources.
type Name string

const (
	Canonical Name = "canonical"
	X11Core   Name = "x11_core"
	Client    Name = "client"
	Windows   Name = "windows"
	Network   Name = "network"
)

// Status is the common status(S) response shape.
type Status struct {
	Running    bool   `json:"running"`
	State      string `json:"state"`
	PID        *int   `json:"pid,omitempty"`
	Backend    string `json:"backend,omitempty"`
	LogPath    string `json:"log_path"`
	SessionDir string `json:"session_dir"`
}

// StartOpts carries the union of per-source start options; only fields
// relevant to the targeted source are consulted.
type StartOpts struct {
	MotionSampleMs  int
	WindowsBackend  string // auto | hook | ahk; "" means use configured default
	DebugKeys       []string
	DebugSampleMs   int
}

// StartResult is the common start(S, opts) response shape.
type StartResult struct {
	Status  string `json:"status"` // started | already_running | backend_failed | ...
	Backend string `json:"backend,omitempty"`
}

// StopResult is the common stop(S) response shape.
type StopResult struct {
	Status string `json:"status"` // stopped | already_stopped
}

// Spawner starts a capture child process for a source, given its log path
// and any source-specific arguments. Production wires real binaries
// (the XI2 test-stream reader, the X core per-device test tool, the RFB
// proxy); tests inject stubs.
type Spawner func(logPath string, args map[string]string) (*os.Process, error)

// Manager owns all five capture sources for the current session.
type Manager struct {
	mu       sync.Mutex
	sessions sessionResolver
	registry *process.Registry
	broker   *broker.Broker

	canonicalSpawn Spawner
	x11CoreSpawn   Spawner
	networkSpawn   Spawner
	windowsHook    Spawner
	windowsAHK     Spawner

	defaultWindowsBackend string
	networkEnabled        bool

	sources map[Name]*sourceState
}

// sessionResolver is the subset of *session.Manager the fabric needs; kept
// as an interface so tests can fake a session directory without the full
// filesystem contract.
type sessionResolver interface {
	EnsureSession() (string, error)
}

type sourceState struct {
	mu      sync.Mutex
	running bool
	state   string
	pid     int
	backend string
}

// Config bundles what the Manager needs to construct.
type Config struct {
	Sessions              sessionResolver
	Registry              *process.Registry
	Broker                *broker.Broker
	CanonicalSpawn        Spawner
	X11CoreSpawn          Spawner
	NetworkSpawn          Spawner
	WindowsHookSpawn      Spawner
	WindowsAHKSpawn       Spawner
	DefaultWindowsBackend string
	NetworkEnabled        bool
}

// New constructs a Manager with all five sources idle.
func New(cfg Config) *Manager {
	m := &Manager{
		sessions:              cfg.Sessions,
		registry:              cfg.Registry,
		broker:                cfg.Broker,
		canonicalSpawn:        cfg.CanonicalSpawn,
		x11CoreSpawn:          cfg.X11CoreSpawn,
		networkSpawn:          cfg.NetworkSpawn,
		windowsHook:           cfg.WindowsHookSpawn,
		windowsAHK:            cfg.WindowsAHKSpawn,
		defaultWindowsBackend: cfg.DefaultWindowsBackend,
		networkEnabled:        cfg.NetworkEnabled,
		sources:               map[Name]*sourceState{},
	}
	for _, n := range []Name{Canonical, X11Core, Client, Windows, Network} {
		m.sources[n] = &sourceState{state: "stopped"}
	}
	return m
}

func (m *Manager) sidecarBase(name Name) string {
	switch name {
	case Canonical:
		return "input_trace"
	default:
		return "input_trace_" + string(name)
	}
}

func (m *Manager) pidPath(dir string, name Name) string {
	return filepath.Join(dir, m.sidecarBase(name)+".pid")
}
func (m *Manager) statePath(dir string, name Name) string {
	return filepath.Join(dir, m.sidecarBase(name)+".state")
}
func (m *Manager) backendPath(dir string) string {
	return filepath.Join(dir, "input_trace_windows.backend")
}

// LogPath returns the append-only log file for a source.
func (m *Manager) LogPath(dir string, name Name) string {
	switch name {
	case Canonical:
		return filepath.Join(dir, "logs", "input_events.jsonl")
	default:
		return filepath.Join(dir, "logs", "input_events_"+string(name)+".jsonl")
	}
}

// Status reports status(S).
func (m *Manager) Status(name Name) (Status, error) {
	dir, err := m.sessions.EnsureSession()
	if err != nil {
		return Status{}, err
	}
	st, ok := m.sources[name]
	if !ok {
		return Status{}, apierr.BadRequest("unknown input trace source %q", name)
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	result := Status{
		Running:    st.running && isAlive(st.pid),
		State:      st.state,
		LogPath:    m.LogPath(dir, name),
		SessionDir: dir,
		Backend:    st.backend,
	}
	if st.running && st.pid != 0 {
		pid := st.pid
		result.PID = &pid
	}
	return result, nil
}

// isAlive performs the same /proc existence check as process.Registry,
// avoiding a dependency on that package's unexported helper.
func isAlive(pid int) bool {
	if pid == 0 {
		return false
	}
	_, err := os.Stat(fmt.Sprintf("/proc/%d", pid))
	return err == nil
}

func (m *Manager) writeSidecars(dir string, name Name, pid int, state, backend string) {
	if pid != 0 {
		if err := pathfs.AtomicWriteSmall(m.pidPath(dir, name), []byte(fmt.Sprintf("%d", pid))); err != nil {
			log.Warn().Err(err).Str("source", string(name)).Msg("failed to persist input trace pid")
		}
	} else {
		_ = os.Remove(m.pidPath(dir, name))
	}
	if err := pathfs.AtomicWriteSmall(m.statePath(dir, name), []byte(state)); err != nil {
		log.Warn().Err(err).Str("source", string(name)).Msg("failed to persist input trace state")
	}
	if name == Windows && backend != "" {
		if err := pathfs.AtomicWriteSmall(m.backendPath(dir), []byte(backend)); err != nil {
			log.Warn().Err(err).Msg("failed to persist windows backend sidecar")
		}
	}
}

func (m *Manager) appendTraceEvent(dir string, name Name, ev types.TraceEvent) error {
	data, err := marshalEvent(ev)
	if err != nil {
		return err
	}
	return pathfs.AppendLine(m.LogPath(dir, name), data)
}

func nowMs() int64 { return time.Now().UnixMilli() }
