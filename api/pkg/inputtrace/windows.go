package inputtrace

import (
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/winebot/controlplane/api/pkg/apierr"
)

// hookStartupPoll is how long auto backend selection waits for the hook
// child to still be alive before falling back to ahk.
const hookStartupPoll = 200 * time.Millisecond

// StartWindows starts the in-guest capture source. backend is one of
// "auto" (try hook, fall back to ahk), "hook", or "ahk"; empty uses the
// configured default.
func (m *Manager) StartWindows(opts StartOpts) (StartResult, error) {
	st := m.sources[Windows]
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.running && isAlive(st.pid) {
		return StartResult{Status: "already_running"}, nil
	}

	dir, err := m.sessions.EnsureSession()
	if err != nil {
		return StartResult{}, err
	}

	backend := opts.WindowsBackend
	if backend == "" {
		backend = m.defaultWindowsBackend
	}
	if backend == "" {
		backend = "auto"
	}

	if (backend == "hook" || backend == "auto") && len(opts.DebugKeys) > 0 {
		log.Warn().Msg("debug_keys/debug_sample_ms are ignored by the hook backend")
	}

	switch backend {
	case "hook":
		pid, ok := m.startHook(dir)
		if !ok {
			return StartResult{}, apierr.New(apierr.KindIO, "windows hook backend failed to start").WithReason("backend_failed")
		}
		return m.commitWindowsStart(st, dir, pid, "hook"), nil

	case "ahk":
		pid, err := m.startAHK(dir, opts)
		if err != nil {
			return StartResult{}, apierr.Wrap(apierr.KindIO, err, "start ahk backend")
		}
		return m.commitWindowsStart(st, dir, pid, "ahk"), nil

	case "auto":
		if pid, ok := m.startHook(dir); ok {
			return m.commitWindowsStart(st, dir, pid, "hook"), nil
		}
		pid, err := m.startAHK(dir, opts)
		if err != nil {
			return StartResult{}, apierr.Wrap(apierr.KindIO, err, "start ahk fallback backend")
		}
		return m.commitWindowsStart(st, dir, pid, "ahk"), nil

	default:
		return StartResult{}, apierr.BadRequest("unknown windows backend %q", backend)
	}
}

func (m *Manager) commitWindowsStart(st *sourceState, dir string, pid int, backend string) StartResult {
	st.running = true
	st.pid = pid
	st.state = "running"
	st.backend = backend
	m.writeSidecars(dir, Windows, pid, "running", backend)
	return StartResult{Status: "started", Backend: backend}
}

// startHook spawns the hook backend and polls liveness for hookStartupPoll
// before declaring success, per the auto-fallback contract.
func (m *Manager) startHook(dir string) (int, bool) {
	if m.windowsHook == nil {
		return 0, false
	}
	proc, err := m.windowsHook(m.LogPath(dir, Windows), nil)
	if err != nil {
		return 0, false
	}
	time.Sleep(hookStartupPoll)
	if !isAlive(proc.Pid) {
		return 0, false
	}
	if m.registry != nil {
		m.registry.Add(proc, "input_trace.windows.hook")
	}
	return proc.Pid, true
}

func (m *Manager) startAHK(dir string, opts StartOpts) (int, error) {
	if m.windowsAHK == nil {
		return 0, apierr.New(apierr.KindIO, "ahk backend not configured").WithReason("backend_unavailable")
	}
	args := map[string]string{}
	if len(opts.DebugKeys) > 0 {
		for i, k := range opts.DebugKeys {
			args["debug_key_"+strconv.Itoa(i)] = k
		}
	}
	proc, err := m.windowsAHK(m.LogPath(dir, Windows), args)
	if err != nil {
		return 0, err
	}
	if m.registry != nil {
		m.registry.Add(proc, "input_trace.windows.ahk")
	}
	return proc.Pid, nil
}

// StopWindows idempotently terminates the active windows backend.
func (m *Manager) StopWindows() (StopResult, error) {
	return m.stopChildSource(Windows)
}
