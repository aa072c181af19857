package inputtrace

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/winebot/controlplane/api/pkg/apierr"
)

// ProxyChecker reports whether the RFB proxy the network source depends on
// is already running outside our supervision (e.g. started independently by
// the desktop environment).
type ProxyChecker func() bool

// StartNetwork enables the network/RFB source. If proxyRunning reports an
// already-live proxy, start only arms the state file so that proxy's own RFB
// parser begins emitting into the log. Otherwise it spawns and tracks the
// proxy itself via networkSpawn, exactly like the windows/canonical/x11_core
// sources spawn and track their own child.
func (m *Manager) StartNetwork(opts StartOpts, proxyRunning ProxyChecker) (StartResult, error) {
	st := m.sources[Network]
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.running && (st.pid == 0 || isAlive(st.pid)) {
		return StartResult{Status: "already_running"}, nil
	}
	if !m.networkEnabled {
		return StartResult{}, apierr.Forbidden("network_trace_disabled", "network input trace is disabled by configuration")
	}

	dir, err := m.sessions.EnsureSession()
	if err != nil {
		return StartResult{}, err
	}

	if proxyRunning != nil && proxyRunning() {
		st.running = true
		st.pid = 0
		st.state = "running"
		m.writeSidecars(dir, Network, 0, "running", "")
		log.Debug().Int("motion_sample_ms", opts.MotionSampleMs).Msg("network input trace armed against externally-running proxy")
		return StartResult{Status: "started"}, nil
	}

	if m.networkSpawn == nil {
		return StartResult{}, apierr.New(apierr.KindIO, "RFB proxy is not running").WithReason("not_running")
	}

	proc, err := m.networkSpawn(m.LogPath(dir, Network), map[string]string{
		"motion_sample_ms": fmt.Sprintf("%d", opts.MotionSampleMs),
	})
	if err != nil {
		log.Warn().Err(err).Msg("network proxy failed to start")
		return StartResult{}, apierr.Wrap(apierr.KindIO, err, "start network proxy")
	}
	if m.registry != nil {
		m.registry.Add(proc, "input_trace.network")
	}

	st.running = true
	st.pid = proc.Pid
	st.state = "running"
	m.writeSidecars(dir, Network, proc.Pid, "running", "")
	return StartResult{Status: "started"}, nil
}

// StopNetwork disarms the network/RFB source, terminating the proxy child
// when we spawned one ourselves.
func (m *Manager) StopNetwork() (StopResult, error) {
	return m.stopChildSource(Network)
}
