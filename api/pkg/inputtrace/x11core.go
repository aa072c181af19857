package inputtrace

import (
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/winebot/controlplane/api/pkg/apierr"
)

// DeviceResolver resolves the X server's master pointer and master keyboard
// device ids, with named fallbacks. Production queries the X server's device
// list; tests inject a fixed pair.
type DeviceResolver func() (pointer, keyboard *DeviceRef, err error)

// DeviceRef names one resolved input device.
type DeviceRef struct {
	ID   int
	Name string
}

// StartX11Core starts one child per resolved master device, running the X
// server's "test" subcommand, multiplexing their stdout into one log file
// tagged with each device's metadata.
func (m *Manager) StartX11Core(opts StartOpts, resolve DeviceResolver) (StartResult, error) {
	st := m.sources[X11Core]
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.running && isAlive(st.pid) {
		return StartResult{Status: "already_running"}, nil
	}

	dir, err := m.sessions.EnsureSession()
	if err != nil {
		return StartResult{}, err
	}

	pointer, keyboard, err := resolve()
	if err != nil {
		return StartResult{}, err
	}
	if pointer == nil && keyboard == nil {
		return StartResult{}, apierr.New(apierr.KindIO, "neither master pointer nor master keyboard resolved").WithReason("no_devices")
	}

	if m.x11CoreSpawn == nil {
		return StartResult{}, apierr.New(apierr.KindIO, "x11_core capture backend not configured").WithReason("backend_unavailable")
	}

	var lastPID int
	for _, dev := range []*DeviceRef{pointer, keyboard} {
		if dev == nil {
			continue
		}
		proc, err := m.x11CoreSpawn(m.LogPath(dir, X11Core), map[string]string{
			"device_id":   strconv.Itoa(dev.ID),
			"device_name": dev.Name,
		})
		if err != nil {
			log.Warn().Err(err).Int("device_id", dev.ID).Msg("x11_core device capture failed to start")
			continue
		}
		if m.registry != nil {
			m.registry.Add(proc, "input_trace.x11_core")
		}
		lastPID = proc.Pid
	}
	if lastPID == 0 {
		return StartResult{Status: "backend_unavailable"}, nil
	}

	st.running = true
	st.pid = lastPID
	st.state = "running"
	m.writeSidecars(dir, X11Core, lastPID, "running", "")
	return StartResult{Status: "started"}, nil
}

// StopX11Core idempotently terminates the x11_core capture children.
func (m *Manager) StopX11Core() (StopResult, error) {
	return m.stopChildSource(X11Core)
}

