package inputtrace

import (
	"time"

	"github.com/winebot/controlplane/api/pkg/types"
)

// StartClient toggles the client source's state file on; it spawns no
// child process.
func (m *Manager) StartClient() (StartResult, error) {
	st := m.sources[Client]
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.running {
		return StartResult{Status: "already_running"}, nil
	}
	dir, err := m.sessions.EnsureSession()
	if err != nil {
		return StartResult{}, err
	}
	st.running = true
	st.state = "running"
	m.writeSidecars(dir, Client, 0, "running", "")
	return StartResult{Status: "started"}, nil
}

// StopClient toggles the client source's state file off.
func (m *Manager) StopClient() (StopResult, error) {
	st := m.sources[Client]
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.running {
		return StopResult{Status: "already_stopped"}, nil
	}
	dir, err := m.sessions.EnsureSession()
	if err != nil {
		return StopResult{}, err
	}
	st.running = false
	st.state = "stopped"
	m.writeSidecars(dir, Client, 0, "stopped", "")
	return StopResult{Status: "stopped"}, nil
}

// ClientEventResult is the response to a viewer-posted client event.
type ClientEventResult struct {
	Status string `json:"status"` // accepted | ignored
	Reason string `json:"reason,omitempty"`
}

// ReceiveClientEvent normalises and appends a single viewer-posted event.
// Defaults source=novnc_client, layer=client, origin=user, and a timestamp
// when absent. Receiving while disabled returns ignored/client_trace_disabled
// without writing. A successfully accepted event also preempts any active
// agent lease via broker.ReportUserActivity, since it is unambiguous evidence
// of human input.
func (m *Manager) ReceiveClientEvent(ev types.TraceEvent) (ClientEventResult, error) {
	st := m.sources[Client]
	st.mu.Lock()
	running := st.running
	st.mu.Unlock()

	if !running {
		return ClientEventResult{Status: "ignored", Reason: "client_trace_disabled"}, nil
	}

	dir, err := m.sessions.EnsureSession()
	if err != nil {
		return ClientEventResult{}, err
	}

	if ev.SchemaVersion == 0 {
		ev.SchemaVersion = types.SchemaVersion
	}
	if ev.Source == "" {
		ev.Source = "novnc_client"
	}
	if ev.Layer == "" {
		ev.Layer = types.LayerClient
	}
	if ev.Origin == "" {
		ev.Origin = types.OriginUser
	}
	if ev.TimestampEpochMs == 0 {
		ev.TimestampEpochMs = nowMs()
	}
	if ev.TimestampUTC == "" {
		ev.TimestampUTC = types.NowUTC(time.UnixMilli(ev.TimestampEpochMs))
	}

	if err := m.appendTraceEvent(dir, Client, ev); err != nil {
		return ClientEventResult{}, err
	}

	if m.broker != nil {
		m.broker.ReportUserActivity()
	}
	return ClientEventResult{Status: "accepted"}, nil
}
