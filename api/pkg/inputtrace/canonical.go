package inputtrace

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/winebot/controlplane/api/pkg/apierr"
	"github.com/winebot/controlplane/api/pkg/types"
)

// motionSampler drops motion events that arrive sooner than sampleMs after
// the last one it let through. No source in this package constructs one;
// canonical capture passes motion_sample_ms to the XI2 bridge child, which
// does its own motion sampling.
type motionSampler struct {
	sampleMs  int64
	lastMs    int64
	hasLast   bool
}

func newMotionSampler(sampleMs int) *motionSampler {
	return &motionSampler{sampleMs: int64(sampleMs)}
}

// allow reports whether a motion event at tsMs should be kept.
func (s *motionSampler) allow(tsMs int64) bool {
	if s.sampleMs <= 0 {
		return true
	}
	if !s.hasLast || tsMs-s.lastMs >= s.sampleMs {
		s.lastMs = tsMs
		s.hasLast = true
		return true
	}
	return false
}

// StartCanonical starts the XI2 capture source: a child process reading the
// X Input Extension's test-stream, emitting one JSON line per event with
// source="x11", layer="x11".
func (m *Manager) StartCanonical(opts StartOpts) (StartResult, error) {
	st := m.sources[Canonical]
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.running && isAlive(st.pid) {
		return StartResult{Status: "already_running"}, nil
	}

	dir, err := m.sessions.EnsureSession()
	if err != nil {
		return StartResult{}, err
	}

	if m.canonicalSpawn == nil {
		return StartResult{}, apierr.New(apierr.KindIO, "canonical capture backend not configured").WithReason("backend_unavailable")
	}

	proc, err := m.canonicalSpawn(m.LogPath(dir, Canonical), map[string]string{
		"motion_sample_ms": fmt.Sprintf("%d", opts.MotionSampleMs),
	})
	if err != nil {
		log.Warn().Err(err).Msg("canonical capture failed to start")
		return StartResult{Status: "backend_unavailable"}, nil
	}
	if m.registry != nil {
		m.registry.Add(proc, "input_trace.canonical")
	}

	st.running = true
	st.pid = proc.Pid
	st.state = "running"
	m.writeSidecars(dir, Canonical, proc.Pid, "running", "")
	return StartResult{Status: "started"}, nil
}

// AppendAgentClick appends one request/complete event to the canonical log
// for an agent-originated click issued through /input/mouse/click, keyed by
// traceID so the request and complete lines can be correlated. errMsg is
// recorded in Extra["error"] when the click failed.
func (m *Manager) AppendAgentClick(traceID string, phase types.Phase, x, y int, errMsg string) error {
	dir, err := m.sessions.EnsureSession()
	if err != nil {
		return err
	}

	now := time.Now()
	ev := types.TraceEvent{
		SchemaVersion:    types.SchemaVersion,
		TimestampEpochMs: now.UnixMilli(),
		TimestampUTC:     types.NowUTC(now),
		SessionID:        filepath.Base(dir),
		Source:           "api",
		Layer:            types.LayerX11Core,
		Event:            "agent_click",
		Origin:           types.OriginAgent,
		X:                &x,
		Y:                &y,
		TraceID:          traceID,
		Phase:            phase,
	}
	if errMsg != "" {
		ev.Extra = map[string]any{"error": errMsg}
	}
	return m.appendTraceEvent(dir, Canonical, ev)
}

// StopCanonical idempotently terminates the canonical capture child.
func (m *Manager) StopCanonical() (StopResult, error) {
	return m.stopChildSource(Canonical)
}

func (m *Manager) stopChildSource(name Name) (StopResult, error) {
	st := m.sources[name]
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.running || !isAlive(st.pid) {
		st.running = false
		st.state = "stopped"
		return StopResult{Status: "already_stopped"}, nil
	}

	dir, err := m.sessions.EnsureSession()
	if err != nil {
		return StopResult{}, err
	}

	if proc, err := os.FindProcess(st.pid); err == nil {
		_ = proc.Kill()
	}
	if m.registry != nil {
		m.registry.Remove(st.pid)
	}

	st.running = false
	st.pid = 0
	st.state = "stopped"
	m.writeSidecars(dir, name, 0, "stopped", "")
	return StopResult{Status: "stopped"}, nil
}
