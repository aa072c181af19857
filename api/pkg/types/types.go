// Package types holds the wire/data-model structures shared across the
// control plane: session manifests, control state, trace events and
// lifecycle events. These are plain structs serialised as JSON; nothing in
// this package owns any behaviour.
package types

import "time"

const SchemaVersion = 1

// SessionManifest is the immutable session.json document.
type SessionManifest struct {
	SchemaVersion   int     `json:"schema_version"`
	SessionID       string  `json:"session_id"`
	StartTimeEpoch  int64   `json:"start_time_epoch"`
	StartTimeISO    string  `json:"start_time_iso"`
	Hostname        string  `json:"hostname"`
	Display         string  `json:"display"`
	Resolution      string  `json:"resolution"`
	FPS             int     `json:"fps"`
	GitSHA          *string `json:"git_sha,omitempty"`
}

// SegmentManifest is segment_<NNN>.json, written once per segment start and
// updated in place with end-time fields once the segment is finalised.
type SegmentManifest struct {
	SchemaVersion  int     `json:"schema_version"`
	SessionID      string  `json:"session_id"`
	Segment        int     `json:"segment"`
	StartTimeEpoch int64   `json:"start_time_epoch"`
	StartTimeISO   string  `json:"start_time_iso"`
	EndTimeEpoch   int64   `json:"end_time_epoch,omitempty"`
	EndTimeISO     string  `json:"end_time_iso,omitempty"`
	Hostname       string  `json:"hostname"`
	Display        string  `json:"display"`
	Resolution     string  `json:"resolution"`
	FPS            int     `json:"fps"`
	GitSHA         *string `json:"git_sha,omitempty"`
}

// SessionState is the contents of session.state.
type SessionState string

const (
	SessionActive    SessionState = "active"
	SessionSuspended SessionState = "suspended"
)

// ControlMode names who is driving input right now.
type ControlMode string

const (
	ControlUser  ControlMode = "USER"
	ControlAgent ControlMode = "AGENT"
)

// UserIntent is the user's declared disposition toward the agent.
type UserIntent string

const (
	IntentWait          UserIntent = "WAIT"
	IntentSafeInterrupt UserIntent = "SAFE_INTERRUPT"
	IntentStopNow       UserIntent = "STOP_NOW"
)

// AgentStatus tracks the agent's own lifecycle as observed by the broker.
type AgentStatus string

const (
	AgentIdle     AgentStatus = "IDLE"
	AgentRunning  AgentStatus = "RUNNING"
	AgentPaused   AgentStatus = "PAUSED"
	AgentStopping AgentStatus = "STOPPING"
	AgentStopped  AgentStatus = "STOPPED"
)

// ControlState is the broker's single in-memory instance, also what
// GET /sessions/{id}/control reports.
type ControlState struct {
	SessionID    string      `json:"session_id"`
	Interactive  bool        `json:"interactive"`
	ControlMode  ControlMode `json:"control_mode"`
	LeaseExpiry  *int64      `json:"lease_expiry,omitempty"`
	UserIntent   UserIntent  `json:"user_intent"`
	AgentStatus  AgentStatus `json:"agent_status"`
}

// Layer identifies which capture source produced a trace event.
type Layer string

const (
	LayerNetwork Layer = "network"
	LayerX11     Layer = "x11"
	LayerX11Core Layer = "x11_core"
	LayerClient  Layer = "client"
	LayerWindows Layer = "windows"
)

// Origin identifies whether an event was produced by the user or the agent.
type Origin string

const (
	OriginUser  Origin = "user"
	OriginAgent Origin = "agent"
)

// Phase marks a request/complete pair for agent-initiated canonical events.
type Phase string

const (
	PhaseRequest  Phase = "request"
	PhaseComplete Phase = "complete"
)

// DeviceInfo describes the input device that produced an event, when known.
type DeviceInfo struct {
	ID   int    `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Spec string `json:"spec,omitempty"`
}

// TraceEvent is one line of an input_events*.jsonl log.
type TraceEvent struct {
	SchemaVersion   int             `json:"schema_version"`
	TimestampEpochMs int64          `json:"timestamp_epoch_ms"`
	TimestampUTC    string          `json:"timestamp_utc"`
	SessionID       string          `json:"session_id"`
	Source          string          `json:"source"`
	Layer           Layer           `json:"layer"`
	Event           string          `json:"event"`
	Origin          Origin          `json:"origin"`
	Tool            string          `json:"tool,omitempty"`
	Seq             *int64          `json:"seq,omitempty"`
	X               *int            `json:"x,omitempty"`
	Y               *int            `json:"y,omitempty"`
	Button          *int            `json:"button,omitempty"`
	Keycode         *int            `json:"keycode,omitempty"`
	Key             string          `json:"key,omitempty"`
	TraceID         string          `json:"trace_id,omitempty"`
	Phase           Phase           `json:"phase,omitempty"`
	Device          *DeviceInfo     `json:"device,omitempty"`
	Extra           map[string]any  `json:"extra,omitempty"`
}

// LifecycleEvent is one line of logs/lifecycle.jsonl.
type LifecycleEvent struct {
	SchemaVersion int            `json:"schema_version"`
	TimestampUTC  string         `json:"timestamp_utc"`
	Kind          string         `json:"kind"`
	Message       string         `json:"message"`
	Source        string         `json:"source"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// NowUTC formats the current time the way every emitted JSON document does.
func NowUTC(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
