// Package broker implements the single-writer Control Broker state machine:
// a mutex-protected {control_mode, user_intent, lease_expiry, agent_status}
// deciding at every moment whether the agent may act.
//
// Concurrency follows the teacher's registry idiom (a single struct mutex
// guarding all mutators, grounded on api/pkg/desktop/session_registry.go's
// SessionRegistry/SessionClients locking shape) rather than channel-based
// actor dispatch: every mutator holds the lock for the whole transition, and
// no callback is invoked while holding it.
package broker

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/winebot/controlplane/api/pkg/apierr"
	"github.com/winebot/controlplane/api/pkg/eventbus"
	"github.com/winebot/controlplane/api/pkg/types"
)

// Clock is injected so tests can control "now" deterministically.
type Clock func() time.Time

// Broker is the process-wide control state machine. It is constructed once
// at startup and passed by reference to the HTTP handlers -- never a
// package-level global, per the specification's singleton strategy.
type Broker struct {
	mu    sync.Mutex
	state types.ControlState
	now   Clock
	bus   *eventbus.Bus
}

// New constructs a broker for sessionID, starting in (USER, WAIT, IDLE) as
// required. interactive controls whether this broker gates access at all:
// when false the broker is in implicit-agent mode and check_access is always
// granted.
func New(sessionID string, interactive bool, bus *eventbus.Bus) *Broker {
	return &Broker{
		state: types.ControlState{
			SessionID:   sessionID,
			Interactive: interactive,
			ControlMode: types.ControlUser,
			UserIntent:  types.IntentWait,
			AgentStatus: types.AgentIdle,
		},
		now: time.Now,
		bus: bus,
	}
}

// Snapshot returns a copy of the current state for GET /sessions/{id}/control.
func (b *Broker) Snapshot() types.ControlState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// UpdateSession re-targets the broker at a (possibly new) session id and
// sets interactive mode. Switching into interactive=true while the mode was
// AGENT first revokes control.
func (b *Broker) UpdateSession(sessionID string, interactive bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasAgent := b.state.ControlMode == types.ControlAgent
	b.state.SessionID = sessionID
	if interactive && wasAgent {
		b.revokeLocked("session_update")
	}
	b.state.Interactive = interactive
	if !interactive {
		b.state.ControlMode = types.ControlAgent
	}
}

// GrantAgent hands control to the agent for leaseSeconds. Requires
// interactive mode; otherwise the agent already has implicit control.
func (b *Broker) GrantAgent(leaseSeconds int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.state.Interactive {
		return apierr.Forbidden("not_interactive", "session is not in interactive mode")
	}

	expiry := b.now().Unix() + leaseSeconds
	b.state.ControlMode = types.ControlAgent
	b.state.LeaseExpiry = &expiry
	b.state.UserIntent = types.IntentWait
	b.publishLocked()
	return nil
}

// RenewAgent extends the lease. Fails with forbidden/no_control if the agent
// does not currently hold control, or forbidden/stop_requested if STOP_NOW
// is pending.
func (b *Broker) RenewAgent(leaseSeconds int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.ControlMode != types.ControlAgent {
		return apierr.Forbidden("no_control", "agent does not hold control")
	}
	if b.state.UserIntent == types.IntentStopNow {
		return apierr.Forbidden("stop_requested", "stop has been requested")
	}

	expiry := b.now().Unix() + leaseSeconds
	b.state.LeaseExpiry = &expiry
	b.publishLocked()
	return nil
}

// ReportUserActivity preempts an active agent lease. Only called from
// explicit user-originated paths (e.g. POST /input/client/event), per the
// specification's resolved Open Question: passive motion sampling never
// triggers this, only an explicit client event.
func (b *Broker) ReportUserActivity() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.ControlMode == types.ControlAgent {
		b.revokeLocked("user_input_override")
	}
}

// SetUserIntent updates the user's declared disposition. Setting STOP_NOW
// immediately revokes control.
func (b *Broker) SetUserIntent(intent types.UserIntent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.UserIntent = intent
	if intent == types.IntentStopNow {
		b.revokeLocked("stop_now")
	} else {
		b.publishLocked()
	}
}

// CheckAccess reports whether an agent-originated mutation may proceed. In
// implicit-agent mode (interactive=false) this is always true: the lock is
// taken only to read the interactive flag and released before returning, and
// no lease or intent check is made. Otherwise the lock is held for the whole
// read because a lease expiry or a pending STOP_NOW may require a revoke as
// part of the check.
func (b *Broker) CheckAccess() bool {
	b.mu.Lock()
	if !b.state.Interactive {
		b.mu.Unlock()
		return true
	}
	defer b.mu.Unlock()

	if b.state.ControlMode != types.ControlAgent {
		return false
	}
	if b.state.LeaseExpiry != nil && *b.state.LeaseExpiry <= b.now().Unix() {
		b.revokeLocked("lease_expired")
		return false
	}
	if b.state.UserIntent == types.IntentStopNow {
		b.revokeLocked("stop_now")
		return false
	}
	return true
}

// revokeLocked sets control_mode=USER, clears lease_expiry, sets
// agent_status=STOPPING, and emits an observability line and a bus
// notification. Caller must hold b.mu.
func (b *Broker) revokeLocked(reason string) {
	b.state.ControlMode = types.ControlUser
	b.state.LeaseExpiry = nil
	b.state.AgentStatus = types.AgentStopping
	log.Info().Str("session_id", b.state.SessionID).Str("reason", reason).Msg("broker revoked agent control")
	b.publishLocked()
}

func (b *Broker) publishLocked() {
	if b.bus == nil {
		return
	}
	payload, err := json.Marshal(b.state)
	if err != nil {
		log.Warn().Err(err).Msg("failed to marshal control state for event bus")
		return
	}
	if err := b.bus.Publish(eventbus.SubjectBrokerStateChanged, payload); err != nil {
		log.Warn().Err(err).Msg("failed to publish control state change")
	}
}
