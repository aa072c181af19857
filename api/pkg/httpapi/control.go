package httpapi

import (
	"net/http"
	"strings"

	"github.com/winebot/controlplane/api/pkg/apierr"
	"github.com/winebot/controlplane/api/pkg/types"
)

// handleSessionControlRoutes dispatches the /sessions/{id}/control* and
// /sessions/{id}/user_intent family. Exact-path registrations
// (/sessions/suspend, /sessions/resume) take precedence in ServeMux's
// longest-match rule, so only the per-session subtree reaches here.
func (s *Server) handleSessionControlRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) < 2 {
		writeError(w, apierr.NotFound("unknown route %s", r.URL.Path))
		return
	}
	sessionID := parts[0]

	switch {
	case len(parts) == 2 && parts[1] == "control":
		s.handleControlGet(w, r, sessionID)
	case len(parts) == 3 && parts[1] == "control" && parts[2] == "grant":
		s.handleControlGrant(w, r, sessionID)
	case len(parts) == 3 && parts[1] == "control" && parts[2] == "renew":
		s.handleControlRenew(w, r, sessionID)
	case len(parts) == 2 && parts[1] == "user_intent":
		s.handleUserIntent(w, r, sessionID)
	default:
		writeError(w, apierr.NotFound("unknown route %s", r.URL.Path))
	}
}

func (s *Server) handleControlGet(w http.ResponseWriter, r *http.Request, sessionID string) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.broker.Snapshot())
}

// ControlLeaseModel is the grant/renew body.
type ControlLeaseModel struct {
	LeaseSeconds int64 `json:"lease_seconds"`
}

func (s *Server) handleControlGrant(w http.ResponseWriter, r *http.Request, sessionID string) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var body ControlLeaseModel
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := s.broker.GrantAgent(body.LeaseSeconds); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.broker.Snapshot())
}

func (s *Server) handleControlRenew(w http.ResponseWriter, r *http.Request, sessionID string) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var body ControlLeaseModel
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := s.broker.RenewAgent(body.LeaseSeconds); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.broker.Snapshot())
}

// UserIntentModel is the POST .../user_intent body.
type UserIntentModel struct {
	Intent types.UserIntent `json:"intent"`
}

func (s *Server) handleUserIntent(w http.ResponseWriter, r *http.Request, sessionID string) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var body UserIntentModel
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	switch body.Intent {
	case types.IntentWait, types.IntentSafeInterrupt, types.IntentStopNow:
	default:
		writeError(w, apierr.BadRequest("invalid intent %q", body.Intent))
		return
	}
	s.broker.SetUserIntent(body.Intent)
	writeJSON(w, http.StatusOK, s.broker.Snapshot())
}
