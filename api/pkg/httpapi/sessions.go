package httpapi

import (
	"net/http"
	"strconv"

	"github.com/winebot/controlplane/api/pkg/apierr"
	"github.com/winebot/controlplane/api/pkg/lifecycle"
)

// handleSessionsList serves GET /sessions?root=&limit=.
func (s *Server) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	root := r.URL.Query().Get("root")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, apierr.BadRequest("invalid limit %q", v))
			return
		}
		limit = parsed
	}
	dirs, err := s.sessions.List(root, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": dirs})
}

// SessionSuspendModel is the POST /sessions/suspend body.
type SessionSuspendModel struct {
	SessionID      string `json:"session_id"`
	ShutdownCompat bool   `json:"shutdown_compat"`
	StopRecording  bool   `json:"stop_recording"`
}

func (s *Server) handleSessionSuspend(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var body SessionSuspendModel
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	err := s.lifecycle.SuspendSession(r.Context(), body.SessionID, lifecycle.SuspendOpts{
		ShutdownCompat: body.ShutdownCompat,
		StopRecording:  body.StopRecording,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "suspended"})
}

// SessionResumeModel is the POST /sessions/resume body.
type SessionResumeModel struct {
	SessionID     string `json:"session_id"`
	WinePrefix    string `json:"wine_prefix"`
	RestartCompat bool   `json:"restart_compat"`
	StopRecording bool   `json:"stop_recording"`
	Interactive   bool   `json:"interactive"`
}

func (s *Server) handleSessionResume(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var body SessionResumeModel
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	err := s.lifecycle.ResumeSession(r.Context(), body.SessionID, body.WinePrefix, lifecycle.ResumeOpts{
		RestartCompat: body.RestartCompat,
		StopRecording: body.StopRecording,
		Interactive:   body.Interactive,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}
