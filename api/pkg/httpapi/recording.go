package httpapi

import (
	"net/http"

	"github.com/winebot/controlplane/api/pkg/apierr"
)

func (s *Server) recordingGate(w http.ResponseWriter) bool {
	if s.recordEnabled {
		return true
	}
	writeError(w, apierr.BadRequest("recording is disabled by configuration"))
	return false
}

// RecordingStartModel is the optional POST /recording/start body.
type RecordingStartModel struct {
	Segment *int `json:"segment,omitempty"`
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) || !s.recordingGate(w) {
		return
	}
	var body RecordingStartModel
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.recorder.Start(body.Segment)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) || !s.recordingGate(w) {
		return
	}
	result, err := s.recorder.Stop()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRecordingPause(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) || !s.recordingGate(w) {
		return
	}
	result, err := s.recorder.Pause()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRecordingResume(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) || !s.recordingGate(w) {
		return
	}
	result, err := s.recorder.Resume()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
