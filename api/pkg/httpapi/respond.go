package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/winebot/controlplane/api/pkg/apierr"
)

// writeJSON marshals v as the response body with status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to encode json response")
	}
}

// writeError maps err onto the specification's status/body contract. A
// policy denial (reason agent_control_denied_by_policy) is the one
// forbidden case that maps to 423 instead of 403, per spec.md §4.H.
func writeError(w http.ResponseWriter, err error) {
	apiErr, ok := apierr.As(err)
	if !ok {
		log.Error().Err(err).Msg("unclassified error reached http boundary")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}

	status := apierr.HTTPStatus(apiErr.Kind)
	if apiErr.Kind == apierr.KindForbidden && apiErr.Reason == "agent_control_denied_by_policy" {
		status = http.StatusLocked // 423
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(apiErr).Str("kind", string(apiErr.Kind)).Msg("http request failed")
	}
	body := map[string]string{"detail": apiErr.Error()}
	if apiErr.Reason != "" {
		body["reason"] = apiErr.Reason
	}
	writeJSON(w, status, body)
}

// decodeJSON decodes r.Body into v, tolerating an empty body for
// body-less mutating endpoints (defaults apply, per spec.md §4.H).
func decodeJSON(r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return apierr.BadRequest("invalid request body: %v", err)
	}
	return nil
}
