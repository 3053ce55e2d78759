package api

import (
	"encoding/json"
	"net/http"

	"github.com/org/secretplane/internal/apperr"
	"github.com/rs/zerolog/log"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"errors": []string{msg}})
}

// writeAppError maps a domain error onto its HTTP status. Infrastructure
// faults return 500 with a generic message; the detail goes to the log, not
// the client.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case apperr.IsBadRequest(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case apperr.IsUnauthorized(err):
		writeError(w, http.StatusUnauthorized, err.Error())
	case apperr.IsForbidden(err):
		writeError(w, http.StatusForbidden, err.Error())
	case apperr.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		log.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
