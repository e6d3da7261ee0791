package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jmcleod/irongate/internal/apperr"
	"github.com/jmcleod/irongate/login"
)

// ErrorResponse is the body of every error the gateway answers itself.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// mapError answers err with the status its kind calls for. Messages of
// environment and invariant faults are not echoed to the caller.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, login.ErrAuthentication):
		writeError(w, http.StatusUnauthorized, "authentication failed")
	case apperr.KindOf(err) == apperr.KindCaller:
		writeError(w, apperr.StatusOf(err), err.Error())
	case apperr.KindOf(err) == apperr.KindEnvironment:
		writeError(w, apperr.StatusOf(err), "upstream dependency unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
