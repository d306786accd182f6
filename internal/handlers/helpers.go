package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/claude-sandbox/sandboxd/internal/session"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeOpError maps the session error taxonomy onto HTTP statuses.
func writeOpError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrNameConflict), errors.Is(err, session.ErrStillRunning):
		status = http.StatusConflict
	case errors.Is(err, session.ErrPortExhausted):
		status = http.StatusServiceUnavailable
	case errors.Is(err, session.ErrRuntimeUnavailable), errors.Is(err, session.ErrExecUnavailable):
		status = http.StatusBadGateway
	}
	writeError(w, status, err.Error())
}
