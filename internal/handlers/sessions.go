package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/claude-sandbox/sandboxd/internal/gitmon"
	"github.com/claude-sandbox/sandboxd/internal/session"
)

// Mgr and EventHub are set from main.go during init.
var (
	Mgr      *session.Manager
	EventHub *gitmon.Hub
)

// ListSessions reconciles against the runtime and returns all records.
func ListSessions(w http.ResponseWriter, r *http.Request) {
	records, err := Mgr.List(r.Context())
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": records})
}

// GetSession returns one session record.
func GetSession(w http.ResponseWriter, r *http.Request) {
	rec, err := Mgr.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// CreateSession creates a new sandbox container.
func CreateSession(w http.ResponseWriter, r *http.Request) {
	var spec session.CreateSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := Mgr.Create(r.Context(), spec)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// StartSession starts the session's container.
func StartSession(w http.ResponseWriter, r *http.Request) {
	rec, err := Mgr.Start(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// StopSession stops the session's container.
func StopSession(w http.ResponseWriter, r *http.Request) {
	rec, err := Mgr.Stop(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// RemoveSession deletes the session. ?force=true removes a running one.
func RemoveSession(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	if err := Mgr.Remove(r.Context(), chi.URLParam(r, "id"), force); err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// Cleanup sweeps all sandbox-labeled containers and reports per-item
// outcomes.
func Cleanup(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	report, err := Mgr.Cleanup(r.Context(), force)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
