package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/devilmonastery/portal/internal/pkg/urlutil"
	coresession "github.com/devilmonastery/portal/internal/session"
	"github.com/devilmonastery/portal/web/internal/session"
)

type activityRequest struct {
	Activity string `json:"activity"`
}

// Activity records a browser interaction signal against the inactivity window.
func (h *Handler) Activity(w http.ResponseWriter, r *http.Request) {
	e, authenticated := currentEntry(r.Context())
	if !authenticated {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var req activityRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	activity, err := coresession.ParseActivity(req.Activity)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if e.Monitor != nil {
		e.Monitor.Touch(activity)
	}
	e.Status.Activity()
	w.WriteHeader(http.StatusNoContent)
}

// SessionStatus reports whether the session is active, warned or ended, and
// where to go once it has ended.
func (h *Handler) SessionStatus(w http.ResponseWriter, r *http.Request) {
	e, authenticated := currentEntry(r.Context())
	if e == nil {
		destination, _ := urlutil.BuildReauthURL(h.settings.Session.EntryPath, "", "")
		writeJSON(w, http.StatusOK, session.StatusView{State: session.StateEnded, Destination: destination})
		return
	}

	view := e.Status.View()
	if view.State != session.StateEnded && !authenticated {
		// Credentials vanished without a termination, e.g. cleared in Redis.
		destination, _ := urlutil.BuildReauthURL(h.settings.Session.EntryPath, "", "")
		view = session.StatusView{State: session.StateEnded, Destination: destination}
	}
	writeJSON(w, http.StatusOK, view)
}
