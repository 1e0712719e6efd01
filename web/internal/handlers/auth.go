package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/devilmonastery/portal/internal/client"
	"github.com/devilmonastery/portal/internal/pkg/urlutil"
	coresession "github.com/devilmonastery/portal/internal/session"
	"github.com/devilmonastery/portal/web/internal/middleware"
)

// LoginPage renders the sign-in form with the reason the last session ended.
func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	next := urlutil.SafeReturnPath(query.Get(urlutil.NextParam))

	e, authenticated := currentEntry(r.Context())
	if e != nil && e.Monitor != nil {
		// No inactivity sign-out while the user is on the sign-in page.
		e.Monitor.SetView(r.URL.Path)
	}
	if authenticated && query.Get(urlutil.ReasonParam) == "" {
		http.Redirect(w, r, homeOr(next), http.StatusSeeOther)
		return
	}

	data := h.newTemplateData(r)
	data["Next"] = next
	if reason, err := coresession.ParseReason(query.Get(urlutil.ReasonParam)); err == nil {
		data["Message"] = reason.Message()
	}
	h.renderTemplate(w, http.StatusOK, "login.html", data)
}

// Login exchanges the submitted credentials for tokens and starts a session.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}
	username := r.PostForm.Get("username")
	password := r.PostForm.Get("password")
	next := urlutil.SafeReturnPath(r.PostForm.Get("next"))

	state, err := client.PasswordLogin(r.Context(), h.loginClient, h.settings.Content.BaseURL, h.settings.Content.LoginPath, username, password)
	if err != nil {
		data := h.newTemplateData(r)
		data["Next"] = next
		data["Username"] = username
		status := http.StatusUnauthorized
		var statusErr *client.RefreshStatusError
		if errors.As(err, &statusErr) && (statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden) {
			data["Error"] = "Invalid username or password."
		} else {
			h.log.Error("login exchange failed", slog.String("error", err.Error()))
			data["Error"] = "Sign-in is unavailable right now. Try again shortly."
			status = http.StatusBadGateway
		}
		h.renderTemplate(w, status, "login.html", data)
		return
	}

	// A pre-login id is never promoted to an authenticated session.
	if old := middleware.EntryFromContext(r.Context()); old != nil {
		if err := old.Store.Clear(r.Context()); err != nil {
			h.log.Warn("failed to clear previous session store", slog.String("error", err.Error()))
		}
		h.registry.Forget(old.ID)
	}
	id, err := h.cookies.Rotate(w, r)
	if err != nil {
		h.log.Error("failed to issue session cookie", slog.String("error", err.Error()))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	e, err := h.registry.Get(id)
	if err != nil {
		h.log.Error("failed to create session", slog.String("error", err.Error()))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if err := e.Store.Set(r.Context(), state); err != nil {
		h.log.Error("failed to store tokens", slog.String("error", err.Error()))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	e.Begin()

	h.log.Info("user signed in",
		slog.String("session_id", id),
		slog.String("token_prefix", state.TokenPreview()))
	http.Redirect(w, r, homeOr(next), http.StatusSeeOther)
}

// Logout ends the session with reason manual.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if e := middleware.EntryFromContext(r.Context()); e != nil {
		e.Terminator.Terminate(r.Context(), coresession.ReasonManual, "")
		h.registry.Forget(e.ID)
	}
	if err := h.cookies.Clear(w, r); err != nil {
		h.log.Error("error clearing session cookie", slog.String("error", err.Error()))
	}
	http.Redirect(w, r, h.settings.Session.EntryPath, http.StatusSeeOther)
}

func homeOr(next string) string {
	if next == "" {
		return "/"
	}
	return next
}
