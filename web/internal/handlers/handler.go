package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/devilmonastery/portal/internal/config"
	"github.com/devilmonastery/portal/web/internal/middleware"
	"github.com/devilmonastery/portal/web/internal/render"
	"github.com/devilmonastery/portal/web/internal/session"
)

// PollInterval is how often the browser asks for the session status.
const PollInterval = 5 * time.Second

// Handler holds dependencies for all web handlers
type Handler struct {
	cookies     *session.Manager
	registry    *session.Registry
	templates   *render.TemplateSet
	settings    *config.Config
	loginClient *http.Client
	log         *slog.Logger
}

// New creates a new handler with dependencies. transport, if set, is used
// for the login exchange with the content service.
func New(cookies *session.Manager, registry *session.Registry, templates *render.TemplateSet, settings *config.Config, transport http.RoundTripper, log *slog.Logger) *Handler {
	return &Handler{
		cookies:     cookies,
		registry:    registry,
		templates:   templates,
		settings:    settings,
		loginClient: &http.Client{Timeout: settings.Content.Timeout, Transport: transport},
		log:         log.With(slog.String("component", "web_handler")),
	}
}

// newTemplateData creates a new template data map with standard fields populated
// Callers can add page-specific fields to the returned map
func (h *Handler) newTemplateData(r *http.Request) map[string]interface{} {
	data := map[string]interface{}{
		"Authenticated":  false,
		"User":           "",
		"DebounceMillis": h.settings.Session.Inactivity.Debounce.Milliseconds(),
		"PollMillis":     PollInterval.Milliseconds(),
	}
	if e := middleware.EntryFromContext(r.Context()); e != nil {
		if state, err := e.Store.Get(r.Context()); err == nil && state.HasAccessToken() {
			data["Authenticated"] = true
			data["User"] = session.UserLabel(state.AccessToken)
		}
	}
	return data
}

// renderTemplate renders a template with data
func (h *Handler) renderTemplate(w http.ResponseWriter, status int, name string, data interface{}) {
	if h.templates == nil {
		http.Error(w, "Templates not loaded", http.StatusInternalServerError)
		return
	}
	h.log.Debug("rendering template", slog.String("template", name))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.templates.Execute(w, name, data); err != nil {
		// Headers are gone; all we can do is log.
		h.log.Error("template rendering failed",
			slog.String("template", name),
			slog.String("error", err.Error()))
	}
}

// renderError renders the error page
func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, status int, title, message string) {
	data := h.newTemplateData(r)
	data["Title"] = title
	data["Message"] = message
	h.renderTemplate(w, status, "error.html", data)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// currentEntry returns the entry attached to the request, if it still holds credentials.
func currentEntry(ctx context.Context) (*session.Entry, bool) {
	e := middleware.EntryFromContext(ctx)
	if e == nil {
		return nil, false
	}
	return e, e.Authenticated(ctx)
}
