package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/devilmonastery/portal/internal/pkg/urlutil"
	coresession "github.com/devilmonastery/portal/internal/session"
	"github.com/devilmonastery/portal/web/internal/session"
)

type entryKey struct{}

// EntryFromContext returns the session entry attached by Attach, or nil.
func EntryFromContext(ctx context.Context) *session.Entry {
	e, _ := ctx.Value(entryKey{}).(*session.Entry)
	return e
}

// WithEntry attaches a session entry to ctx.
func WithEntry(ctx context.Context, e *session.Entry) context.Context {
	return context.WithValue(ctx, entryKey{}, e)
}

// AuthMiddleware resolves the browser's session entry and guards pages that
// need credentials.
type AuthMiddleware struct {
	cookies   *session.Manager
	registry  *session.Registry
	entryPath string
	log       *slog.Logger
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(cookies *session.Manager, registry *session.Registry, entryPath string, log *slog.Logger) *AuthMiddleware {
	if entryPath == "" {
		entryPath = coresession.DefaultEntryPath
	}
	return &AuthMiddleware{
		cookies:   cookies,
		registry:  registry,
		entryPath: entryPath,
		log:       log.With(slog.String("component", "auth_middleware")),
	}
}

// Attach puts the session entry, if any, into the request context. An entry
// is only rebuilt when the token store still holds credentials for the
// cookie's id, so anonymous traffic never creates one.
func (m *AuthMiddleware) Attach(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := m.cookies.ID(r); id != "" {
			if e, ok := m.registry.Restore(r.Context(), id); ok {
				r = r.WithContext(WithEntry(r.Context(), e))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth sends requests without credentials to the sign-in page,
// carrying the requested page so it can be resumed afterwards. Page loads
// that pass count as navigation activity.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e := EntryFromContext(r.Context())
		if e == nil || !e.Authenticated(r.Context()) {
			reason := ""
			if e != nil {
				if sig, ok := e.Status.Ended(); ok {
					reason = sig.Reason.QueryValue()
				}
			}
			destination, err := urlutil.BuildReauthURL(m.entryPath, r.URL.RequestURI(), reason)
			if err != nil {
				destination = m.entryPath
			}
			m.log.Debug("no credentials for page, redirecting",
				slog.String("path", r.URL.Path),
				slog.String("destination", destination))
			http.Redirect(w, r, destination, http.StatusSeeOther)
			return
		}

		// Authenticated pages must never be served from a cache after sign-out.
		w.Header().Set("Cache-Control", "no-store")
		if e.Monitor != nil {
			e.Monitor.SetView(r.URL.RequestURI())
			e.Monitor.Touch(coresession.ActivityNavigation)
		}
		e.Status.Activity()
		next.ServeHTTP(w, r)
	})
}
