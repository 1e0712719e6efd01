package session

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
)

// IDKey is the cookie value holding the opaque session id. Tokens never
// leave the server.
const IDKey = "sid"

// Manager wraps gorilla/sessions for our use case
type Manager struct {
	store *sessions.CookieStore
	name  string
}

// NewManager creates a new session manager
// secretKey should be 32 bytes for AES-256
func NewManager(name string, secretKey []byte, secure bool, maxAge int) *Manager {
	store := sessions.NewCookieStore(secretKey)

	// Configure session options
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}

	return &Manager{
		store: store,
		name:  name,
	}
}

// ID returns the session id from the cookie, or "" if there is none.
func (m *Manager) ID(r *http.Request) string {
	session, err := m.store.Get(r, m.name)
	if err != nil {
		return ""
	}
	id, _ := session.Values[IDKey].(string)
	return id
}

// EnsureID returns the request's session id, issuing a new cookie if needed.
func (m *Manager) EnsureID(w http.ResponseWriter, r *http.Request) (string, error) {
	session, err := m.store.Get(r, m.name)
	if err != nil {
		// Create new session if the cookie is unreadable
		session, _ = m.store.New(r, m.name)
	}
	if id, ok := session.Values[IDKey].(string); ok && id != "" {
		return id, nil
	}

	id := uuid.NewString()
	session.Values[IDKey] = id
	if err := session.Save(r, w); err != nil {
		return "", err
	}
	return id, nil
}

// Rotate issues a fresh session id, used at login so a pre-login id is never
// promoted to an authenticated one.
func (m *Manager) Rotate(w http.ResponseWriter, r *http.Request) (string, error) {
	session, err := m.store.Get(r, m.name)
	if err != nil {
		session, _ = m.store.New(r, m.name)
	}
	id := uuid.NewString()
	session.Values[IDKey] = id
	if err := session.Save(r, w); err != nil {
		return "", err
	}
	return id, nil
}

// Clear removes the cookie (logout)
func (m *Manager) Clear(w http.ResponseWriter, r *http.Request) error {
	session, err := m.store.Get(r, m.name)
	if err != nil {
		return nil // Session doesn't exist, nothing to clear
	}

	// Set MaxAge to -1 to delete the session
	session.Options.MaxAge = -1
	return session.Save(r, w)
}
