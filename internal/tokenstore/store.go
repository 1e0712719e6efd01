// Package tokenstore holds the credential triple used by the authenticated
// request pipeline: access token, refresh token and access-token expiry.
//
// Every backend persists the triple as three independent entries so a partial
// read yields a missing field rather than a decoding error, and every backend
// replaces the triple as a whole so no reader observes a half-written state.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Entry names shared by all backends.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyExpiresAt    = "expires_at"
)

// Keys lists the persisted entries in a fixed order.
var Keys = []string{KeyAccessToken, KeyRefreshToken, KeyExpiresAt}

// ErrIncompleteState is returned by Set when the access token and its expiry
// are not both present or both absent.
var ErrIncompleteState = errors.New("access token and expiry must be set together")

// State is a snapshot of the stored credentials. An empty string or a zero
// time means the field is absent.
type State struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Store is the durable, process-wide holder of the credential triple.
type Store interface {
	// Get returns the current snapshot.
	Get(ctx context.Context) (State, error)

	// Set replaces the whole snapshot atomically.
	Set(ctx context.Context, state State) error

	// Clear removes all entries. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// HasAccessToken reports whether an access token is present.
func (s State) HasAccessToken() bool {
	return s.AccessToken != ""
}

// HasRefreshToken reports whether a refresh token is present.
func (s State) HasRefreshToken() bool {
	return s.RefreshToken != ""
}

// IsEmpty reports whether no field is set.
func (s State) IsEmpty() bool {
	return s.AccessToken == "" && s.RefreshToken == "" && s.ExpiresAt.IsZero()
}

// IsExpired reports true if the expiry is absent or not after now.
// Local expiry is advisory: callers must not refuse to send a request because of it.
func (s State) IsExpired(now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return true
	}
	return !now.Before(s.ExpiresAt)
}

// Validate checks the access-token/expiry pairing invariant.
func (s State) Validate() error {
	if s.HasAccessToken() != !s.ExpiresAt.IsZero() {
		return ErrIncompleteState
	}
	return nil
}

// TokenPreview returns a short prefix of the access token safe for logs.
func (s State) TokenPreview() string {
	return Preview(s.AccessToken)
}

// Preview truncates a token for logging.
func Preview(token string) string {
	if len(token) > 12 {
		return token[:12] + "..."
	}
	return token
}

// encodeEntries flattens a state into the three persisted entries. Absent
// fields map to the empty string.
func encodeEntries(s State) map[string]string {
	entries := map[string]string{
		KeyAccessToken:  s.AccessToken,
		KeyRefreshToken: s.RefreshToken,
		KeyExpiresAt:    "",
	}
	if !s.ExpiresAt.IsZero() {
		entries[KeyExpiresAt] = strconv.FormatInt(s.ExpiresAt.Unix(), 10)
	}
	return entries
}

// decodeEntries rebuilds a state from persisted entries. A missing or
// malformed expiry reads as absent, and the pairing invariant is restored by
// dropping an access token whose expiry is unreadable.
func decodeEntries(entries map[string]string, log *slog.Logger) State {
	state := State{
		AccessToken:  strings.TrimSpace(entries[KeyAccessToken]),
		RefreshToken: strings.TrimSpace(entries[KeyRefreshToken]),
	}

	if raw := strings.TrimSpace(entries[KeyExpiresAt]); raw != "" {
		secs, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			log.Warn("ignoring malformed token expiry",
				slog.String("value", raw),
				slog.String("error", err.Error()))
		} else {
			state.ExpiresAt = time.Unix(secs, 0)
		}
	}

	if state.HasAccessToken() && state.ExpiresAt.IsZero() {
		log.Warn("stored access token has no expiry, treating as absent")
		state.AccessToken = ""
	}
	if !state.HasAccessToken() {
		state.ExpiresAt = time.Time{}
	}
	return state
}

// Options selects and configures a backend for Open.
type Options struct {
	Backend string // file, redis, keyring, memory

	// file
	Dir string

	// redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
	TTL           time.Duration

	// keyring
	KeyringService string

	Logger *slog.Logger
}

// Open builds the backend named in opts.
func Open(opts Options) (Store, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	switch strings.ToLower(opts.Backend) {
	case "", "file":
		dir := opts.Dir
		if dir == "" {
			var err error
			dir, err = DefaultDir()
			if err != nil {
				return nil, err
			}
		}
		return NewFileStore(dir, log), nil
	case "redis":
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("redis token store requires an address")
		}
		return NewRedisStoreFromAddr(opts.RedisAddr, opts.RedisPassword, opts.RedisDB, opts.KeyPrefix, opts.TTL, log), nil
	case "keyring":
		return NewKeyringStore(opts.KeyringService, log), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown token store backend %q", opts.Backend)
	}
}
