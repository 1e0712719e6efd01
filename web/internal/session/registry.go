package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/devilmonastery/portal/internal/client"
	"github.com/devilmonastery/portal/internal/config"
	"github.com/devilmonastery/portal/internal/pkg/logger"
	"github.com/devilmonastery/portal/internal/pkg/metrics"
	coresession "github.com/devilmonastery/portal/internal/session"
	"github.com/devilmonastery/portal/internal/tokenstore"
)

// Entry is the pipeline of one browser session.
type Entry struct {
	ID         string
	Store      tokenstore.Store
	Terminator *coresession.Terminator
	Client     *client.Client
	Monitor    *coresession.InactivityMonitor // nil when inactivity sign-out is off
	Status     *Status
}

// Begin starts a freshly authenticated session.
func (e *Entry) Begin() {
	e.Status.Reset()
	if e.Monitor != nil {
		e.Monitor.Start()
	}
}

// Authenticated reports whether the session holds an access token.
func (e *Entry) Authenticated(ctx context.Context) bool {
	state, err := e.Store.Get(ctx)
	return err == nil && state.HasAccessToken()
}

// DefaultEndedRetention is how long an ended entry stays around so the
// browser can still read why its session ended.
const DefaultEndedRetention = time.Minute

// StoreFactory returns the token store for a session id.
type StoreFactory func(id string) tokenstore.Store

// Registry owns one Entry per session id so every browser session gets its
// own Coordinator and Terminator.
type Registry struct {
	settings  *config.Config
	newStore  StoreFactory
	transport http.RoundTripper
	closer    io.Closer
	retention time.Duration
	log       *slog.Logger

	mu      sync.Mutex
	entries map[string]*Entry
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithStoreFactory overrides the backend chosen from settings.
func WithStoreFactory(f StoreFactory) RegistryOption {
	return func(r *Registry) { r.newStore = f }
}

// WithTransport sets the base transport for content service calls.
func WithTransport(rt http.RoundTripper) RegistryOption {
	return func(r *Registry) { r.transport = rt }
}

// WithEndedRetention sets how long an ended entry is kept before it is forgotten.
func WithEndedRetention(d time.Duration) RegistryOption {
	return func(r *Registry) { r.retention = d }
}

// NewRegistry builds a registry over the configured token store backend.
func NewRegistry(settings *config.Config, log *slog.Logger, opts ...RegistryOption) (*Registry, error) {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		settings:  settings,
		retention: DefaultEndedRetention,
		log:       log.With(slog.String("component", "session_registry")),
		entries:   make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.newStore != nil {
		return r, nil
	}

	switch settings.TokenStore.Backend {
	case "memory":
		r.newStore = func(string) tokenstore.Store { return tokenstore.NewMemoryStore() }
	case "redis":
		redisCfg := settings.TokenStore.Redis
		if redisCfg.Addr == "" {
			return nil, fmt.Errorf("redis token store requires an address")
		}
		redisStore := tokenstore.NewRedisStoreFromAddr(redisCfg.Addr, redisCfg.Password, redisCfg.DB, redisCfg.KeyPrefix, redisCfg.TTL, log)
		r.closer = redisStore
		r.newStore = func(id string) tokenstore.Store {
			return redisStore.WithPrefix(redisStore.Prefix() + ":" + id)
		}
	default:
		return nil, fmt.Errorf("token store backend %q cannot hold browser sessions", settings.TokenStore.Backend)
	}
	return r, nil
}

// Lookup returns the entry for id without creating one.
func (r *Registry) Lookup(id string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

// Get returns the entry for id, creating it on first use.
func (r *Registry) Get(id string) (*Entry, error) {
	e, _, err := r.getOrCreate(id)
	return e, err
}

// Restore returns the entry for id, rebuilding it when its tokens outlived
// this process, e.g. in Redis across a restart. It reports false when id has
// neither an entry nor stored credentials.
func (r *Registry) Restore(ctx context.Context, id string) (*Entry, bool) {
	if e, ok := r.Lookup(id); ok {
		return e, true
	}
	state, err := r.newStore(id).Get(ctx)
	if err != nil {
		r.log.Warn("failed to read stored session", slog.String("session_id", id), slog.String("error", err.Error()))
		return nil, false
	}
	if !state.HasAccessToken() {
		return nil, false
	}

	e, created, err := r.getOrCreate(id)
	if err != nil {
		r.log.Error("failed to rebuild session", slog.String("session_id", id), slog.String("error", err.Error()))
		return nil, false
	}
	if created {
		e.Begin()
		r.log.Info("session restored from token store",
			slog.String("session_id", id),
			slog.String("token_prefix", state.TokenPreview()))
	}
	return e, true
}

func (r *Registry) getOrCreate(id string) (*Entry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		return e, false, nil
	}

	e, err := r.newEntry(id)
	if err != nil {
		return nil, false, err
	}
	r.entries[id] = e
	metrics.ActiveSessions.Inc()
	r.log.Debug("session entry created", slog.String("session_id", id))
	return e, true, nil
}

func (r *Registry) newEntry(id string) (*Entry, error) {
	log := logger.WithSession(r.log, id)
	e := &Entry{
		ID:     id,
		Store:  r.newStore(id),
		Status: newStatus(),
	}

	notifier := coresession.Notifiers{
		e.Status,
		coresession.LogNotifier{Log: log},
		coresession.NotifierFunc(func(coresession.Signal) {
			// Whatever ended the session, the idle timer must not end it again.
			if e.Monitor != nil {
				e.Monitor.Stop()
			}
			time.AfterFunc(r.retention, func() { r.forgetEntry(e) })
		}),
	}
	// The browser follows Status.Destination, so navigation is only logged here.
	e.Terminator = coresession.NewTerminator(e.Store, notifier, coresession.LogNavigator{Log: log}, r.settings.TerminatorConfig(), log)

	c, err := client.New(client.Options{
		BaseURL:        r.settings.Content.BaseURL,
		Store:          e.Store,
		Ender:          e.Terminator,
		RefreshPath:    r.settings.Content.RefreshPath,
		RefreshTimeout: r.settings.Content.RefreshTimeout,
		Timeout:        r.settings.Content.Timeout,
		Transport:      r.transport,
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}
	e.Client = c

	if r.settings.Session.Inactivity.Enabled {
		monitor, err := coresession.NewInactivityMonitor(r.settings.InactivityConfig(), e.Terminator, notifier, log)
		if err != nil {
			return nil, err
		}
		e.Monitor = monitor
	}
	return e, nil
}

// Forget drops the entry for id and stops its monitor.
func (r *Registry) Forget(id string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if ok {
		r.dropped(e)
	}
}

// forgetEntry drops e unless id has since been given a different entry.
func (r *Registry) forgetEntry(e *Entry) {
	r.mu.Lock()
	current, ok := r.entries[e.ID]
	ok = ok && current == e
	if ok {
		delete(r.entries, e.ID)
	}
	r.mu.Unlock()
	if ok {
		r.dropped(e)
		r.log.Debug("ended session entry forgotten", slog.String("session_id", e.ID))
	}
}

func (r *Registry) dropped(e *Entry) {
	metrics.ActiveSessions.Dec()
	if e.Monitor != nil {
		e.Monitor.Stop()
	}
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close stops every monitor and releases the shared store connection.
func (r *Registry) Close() error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*Entry)
	r.mu.Unlock()
	metrics.ActiveSessions.Sub(float64(len(entries)))
	for _, e := range entries {
		if e.Monitor != nil {
			e.Monitor.Stop()
		}
	}
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
