package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/devilmonastery/portal/internal/pkg/metrics"
	"github.com/devilmonastery/portal/internal/pkg/urlutil"
	"github.com/devilmonastery/portal/internal/tokenstore"
)

const (
	DefaultEntryPath = "/login"
	DefaultGrace     = 2 * time.Second
	DefaultMaxHold   = 30 * time.Second
)

// TerminatorConfig tunes the termination guard.
type TerminatorConfig struct {
	// EntryPath is the re-authentication entry point.
	EntryPath string

	// Grace is how long the guard stays up after navigation completes.
	Grace time.Duration

	// MaxHold releases the guard even if navigation never returns.
	MaxHold time.Duration
}

func (c TerminatorConfig) withDefaults() TerminatorConfig {
	if c.EntryPath == "" {
		c.EntryPath = DefaultEntryPath
	}
	if c.Grace <= 0 {
		c.Grace = DefaultGrace
	}
	if c.MaxHold <= 0 {
		c.MaxHold = DefaultMaxHold
	}
	if c.MaxHold < c.Grace {
		c.MaxHold = c.Grace
	}
	return c
}

// Terminator ends the session idempotently. While a termination is in
// progress, further requests are collapsed into it. The guard re-arms only
// after the navigation hand-off has returned and the grace window has passed
// since then, or after MaxHold, whichever comes first.
type Terminator struct {
	store     tokenstore.Store
	notifier  Notifier
	navigator Navigator
	cfg       TerminatorConfig
	log       *slog.Logger

	mu          sync.Mutex
	terminating bool
	generation  uint64
	holdTimer   *time.Timer
	graceTimer  *time.Timer
}

// NewTerminator wires a terminator. A nil notifier logs; a nil navigator does nothing.
func NewTerminator(store tokenstore.Store, notifier Notifier, navigator Navigator, cfg TerminatorConfig, log *slog.Logger) *Terminator {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "session_terminator"))
	if notifier == nil {
		notifier = LogNotifier{Log: log}
	}
	if navigator == nil {
		navigator = NavigatorFunc(func(context.Context, string) error { return nil })
	}
	return &Terminator{
		store:     store,
		notifier:  notifier,
		navigator: navigator,
		cfg:       cfg.withDefaults(),
		log:       log,
	}
}

// EntryPath returns the re-authentication entry point.
func (t *Terminator) EntryPath() string {
	return t.cfg.EntryPath
}

// Terminating reports whether the guard is currently up.
func (t *Terminator) Terminating() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.terminating
}

// Terminate clears the token store, emits one signal and navigates to the
// re-authentication entry point carrying returnTo. It returns false when the
// request was collapsed into a termination already in progress; a collapsed
// request still clears the store but emits and navigates nothing.
func (t *Terminator) Terminate(ctx context.Context, reason Reason, returnTo string) bool {
	t.mu.Lock()
	if t.terminating {
		t.mu.Unlock()
		metrics.TerminationsCollapsed.WithLabelValues(reason.String()).Inc()
		t.log.Debug("termination already in progress, collapsing",
			slog.String("reason", reason.String()))
		// Tokens written since the first clear must not outlive the session.
		if err := t.store.Clear(context.WithoutCancel(ctx)); err != nil {
			t.log.Error("failed to clear token store",
				slog.String("reason", reason.String()),
				slog.String("error", err.Error()))
		}
		return false
	}
	t.terminating = true
	t.generation++
	gen := t.generation
	t.holdTimer = time.AfterFunc(t.cfg.MaxHold, func() { t.release(gen, "max hold elapsed") })
	t.mu.Unlock()

	// The clear must happen even if the caller that triggered it has gone away.
	effectCtx := context.WithoutCancel(ctx)

	if err := t.store.Clear(effectCtx); err != nil {
		t.log.Error("failed to clear token store",
			slog.String("reason", reason.String()),
			slog.String("error", err.Error()))
	}

	destination, err := urlutil.BuildReauthURL(t.cfg.EntryPath, returnTo, reason.QueryValue())
	if err != nil {
		t.log.Error("failed to build re-authentication destination", slog.String("error", err.Error()))
		destination = t.cfg.EntryPath
	}

	metrics.Terminations.WithLabelValues(reason.String()).Inc()
	t.log.Info("ending session",
		slog.String("reason", reason.String()),
		slog.String("destination", destination))

	t.notifier.SessionEnded(Signal{
		Reason:      reason,
		ReturnTo:    urlutil.SafeReturnPath(returnTo),
		Destination: destination,
		At:          time.Now(),
	})

	if err := t.navigator.Navigate(effectCtx, destination); err != nil {
		t.log.Warn("navigation to re-authentication entry point failed",
			slog.String("destination", destination),
			slog.String("error", err.Error()))
	}

	t.mu.Lock()
	if t.generation == gen && t.terminating {
		t.graceTimer = time.AfterFunc(t.cfg.Grace, func() { t.release(gen, "grace elapsed") })
	}
	t.mu.Unlock()

	return true
}

func (t *Terminator) release(gen uint64, why string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.generation != gen || !t.terminating {
		return
	}
	t.terminating = false
	if t.holdTimer != nil {
		t.holdTimer.Stop()
		t.holdTimer = nil
	}
	if t.graceTimer != nil {
		t.graceTimer.Stop()
		t.graceTimer = nil
	}
	t.log.Debug("termination guard released", slog.String("why", why))
}
