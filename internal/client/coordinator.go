package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/devilmonastery/portal/internal/pkg/metrics"
	"github.com/devilmonastery/portal/internal/session"
	"github.com/devilmonastery/portal/internal/tokenstore"
)

const DefaultRefreshTimeout = 15 * time.Second

var errNoRefreshToken = errors.New("no refresh token stored")

type outcome struct {
	state tokenstore.State
	err   error
}

// pendingCaller is a follower queued behind the refresh in flight. ready has
// capacity 1 so releasing never blocks, even after the follower gave up.
type pendingCaller struct {
	ready chan outcome
}

// Coordinator serializes token refreshes for one session: at most one refresh
// call is outstanding and every caller that hits an expired token while it is
// in flight shares its outcome.
type Coordinator struct {
	store     tokenstore.Store
	refresher Refresher
	ender     session.Ender
	timeout   time.Duration
	log       *slog.Logger

	mu         sync.Mutex
	refreshing bool
	queue      []*pendingCaller
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithRefreshTimeout bounds each refresh call.
func WithRefreshTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCoordinatorLogger sets the logger.
func WithCoordinatorLogger(log *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

// NewCoordinator creates a coordinator for one session.
func NewCoordinator(store tokenstore.Store, refresher Refresher, ender session.Ender, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:     store,
		refresher: refresher,
		ender:     ender,
		timeout:   DefaultRefreshTimeout,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(slog.String("component", "refresh_coordinator"))
	return c
}

// Refreshing reports whether a refresh is in flight.
func (c *Coordinator) Refreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshing
}

// Waiting returns the number of queued followers.
func (c *Coordinator) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Await obtains a fresh token state for a call that failed authentication
// while carrying sentToken. The first caller performs the refresh; callers
// arriving while it is in flight wait for its outcome in FIFO order. A caller
// whose token has already been replaced in the store gets the current state
// without a new refresh, so a late auth failure from the same burst never
// starts a second flight.
// On failure every caller gets a *Error of kind KindRefreshRejected and the
// session is terminated once with reason expired.
//
// A follower whose ctx ends stops waiting and returns ctx.Err(). The leader's
// refresh runs detached from its ctx so abandoning it never strands followers.
func (c *Coordinator) Await(ctx context.Context, sentToken string) (tokenstore.State, error) {
	c.mu.Lock()
	if c.refreshing {
		p := &pendingCaller{ready: make(chan outcome, 1)}
		c.queue = append(c.queue, p)
		c.mu.Unlock()

		select {
		case o := <-p.ready:
			return o.state, o.err
		case <-ctx.Done():
			return tokenstore.State{}, ctx.Err()
		}
	}

	if current, err := c.store.Get(ctx); err == nil && current.HasAccessToken() && current.AccessToken != sentToken {
		c.mu.Unlock()
		metrics.Refreshes.WithLabelValues("already_refreshed").Inc()
		c.log.Debug("token already replaced since the call was sent, skipping refresh",
			slog.String("token_prefix", current.TokenPreview()))
		return current, nil
	}
	c.refreshing = true
	c.mu.Unlock()

	return c.lead(ctx)
}

func (c *Coordinator) lead(ctx context.Context) (tokenstore.State, error) {
	start := time.Now()
	state, err := c.refresh(context.WithoutCancel(ctx))
	metrics.RefreshDuration.Observe(float64(time.Since(start).Milliseconds()))

	if err != nil {
		rejected := &Error{Kind: KindRefreshRejected, Err: err}
		waiters := c.release(outcome{err: rejected})
		metrics.Refreshes.WithLabelValues("rejected").Inc()
		metrics.Failures.WithLabelValues(KindRefreshRejected.String()).Inc()
		c.log.Warn("token refresh failed, ending session",
			slog.Int("waiters", waiters),
			slog.String("error", err.Error()))

		returnTo, _ := ReturnPath(ctx)
		c.ender.Terminate(context.WithoutCancel(ctx), session.ReasonExpired, returnTo)
		return tokenstore.State{}, rejected
	}

	waiters := c.release(outcome{state: state})
	metrics.Refreshes.WithLabelValues("success").Inc()
	c.log.Info("token refreshed",
		slog.Int("waiters", waiters),
		slog.Time("expires_at", state.ExpiresAt),
		slog.String("token_prefix", state.TokenPreview()))
	return state, nil
}

func (c *Coordinator) refresh(ctx context.Context) (tokenstore.State, error) {
	current, err := c.store.Get(ctx)
	if err != nil {
		return tokenstore.State{}, fmt.Errorf("failed to read token store: %w", err)
	}
	if !current.HasRefreshToken() {
		return tokenstore.State{}, errNoRefreshToken
	}

	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	next, err := c.refresher.Refresh(rctx, current.RefreshToken)
	if err != nil {
		return tokenstore.State{}, err
	}
	if !next.HasRefreshToken() {
		next.RefreshToken = current.RefreshToken
	}
	if err := c.store.Set(ctx, next); err != nil {
		return tokenstore.State{}, fmt.Errorf("failed to store refreshed tokens: %w", err)
	}
	return next, nil
}

// release hands o to every queued follower in arrival order, then leaves the
// refreshing state. Both happen under the lock so no caller can join a flight
// that has already settled.
func (c *Coordinator) release(o outcome) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	queue := c.queue
	c.queue = nil
	for _, p := range queue {
		p.ready <- o
	}
	c.refreshing = false
	metrics.RefreshWaiters.Observe(float64(len(queue)))
	return len(queue)
}
