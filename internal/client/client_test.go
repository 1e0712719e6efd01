package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devilmonastery/portal/internal/pkg/logger"
	"github.com/devilmonastery/portal/internal/session"
	"github.com/devilmonastery/portal/internal/tokenstore"
)

// contentService is a fake content service with a refresh endpoint.
type contentService struct {
	mu            sync.Mutex
	valid         string
	refreshStatus int
	refreshDelay  time.Duration
	issue         string
	seenRefresh   []string
	retriedAuth   []string

	refreshCalls atomic.Int32

	// staleDelay holds the 401 answer for a path back this long.
	staleDelay map[string]time.Duration

	// staleWave holds 401 answers until this many stale calls arrived.
	staleWave   int32
	staleSeen   atomic.Int32
	staleReady  chan struct{}
	releaseOnce sync.Once
}

func newContentService(valid string) *contentService {
	return &contentService{
		valid:      valid,
		issue:      "access-2",
		staleReady: make(chan struct{}),
	}
}

func (s *contentService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == DefaultRefreshPath {
		s.refresh(w, r)
		return
	}

	auth := r.Header.Get("Authorization")
	s.mu.Lock()
	valid := s.valid
	s.mu.Unlock()

	if auth != "Bearer "+valid {
		if s.staleWave > 0 {
			if s.staleSeen.Add(1) >= s.staleWave {
				s.releaseOnce.Do(func() { close(s.staleReady) })
			}
			select {
			case <-s.staleReady:
			case <-time.After(2 * time.Second):
			}
		}
		time.Sleep(s.staleDelay[r.URL.Path])
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	s.retriedAuth = append(s.retriedAuth, auth)
	s.mu.Unlock()

	switch r.URL.Path {
	case "/missing":
		http.Error(w, "not found", http.StatusNotFound)
	case "/forbidden":
		http.Error(w, "forbidden", http.StatusForbidden)
	case "/echo":
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	default:
		w.Header().Set("Content-Type", "text/markdown")
		_, _ = io.WriteString(w, "# "+strings.TrimPrefix(r.URL.Path, "/"))
	}
}

func (s *contentService) refresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	s.seenRefresh = append(s.seenRefresh, body.RefreshToken)
	status, delay, issue := s.refreshStatus, s.refreshDelay, s.issue
	s.mu.Unlock()

	time.Sleep(delay)
	if status != 0 {
		http.Error(w, `{"error":"invalid_grant"}`, status)
		return
	}

	s.mu.Lock()
	s.valid = issue
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": issue,
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

func (s *contentService) refreshTokensSeen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seenRefresh...)
}

func (s *contentService) authSeen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.retriedAuth...)
}

type harness struct {
	svc      *contentService
	server   *httptest.Server
	store    *tokenstore.MemoryStore
	events   *session.ChannelNotifier
	term     *session.Terminator
	client   *Client
	startTok tokenstore.State
}

func newHarness(t *testing.T, svc *contentService) *harness {
	t.Helper()
	server := httptest.NewServer(svc)
	t.Cleanup(server.Close)

	store := tokenstore.NewMemoryStore()
	start := tokenstore.State{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	if err := store.Set(context.Background(), start); err != nil {
		t.Fatal(err)
	}

	events := session.NewChannelNotifier(16, logger.Discard())
	term := session.NewTerminator(store, events, nil, session.TerminatorConfig{}, logger.Discard())

	c, err := New(Options{
		BaseURL: server.URL,
		Store:   store,
		Ender:   term,
		Logger:  logger.Discard(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return &harness{svc: svc, server: server, store: store, events: events, term: term, client: c, startTok: start}
}

func (h *harness) sessionEnds() []session.Signal {
	var out []session.Signal
	for {
		select {
		case ev := <-h.events.Events():
			if ev.Type == session.EventSessionEnded {
				out = append(out, ev.Signal)
			}
		default:
			return out
		}
	}
}

func TestConcurrentAuthFailuresShareOneRefresh(t *testing.T) {
	svc := newContentService("access-2")
	svc.staleWave = 3
	svc.refreshDelay = 50 * time.Millisecond
	h := newHarness(t, svc)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	bodies := make([]string, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body, _, err := h.client.Fetch(context.Background(), "/articles/"+string(rune('a'+i)))
			errs[i] = err
			bodies[i] = string(body)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
		if !strings.HasPrefix(bodies[i], "# articles/") {
			t.Errorf("call %d body = %q", i, bodies[i])
		}
	}
	if got := svc.refreshCalls.Load(); got != 1 {
		t.Errorf("expected exactly 1 refresh call, got %d", got)
	}
	if rt := svc.refreshTokensSeen(); len(rt) != 1 || rt[0] != "refresh-1" {
		t.Errorf("refresh endpoint saw %v", rt)
	}
	seen := svc.authSeen()
	if len(seen) != 3 {
		t.Fatalf("expected 3 retried calls, got %d", len(seen))
	}
	for _, auth := range seen {
		if auth != "Bearer access-2" {
			t.Errorf("retried call carried %q", auth)
		}
	}

	state, _ := h.store.Get(context.Background())
	if state.AccessToken != "access-2" {
		t.Errorf("store access token = %q", state.AccessToken)
	}
	if state.RefreshToken != "refresh-1" {
		t.Errorf("omitted refresh token should keep the previous one, got %q", state.RefreshToken)
	}
	if until := time.Until(state.ExpiresAt); until < 59*time.Minute || until > time.Hour {
		t.Errorf("unexpected expiry in %v", until)
	}
	if len(h.sessionEnds()) != 0 {
		t.Error("a successful refresh must not end the session")
	}
}

func TestLateAuthFailureAfterRefreshDoesNotRefreshAgain(t *testing.T) {
	svc := newContentService("access-2")
	svc.refreshDelay = 20 * time.Millisecond
	svc.staleDelay = map[string]time.Duration{"/slow": 200 * time.Millisecond}
	h := newHarness(t, svc)

	paths := []string{"/a", "/b", "/slow"}
	var wg sync.WaitGroup
	errs := make([]error, len(paths))
	for i, path := range paths {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			_, _, errs[i] = h.client.Fetch(context.Background(), path)
		}(i, path)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("%s failed: %v", paths[i], err)
		}
	}
	if got := svc.refreshCalls.Load(); got != 1 {
		t.Errorf("expected exactly 1 refresh call, got %d", got)
	}
	if len(h.sessionEnds()) != 0 {
		t.Error("a successful refresh must not end the session")
	}
}

func TestUnreplayableBodyStillRefreshes(t *testing.T) {
	svc := newContentService("access-2")
	h := newHarness(t, svc)

	ctx := context.Background()
	req, err := h.client.NewRequest(ctx, http.MethodPost, "/echo", io.NopCloser(strings.NewReader(`{"answer":"42"}`)))
	if err != nil {
		t.Fatal(err)
	}
	_, err = h.client.Do(ctx, req)
	if KindOf(err) != KindApplication || !errors.Is(err, errBodyNotReplayable) {
		t.Fatalf("expected application error for an unreplayable body, got %v", err)
	}
	if got := svc.refreshCalls.Load(); got != 1 {
		t.Errorf("expected the session to be refreshed once, got %d", got)
	}
	if state, _ := h.store.Get(ctx); state.AccessToken != "access-2" {
		t.Errorf("store access token = %q", state.AccessToken)
	}
	if len(h.sessionEnds()) != 0 {
		t.Error("an unreplayable body must not end the session")
	}
}

func TestCancelledWaiterReportsCancellation(t *testing.T) {
	svc := newContentService("access-2")
	svc.refreshDelay = 300 * time.Millisecond
	h := newHarness(t, svc)
	coord := h.client.Coordinator()

	leaderDone := make(chan error, 1)
	go func() {
		_, _, err := h.client.Fetch(context.Background(), "/a")
		leaderDone <- err
	}()
	waitFor(t, coord.Refreshing)

	ctx, cancel := context.WithCancel(context.Background())
	followerDone := make(chan error, 1)
	go func() {
		_, _, err := h.client.Fetch(ctx, "/b")
		followerDone <- err
	}()
	waitFor(t, func() bool { return coord.Waiting() == 1 })
	cancel()

	err := <-followerDone
	if !IsCanceled(err) {
		t.Fatalf("expected a cancellation, got %v", err)
	}
	var pipelineErr *Error
	if !errors.As(err, &pipelineErr) || pipelineErr.URL != "/b" {
		t.Errorf("expected a *Error naming the call, got %v", err)
	}
	if err := <-leaderDone; err != nil {
		t.Fatalf("leader: %v", err)
	}
	if IsCanceled(nil) || IsCanceled(&Error{Kind: KindNetwork}) {
		t.Error("only cancellations are reported as cancelled")
	}
}

func TestRefreshRejectedEndsSession(t *testing.T) {
	svc := newContentService("access-2")
	svc.refreshStatus = http.StatusBadRequest
	h := newHarness(t, svc)

	ctx := WithReturnPath(context.Background(), "/forms/42")
	_, err := h.client.Get(ctx, "/articles/one")
	if !errors.Is(err, ErrRefreshRejected) {
		t.Fatalf("expected refresh rejected, got %v", err)
	}
	if KindOf(err) != KindRefreshRejected {
		t.Errorf("KindOf = %v", KindOf(err))
	}
	var statusErr *RefreshStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadRequest {
		t.Errorf("expected the refresh status to be wrapped, got %v", err)
	}

	state, _ := h.store.Get(context.Background())
	if !state.IsEmpty() {
		t.Errorf("token store should be empty, got %+v", state)
	}
	ends := h.sessionEnds()
	if len(ends) != 1 {
		t.Fatalf("expected one session end, got %d", len(ends))
	}
	if ends[0].Reason != session.ReasonExpired || ends[0].ReturnTo != "/forms/42" {
		t.Errorf("unexpected signal %+v", ends[0])
	}
}

func TestRefreshFailureFailsAllWaitersTogether(t *testing.T) {
	svc := newContentService("access-2")
	svc.staleWave = 5
	svc.refreshStatus = http.StatusUnauthorized
	svc.refreshDelay = 50 * time.Millisecond
	h := newHarness(t, svc)

	var wg sync.WaitGroup
	var rejected atomic.Int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.client.Get(context.Background(), "/articles/x")
			if errors.Is(err, ErrRefreshRejected) {
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := rejected.Load(); got != 5 {
		t.Errorf("expected all 5 calls to fail with refresh rejected, got %d", got)
	}
	if got := svc.refreshCalls.Load(); got != 1 {
		t.Errorf("expected one refresh call, got %d", got)
	}
	if got := len(h.sessionEnds()); got != 1 {
		t.Errorf("expected exactly one termination, got %d", got)
	}
	if h.client.Coordinator().Refreshing() || h.client.Coordinator().Waiting() != 0 {
		t.Error("coordinator should be idle with an empty queue")
	}
}

func TestAuthFailureAfterRetryDoesNotRefresh(t *testing.T) {
	svc := newContentService("someone-else")
	h := newHarness(t, svc)

	_, err := h.client.Get(WithRetryMarker(context.Background()), "/articles/x")
	if KindOf(err) != KindAuthExpiredAfterRetry {
		t.Fatalf("expected auth expired after retry, got %v", err)
	}
	if got := svc.refreshCalls.Load(); got != 0 {
		t.Errorf("no refresh may be attempted, got %d", got)
	}
}

func TestRetryStillUnauthorizedIsTerminal(t *testing.T) {
	svc := newContentService("never")
	h := newHarness(t, svc)

	var refreshes atomic.Int32
	h.client.coordinator.refresher = RefresherFunc(func(ctx context.Context, refreshToken string) (tokenstore.State, error) {
		refreshes.Add(1)
		return tokenstore.State{AccessToken: "access-3", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	_, err := h.client.Get(context.Background(), "/articles/x")
	if KindOf(err) != KindAuthExpiredAfterRetry {
		t.Fatalf("expected auth expired after retry, got %v", err)
	}
	if got := refreshes.Load(); got != 1 {
		t.Errorf("expected exactly one refresh, got %d", got)
	}
	if len(h.sessionEnds()) != 0 {
		t.Error("auth failure after retry is surfaced to the caller, not turned into a session end")
	}
}

func TestApplicationErrorsPassThrough(t *testing.T) {
	svc := newContentService("access-1")
	h := newHarness(t, svc)

	resp, err := h.client.Get(context.Background(), "/missing")
	if err != nil {
		t.Fatalf("Do should return application responses unchanged, got %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}

	_, _, err = h.client.Fetch(context.Background(), "/forbidden")
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != KindApplication || perr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected application error with 403, got %v", err)
	}
	if got := svc.refreshCalls.Load(); got != 0 {
		t.Errorf("403 must not trigger a refresh, got %d", got)
	}
}

func TestNetworkErrorIsNotReinterpreted(t *testing.T) {
	svc := newContentService("access-1")
	h := newHarness(t, svc)
	h.server.Close()

	_, err := h.client.Get(context.Background(), "/articles/x")
	if KindOf(err) != KindNetwork {
		t.Fatalf("expected network error, got %v", err)
	}
	if len(h.sessionEnds()) != 0 {
		t.Error("a network error must not end the session")
	}
	state, _ := h.store.Get(context.Background())
	if state != h.startTok {
		t.Error("a network error must not touch the token store")
	}
}

func TestRetryReplaysRequestBody(t *testing.T) {
	svc := newContentService("access-2")
	h := newHarness(t, svc)

	resp, err := h.client.PostJSON(context.Background(), "/echo", map[string]string{"answer": "42"})
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got["answer"] != "42" {
		t.Errorf("replayed body = %v", got)
	}
}

func TestNewValidatesOptions(t *testing.T) {
	store := tokenstore.NewMemoryStore()
	ender := session.NewTerminator(store, nil, nil, session.TerminatorConfig{}, logger.Discard())

	tests := []struct {
		name string
		opts Options
	}{
		{"no store", Options{BaseURL: "http://x", Ender: ender}},
		{"no ender", Options{BaseURL: "http://x", Store: store}},
		{"relative url", Options{BaseURL: "/api", Store: store, Ender: ender}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}
