package session

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devilmonastery/portal/internal/pkg/logger"
	"github.com/devilmonastery/portal/internal/tokenstore"
)

// countingStore counts Clear calls on top of a memory store.
type countingStore struct {
	*tokenstore.MemoryStore
	clears atomic.Int32
}

func (c *countingStore) Clear(ctx context.Context) error {
	c.clears.Add(1)
	return c.MemoryStore.Clear(ctx)
}

func newCountingStore(t *testing.T) *countingStore {
	t.Helper()
	s := &countingStore{MemoryStore: tokenstore.NewMemoryStore()}
	err := s.Set(context.Background(), tokenstore.State{
		AccessToken:  "a",
		RefreshToken: "r",
		ExpiresAt:    time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// recordingNavigator records destinations and optionally blocks until released.
type recordingNavigator struct {
	mu    sync.Mutex
	dests []string
	block chan struct{}
}

func (r *recordingNavigator) Navigate(ctx context.Context, destination string) error {
	r.mu.Lock()
	r.dests = append(r.dests, destination)
	block := r.block
	r.mu.Unlock()
	if block != nil {
		<-block
	}
	return nil
}

func (r *recordingNavigator) destinations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.dests...)
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestTerminateCollapsesConcurrentCalls(t *testing.T) {
	store := newCountingStore(t)
	notifier := NewChannelNotifier(64, logger.Discard())
	nav := &recordingNavigator{}
	term := NewTerminator(store, notifier, nav, TerminatorConfig{Grace: time.Minute}, logger.Discard())

	const n = 50
	var wg sync.WaitGroup
	var winners atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if term.Terminate(context.Background(), ReasonExpired, "/articles/7") {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := winners.Load(); got != 1 {
		t.Fatalf("expected exactly one effective termination, got %d", got)
	}
	if got := store.clears.Load(); got != n {
		t.Errorf("expected every request to clear the store, got %d clears", got)
	}
	events := drain(notifier.Events())
	if len(events) != 1 || events[0].Type != EventSessionEnded {
		t.Fatalf("expected one session-ended event, got %+v", events)
	}
	if events[0].Signal.Reason != ReasonExpired || events[0].Signal.ReturnTo != "/articles/7" {
		t.Errorf("unexpected signal %+v", events[0].Signal)
	}
	dests := nav.destinations()
	if len(dests) != 1 {
		t.Fatalf("expected one navigation, got %v", dests)
	}
	u, err := url.Parse(dests[0])
	if err != nil {
		t.Fatal(err)
	}
	if u.Path != "/login" || u.Query().Get("next") != "/articles/7" || u.Query().Get("reason") != "expired" {
		t.Errorf("unexpected destination %q", dests[0])
	}
	if s, _ := store.Get(context.Background()); !s.IsEmpty() {
		t.Errorf("store should be empty, got %+v", s)
	}
}

func TestCollapsedTerminateClearsTokensWrittenDuringGuard(t *testing.T) {
	store := newCountingStore(t)
	notifier := NewChannelNotifier(8, logger.Discard())
	nav := &recordingNavigator{}
	term := NewTerminator(store, notifier, nav, TerminatorConfig{Grace: time.Minute}, logger.Discard())
	ctx := context.Background()

	if !term.Terminate(ctx, ReasonExpired, "/articles/7") {
		t.Fatal("first termination should take effect")
	}

	// A refresh that was already in flight lands after the first clear.
	late := tokenstore.State{AccessToken: "late", RefreshToken: "r2", ExpiresAt: time.Now().Add(time.Hour)}
	if err := store.Set(ctx, late); err != nil {
		t.Fatal(err)
	}

	if term.Terminate(ctx, ReasonInactivity, "/articles/8") {
		t.Fatal("second termination should collapse into the first")
	}
	if s, _ := store.Get(ctx); !s.IsEmpty() {
		t.Errorf("collapsed termination left tokens behind: %+v", s)
	}
	if got := len(drain(notifier.Events())); got != 1 {
		t.Errorf("expected one session-ended event, got %d", got)
	}
	if got := len(nav.destinations()); got != 1 {
		t.Errorf("expected one navigation, got %d", got)
	}
}

func TestTerminateRearmsAfterNavigationAndGrace(t *testing.T) {
	store := newCountingStore(t)
	nav := &recordingNavigator{block: make(chan struct{})}
	term := NewTerminator(store, nil, nav, TerminatorConfig{Grace: 50 * time.Millisecond, MaxHold: time.Minute}, logger.Discard())

	done := make(chan bool)
	go func() { done <- term.Terminate(context.Background(), ReasonInactivity, "/forms/1") }()

	// Navigation is still in flight: well past the grace window the guard must hold.
	time.Sleep(150 * time.Millisecond)
	if term.Terminate(context.Background(), ReasonExpired, "/x") {
		t.Fatal("termination during an unfinished navigation must be collapsed")
	}

	close(nav.block)
	if !<-done {
		t.Fatal("first termination should have taken effect")
	}
	if !term.Terminating() {
		t.Fatal("guard should stay up for the grace window after navigation")
	}

	time.Sleep(120 * time.Millisecond)
	if term.Terminating() {
		t.Fatal("guard should be released after the grace window")
	}
	if !term.Terminate(context.Background(), ReasonManual, "") {
		t.Fatal("a new session end after the guard is released must be honored")
	}
	if got := store.clears.Load(); got != 3 {
		t.Errorf("expected three clears, collapsed one included, got %d", got)
	}
	dests := nav.destinations()
	if len(dests) != 2 || dests[1] != "/login" {
		t.Errorf("unexpected destinations %v", dests)
	}
}

func TestTerminateMaxHoldReleasesStuckNavigation(t *testing.T) {
	store := newCountingStore(t)
	nav := &recordingNavigator{block: make(chan struct{})}
	defer close(nav.block)
	term := NewTerminator(store, nil, nav, TerminatorConfig{Grace: 10 * time.Millisecond, MaxHold: 80 * time.Millisecond}, logger.Discard())

	go term.Terminate(context.Background(), ReasonExpired, "")

	deadline := time.Now().Add(2 * time.Second)
	for !term.Terminating() {
		if time.Now().After(deadline) {
			t.Fatal("termination never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(200 * time.Millisecond)
	if term.Terminating() {
		t.Fatal("guard should be force-released after MaxHold")
	}
}

func TestReason(t *testing.T) {
	tests := []struct {
		in      string
		want    Reason
		query   string
		wantErr bool
	}{
		{"inactivity", ReasonInactivity, "inactivity", false},
		{"expired", ReasonExpired, "expired", false},
		{"manual", ReasonManual, "", false},
		{"bored", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseReason(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseReason(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseReason(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if !tt.wantErr {
				if got.QueryValue() != tt.query {
					t.Errorf("QueryValue() = %q, want %q", got.QueryValue(), tt.query)
				}
				if got.Message() == "" {
					t.Error("Message() should not be empty")
				}
			}
		})
	}
}
