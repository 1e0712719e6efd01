package session

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/devilmonastery/portal/internal/config"
	coresession "github.com/devilmonastery/portal/internal/session"
	"github.com/devilmonastery/portal/internal/tokenstore"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestManagerIssuesAndKeepsID(t *testing.T) {
	m := NewManager("portal_session", []byte("0123456789abcdef0123456789abcdef"), false, 3600)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	id, err := m.EnsureID(rec, req)
	if err != nil || id == "" {
		t.Fatalf("EnsureID = %q, %v", id, err)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || !cookies[0].HttpOnly {
		t.Fatalf("cookies = %+v", cookies)
	}

	next := httptest.NewRequest(http.MethodGet, "/", nil)
	next.AddCookie(cookies[0])
	if got := m.ID(next); got != id {
		t.Errorf("ID = %q, want %q", got, id)
	}
	again, err := m.EnsureID(httptest.NewRecorder(), next)
	if err != nil || again != id {
		t.Errorf("EnsureID reissued %q, want %q", again, id)
	}

	rotated, err := m.Rotate(httptest.NewRecorder(), next)
	if err != nil || rotated == id {
		t.Errorf("Rotate = %q, %v", rotated, err)
	}
}

func TestStatusView(t *testing.T) {
	s := newStatus()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if got := s.View(); got.State != StateActive {
		t.Errorf("initial state = %+v", got)
	}

	s.InactivityWarning(time.Minute)
	now = now.Add(20 * time.Second)
	if got := s.View(); got.State != StateWarning || got.RemainingSeconds != 40 {
		t.Errorf("warning view = %+v", got)
	}

	s.Activity()
	if got := s.View(); got.State != StateActive {
		t.Errorf("after activity = %+v", got)
	}

	s.SessionEnded(coresession.Signal{Reason: coresession.ReasonInactivity, Destination: "/login?reason=inactivity"})
	got := s.View()
	if got.State != StateEnded || got.Destination != "/login?reason=inactivity" || got.Message != coresession.ReasonInactivity.Message() {
		t.Errorf("ended view = %+v", got)
	}

	s.Reset()
	if _, ended := s.Ended(); ended {
		t.Error("Reset kept the ended signal")
	}
}

func TestRegistryIsolatesSessionsInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	base := tokenstore.NewRedisStore(rdb, "portal:tokens", 0, discard())

	settings := config.Defaults()
	reg, err := NewRegistry(settings, discard(), WithStoreFactory(func(id string) tokenstore.Store {
		return base.WithPrefix(base.Prefix() + ":" + id)
	}))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = reg.Close() })

	ctx := context.Background()
	a, err := reg.Get("a")
	if err != nil {
		t.Fatal(err)
	}
	b, err := reg.Get("b")
	if err != nil {
		t.Fatal(err)
	}
	if again, _ := reg.Get("a"); again != a {
		t.Error("Get created a second entry for the same id")
	}
	if a.Client.Coordinator() == b.Client.Coordinator() {
		t.Error("sessions share a coordinator")
	}

	state := tokenstore.State{AccessToken: "tok-a", RefreshToken: "ref-a", ExpiresAt: time.Now().Add(time.Hour).Truncate(time.Second)}
	if err := a.Store.Set(ctx, state); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("portal:tokens:a:access_token") {
		t.Errorf("keys = %v", mr.Keys())
	}
	if !a.Authenticated(ctx) || b.Authenticated(ctx) {
		t.Error("token leaked between sessions")
	}

	if !a.Terminator.Terminate(ctx, coresession.ReasonManual, "") {
		t.Fatal("terminate collapsed unexpectedly")
	}
	if a.Authenticated(ctx) {
		t.Error("terminate did not clear the session's store")
	}
	if v := a.Status.View(); v.State != StateEnded || v.Destination != "/login" {
		t.Errorf("status after logout = %+v", v)
	}

	reg.Forget("a")
	if _, ok := reg.Lookup("a"); ok || reg.Len() != 1 {
		t.Errorf("Forget left %d entries", reg.Len())
	}
}

func TestRegistryRestoresSessionAfterRestart(t *testing.T) {
	mr := miniredis.RunT(t)
	settings := config.Defaults()
	settings.TokenStore.Backend = "redis"
	settings.TokenStore.Redis.Addr = mr.Addr()
	settings.TokenStore.Redis.KeyPrefix = "portal:tokens"

	ctx := context.Background()
	before, err := NewRegistry(settings, discard())
	if err != nil {
		t.Fatal(err)
	}
	e, err := before.Get("sid-1")
	if err != nil {
		t.Fatal(err)
	}
	state := tokenstore.State{AccessToken: "tok-1", RefreshToken: "ref-1", ExpiresAt: time.Now().Add(time.Hour).Truncate(time.Second)}
	if err := e.Store.Set(ctx, state); err != nil {
		t.Fatal(err)
	}
	if err := before.Close(); err != nil {
		t.Fatal(err)
	}

	after, err := NewRegistry(settings, discard())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = after.Close() })

	if _, ok := after.Restore(ctx, "someone-else"); ok || after.Len() != 0 {
		t.Fatal("an id without stored tokens must not get an entry")
	}
	restored, ok := after.Restore(ctx, "sid-1")
	if !ok {
		t.Fatal("session with stored tokens was not restored")
	}
	if !restored.Authenticated(ctx) {
		t.Error("restored session lost its credentials")
	}
	if v := restored.Status.View(); v.State != StateActive {
		t.Errorf("restored status = %+v", v)
	}
	if again, _ := after.Restore(ctx, "sid-1"); again != restored || after.Len() != 1 {
		t.Error("Restore built a second entry for the same id")
	}
}

func TestEndedSessionIsForgotten(t *testing.T) {
	settings := config.Defaults()
	settings.TokenStore.Backend = "memory"
	settings.Session.Inactivity.Enabled = false

	reg, err := NewRegistry(settings, discard(), WithEndedRetention(20*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = reg.Close() })

	ctx := context.Background()
	ended, _ := reg.Get("ended")
	kept, _ := reg.Get("kept")
	if !ended.Terminator.Terminate(ctx, coresession.ReasonExpired, "/articles/x") {
		t.Fatal("terminate collapsed unexpectedly")
	}
	if _, ok := reg.Lookup("ended"); !ok {
		t.Error("ended entry should stay readable during the retention window")
	}

	deadline := time.Now().Add(2 * time.Second)
	for reg.Len() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("ended entry never forgotten, %d entries", reg.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got, ok := reg.Lookup("kept"); !ok || got != kept {
		t.Error("forgetting an ended entry dropped another session")
	}
}

func TestLateForgetKeepsNewerEntry(t *testing.T) {
	settings := config.Defaults()
	settings.TokenStore.Backend = "memory"
	settings.Session.Inactivity.Enabled = false

	reg, err := NewRegistry(settings, discard(), WithEndedRetention(50*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = reg.Close() })

	old, _ := reg.Get("sid")
	old.Terminator.Terminate(context.Background(), coresession.ReasonManual, "")
	reg.Forget("sid")
	fresh, _ := reg.Get("sid")

	time.Sleep(150 * time.Millisecond)
	if got, ok := reg.Lookup("sid"); !ok || got != fresh {
		t.Error("retention timer of an ended entry removed its replacement")
	}
}

func TestRegistryRejectsFileBackend(t *testing.T) {
	settings := config.Defaults()
	settings.TokenStore.Backend = "file"
	if _, err := NewRegistry(settings, discard()); err == nil {
		t.Fatal("expected an error for the file backend")
	}
}

func TestInactivityEndsOnlyThatSession(t *testing.T) {
	settings := config.Defaults()
	settings.TokenStore.Backend = "memory"
	settings.Session.Inactivity.Window = 300 * time.Millisecond
	settings.Session.Inactivity.WarningLead = 100 * time.Millisecond
	settings.Session.Inactivity.Debounce = 10 * time.Millisecond

	reg, err := NewRegistry(settings, discard())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = reg.Close() })

	ctx := context.Background()
	idle, _ := reg.Get("idle")
	busy, _ := reg.Get("busy")
	for _, e := range []*Entry{idle, busy} {
		err := e.Store.Set(ctx, tokenstore.State{AccessToken: "t", ExpiresAt: time.Now().Add(time.Hour)})
		if err != nil {
			t.Fatal(err)
		}
		e.Monitor.SetView("/articles/x")
		e.Begin()
	}

	deadline := time.Now().Add(600 * time.Millisecond)
	for time.Now().Before(deadline) {
		busy.Monitor.Touch(coresession.ActivityPointer)
		time.Sleep(50 * time.Millisecond)
	}

	if idle.Authenticated(ctx) {
		t.Error("idle session still authenticated")
	}
	sig, ended := idle.Status.Ended()
	if !ended || sig.Reason != coresession.ReasonInactivity || sig.ReturnTo != "/articles/x" {
		t.Errorf("idle status = %+v, %v", sig, ended)
	}
	if !busy.Authenticated(ctx) {
		t.Error("busy session was ended")
	}
}

func TestUserLabel(t *testing.T) {
	signed := func(claims jwt.MapClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
		if err != nil {
			t.Fatal(err)
		}
		return s
	}
	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"empty", "", ""},
		{"opaque", "not-a-jwt", ""},
		{"display name wins", signed(jwt.MapClaims{"display_name": "Ada", "email": "ada@example.com"}), "Ada"},
		{"email fallback", signed(jwt.MapClaims{"email": "ada@example.com"}), "ada@example.com"},
		{"expired still labelled", signed(jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(-time.Hour).Unix()}), "u1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserLabel(tt.token); got != tt.want {
				t.Errorf("UserLabel = %q, want %q", got, tt.want)
			}
		})
	}
}
