package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/devilmonastery/portal/internal/pkg/logger"
	"github.com/devilmonastery/portal/internal/tokenstore"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func okResponse(r *http.Request) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("ok")),
		Header:     make(http.Header),
		Request:    r,
	}
}

type failingStore struct{ tokenstore.Store }

func (failingStore) Get(context.Context) (tokenstore.State, error) {
	return tokenstore.State{}, errors.New("disk on fire")
}

func TestGateAttachesStillValidToken(t *testing.T) {
	store := tokenstore.NewMemoryStore()
	err := store.Set(context.Background(), tokenstore.State{
		AccessToken:  "short-lived",
		RefreshToken: "r",
		ExpiresAt:    time.Now().Add(10 * time.Second),
	})
	if err != nil {
		t.Fatal(err)
	}

	var seen *http.Request
	gate := NewGate(store, roundTripFunc(func(r *http.Request) (*http.Response, error) {
		seen = r
		return okResponse(r), nil
	}), logger.Discard())

	req, _ := http.NewRequest(http.MethodGet, "http://content.local/articles/1?lang=en", nil)
	resp, err := gate.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if got := seen.Header.Get("Authorization"); got != "Bearer short-lived" {
		t.Errorf("Authorization = %q", got)
	}
	if got := seen.Header.Get("Cache-Control"); got != "no-cache, no-store, must-revalidate" {
		t.Errorf("Cache-Control = %q", got)
	}
	if seen.Header.Get("Pragma") != "no-cache" || seen.Header.Get("Expires") != "0" {
		t.Error("missing cache suppression headers")
	}
	if seen.Header.Get(RequestIDHeader) == "" {
		t.Error("missing request id")
	}
	q := seen.URL.Query()
	if q.Get("_") == "" || q.Get("lang") != "en" {
		t.Errorf("unexpected query %q", seen.URL.RawQuery)
	}
	if req.Header.Get("Authorization") != "" || req.URL.Query().Get("_") != "" {
		t.Error("the caller's request must not be modified")
	}
}

func TestGateSendsExpiredTokenAnyway(t *testing.T) {
	store := tokenstore.NewMemoryStore()
	_ = store.Set(context.Background(), tokenstore.State{AccessToken: "stale", ExpiresAt: time.Now().Add(-time.Hour)})

	var auth string
	gate := NewGate(store, roundTripFunc(func(r *http.Request) (*http.Response, error) {
		auth = r.Header.Get("Authorization")
		return okResponse(r), nil
	}), logger.Discard())

	req, _ := http.NewRequest(http.MethodGet, "http://content.local/x", nil)
	resp, err := gate.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if auth != "Bearer stale" {
		t.Errorf("local expiry is advisory, got %q", auth)
	}
}

func TestGateCacheBusterOnlyForIdempotentMethods(t *testing.T) {
	tests := []struct {
		method string
		want   bool
	}{
		{http.MethodGet, true},
		{http.MethodHead, true},
		{http.MethodOptions, true},
		{http.MethodPost, false},
		{http.MethodPut, false},
		{http.MethodDelete, false},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			var query string
			gate := NewGate(tokenstore.NewMemoryStore(), roundTripFunc(func(r *http.Request) (*http.Response, error) {
				query = r.URL.RawQuery
				return okResponse(r), nil
			}), logger.Discard())

			req, _ := http.NewRequest(tt.method, "http://content.local/x", nil)
			resp, err := gate.RoundTrip(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if got := strings.HasPrefix(query, "_="); got != tt.want {
				t.Errorf("cache buster present = %v, want %v (query %q)", got, tt.want, query)
			}
		})
	}
}

func TestGateProceedsUnauthenticatedOnStoreError(t *testing.T) {
	var auth string
	gate := NewGate(failingStore{}, roundTripFunc(func(r *http.Request) (*http.Response, error) {
		auth = r.Header.Get("Authorization")
		return okResponse(r), nil
	}), logger.Discard())

	req, _ := http.NewRequest(http.MethodGet, "http://content.local/x", nil)
	resp, err := gate.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if auth != "" {
		t.Errorf("expected no Authorization header, got %q", auth)
	}
}

func TestGateKeepsCallerRequestID(t *testing.T) {
	var id string
	gate := NewGate(tokenstore.NewMemoryStore(), roundTripFunc(func(r *http.Request) (*http.Response, error) {
		id = r.Header.Get(RequestIDHeader)
		return okResponse(r), nil
	}), logger.Discard())

	req, _ := http.NewRequest(http.MethodGet, "http://content.local/x", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	resp, err := gate.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if id != "abc-123" {
		t.Errorf("request id = %q", id)
	}
}
