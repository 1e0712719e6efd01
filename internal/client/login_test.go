package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPasswordLogin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/auth/login" {
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
		}
		var req loginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Username != "reader" || req.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid credentials"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"a1","refresh_token":"r1","expires_in":300}`))
	}))
	defer server.Close()

	state, err := PasswordLogin(context.Background(), nil, server.URL+"/api", "", "reader", "secret")
	if err != nil {
		t.Fatalf("PasswordLogin: %v", err)
	}
	if state.AccessToken != "a1" || state.RefreshToken != "r1" || state.ExpiresAt.IsZero() {
		t.Errorf("state = %+v", state)
	}

	_, err = PasswordLogin(context.Background(), nil, server.URL+"/api", DefaultLoginPath, "reader", "wrong")
	var se *RefreshStatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 status error, got %v", err)
	}
}
