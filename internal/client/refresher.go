package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/devilmonastery/portal/internal/pkg/urlutil"
	"github.com/devilmonastery/portal/internal/tokenstore"
)

const (
	DefaultRefreshPath = "/auth/refresh"

	// maxErrorBody bounds how much of a rejected refresh response is kept.
	maxErrorBody = 512
)

// Refresher exchanges a refresh token for a new token triple.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (tokenstore.State, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, refreshToken string) (tokenstore.State, error)

func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (tokenstore.State, error) {
	return f(ctx, refreshToken)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// HTTPRefresher calls the refresh endpoint with a plain client, never
// through the Gate.
type HTTPRefresher struct {
	endpoint string
	http     *http.Client
	log      *slog.Logger
	now      func() time.Time
}

// NewHTTPRefresher builds a refresher for baseURL + path
// (DefaultRefreshPath when empty). A nil httpClient uses a client with a 10s timeout.
func NewHTTPRefresher(baseURL, path string, httpClient *http.Client, log *slog.Logger) (*HTTPRefresher, error) {
	if path == "" {
		path = DefaultRefreshPath
	}
	u, err := urlutil.ResolvePath(baseURL, path)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	return &HTTPRefresher{
		endpoint: u.String(),
		http:     httpClient,
		log:      log.With(slog.String("component", "refresher")),
		now:      time.Now,
	}, nil
}

// Endpoint returns the refresh URL.
func (r *HTTPRefresher) Endpoint() string {
	return r.endpoint
}

// Refresh performs one refresh call. Any non-2xx status is a
// *RefreshStatusError. An omitted refresh token in the answer keeps the
// previous one.
func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (tokenstore.State, error) {
	tok, err := exchange(ctx, r.http, r.endpoint, refreshRequest{RefreshToken: refreshToken}, r.now)
	if err != nil {
		return tokenstore.State{}, err
	}
	r.log.Debug("refresh endpoint issued a token", slog.String("token_prefix", tokenstore.Preview(tok.AccessToken)))
	return stateFromToken(tok, refreshToken)
}

// exchange POSTs payload as JSON to a token endpoint and decodes the OAuth2
// style token response.
func exchange(ctx context.Context, httpClient *http.Client, endpoint string, payload any, now func() time.Time) (*oauth2.Token, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-store")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &RefreshStatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(excerpt)),
		}
	}

	var tok oauth2.Token
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tok.ExpiresIn > 0 {
		tok.Expiry = now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	return &tok, nil
}

// stateFromToken converts an oauth2 token into the stored triple. The expiry
// falls back to the access token's exp claim.
func stateFromToken(tok *oauth2.Token, previousRefresh string) (tokenstore.State, error) {
	if tok.AccessToken == "" {
		return tokenstore.State{}, fmt.Errorf("token response has no access token")
	}
	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		exp, err := tokenstore.ExpiryFromJWT(tok.AccessToken)
		if err != nil {
			return tokenstore.State{}, fmt.Errorf("token response has no usable expiry: %w", err)
		}
		expiresAt = exp
	}
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = previousRefresh
	}
	return tokenstore.State{
		AccessToken:  tok.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
	}, nil
}
