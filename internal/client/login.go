package client

import (
	"context"
	"net/http"
	"time"

	"github.com/devilmonastery/portal/internal/pkg/urlutil"
	"github.com/devilmonastery/portal/internal/tokenstore"
)

const DefaultLoginPath = "/auth/login"

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// PasswordLogin exchanges a username and password for a token triple at
// baseURL + path (DefaultLoginPath when empty). It never goes through the Gate.
func PasswordLogin(ctx context.Context, httpClient *http.Client, baseURL, path, username, password string) (tokenstore.State, error) {
	if path == "" {
		path = DefaultLoginPath
	}
	u, err := urlutil.ResolvePath(baseURL, path)
	if err != nil {
		return tokenstore.State{}, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	tok, err := exchange(ctx, httpClient, u.String(), loginRequest{Username: username, Password: password}, time.Now)
	if err != nil {
		return tokenstore.State{}, err
	}
	return stateFromToken(tok, "")
}
