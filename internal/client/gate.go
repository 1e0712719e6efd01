package client

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/devilmonastery/portal/internal/pkg/idgen"
	"github.com/devilmonastery/portal/internal/pkg/metrics"
	"github.com/devilmonastery/portal/internal/pkg/urlutil"
	"github.com/devilmonastery/portal/internal/tokenstore"
)

const RequestIDHeader = "X-Request-ID"

type sentTokenKey struct{}

// sentToken records the access token the Gate attached to one attempt.
type sentToken struct {
	token string
}

// withSentToken makes the Gate report the token it attaches to calls made with ctx.
func withSentToken(ctx context.Context) (context.Context, *sentToken) {
	st := &sentToken{}
	return context.WithValue(ctx, sentTokenKey{}, st), st
}

// Gate is an http.RoundTripper that stamps every outgoing call with the
// current bearer token and cache-suppression metadata.
type Gate struct {
	store tokenstore.Store
	base  http.RoundTripper
	log   *slog.Logger
	now   func() time.Time
}

// NewGate wraps base (http.DefaultTransport when nil).
func NewGate(store tokenstore.Store, base http.RoundTripper, log *slog.Logger) *Gate {
	if base == nil {
		base = http.DefaultTransport
	}
	if log == nil {
		log = slog.Default()
	}
	return &Gate{
		store: store,
		base:  base,
		log:   log.With(slog.String("component", "request_gate")),
		now:   time.Now,
	}
}

// RoundTrip implements http.RoundTripper. Local expiry is advisory only: an
// expired-looking token is still sent and the server decides.
func (g *Gate) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())

	authenticated := false
	state, err := g.store.Get(req.Context())
	if err != nil {
		g.log.Warn("failed to read token store, sending unauthenticated",
			slog.String("error", err.Error()))
	} else if state.HasAccessToken() {
		if st, ok := req.Context().Value(sentTokenKey{}).(*sentToken); ok {
			st.token = state.AccessToken
		}
		out.Header.Set("Authorization", "Bearer "+state.AccessToken)
		authenticated = true
		if state.IsExpired(g.now()) {
			g.log.Debug("access token looks expired, sending anyway",
				slog.String("token_prefix", state.TokenPreview()))
		}
	}

	out.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	out.Header.Set("Pragma", "no-cache")
	out.Header.Set("Expires", "0")
	if out.Header.Get(RequestIDHeader) == "" {
		out.Header.Set(RequestIDHeader, idgen.GenerateID())
	}

	if isIdempotent(out.Method) && out.URL != nil {
		out.URL = urlutil.WithCacheBuster(out.URL, idgen.CacheBuster())
	}

	start := time.Now()
	resp, err := g.base.RoundTrip(out)
	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
	}
	metrics.RecordOutbound(out.Method, statusCode, authenticated, time.Since(start), err)
	return resp, err
}

func isIdempotent(method string) bool {
	switch method {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
