package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/devilmonastery/portal/internal/pkg/metrics"
	"github.com/devilmonastery/portal/internal/pkg/urlutil"
	"github.com/devilmonastery/portal/internal/session"
	"github.com/devilmonastery/portal/internal/tokenstore"
)

const DefaultTimeout = 30 * time.Second

var errBodyNotReplayable = errors.New("request body cannot be replayed")

type contextKey int

const (
	retryMarkerKey contextKey = iota
	returnPathKey
)

// WithRetryMarker marks the call as already retried once after a refresh.
func WithRetryMarker(ctx context.Context) context.Context {
	return context.WithValue(ctx, retryMarkerKey, true)
}

// HasRetryMarker reports whether the call has already been retried.
func HasRetryMarker(ctx context.Context) bool {
	v, _ := ctx.Value(retryMarkerKey).(bool)
	return v
}

// WithReturnPath records the view the user is on, so a session ended by this
// call can resume there after re-authentication.
func WithReturnPath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, returnPathKey, path)
}

// ReturnPath returns the view recorded by WithReturnPath.
func ReturnPath(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(returnPathKey).(string)
	return v, ok
}

// Options configures a Client.
type Options struct {
	// BaseURL of the content service.
	BaseURL string

	// Store holds the session's tokens. Required.
	Store tokenstore.Store

	// Ender is told when a refresh fails. Required.
	Ender session.Ender

	// Refresher overrides the HTTP refresh endpoint client.
	Refresher Refresher

	// RefreshPath is appended to BaseURL for the default refresher.
	RefreshPath string

	RefreshTimeout time.Duration
	Timeout        time.Duration

	// Transport is the base transport under the Gate.
	Transport http.RoundTripper

	Logger *slog.Logger
}

// Client sends authenticated calls to the content service. An auth failure
// triggers one coordinated refresh and a single replay of the call.
type Client struct {
	base        *url.URL
	http        *http.Client
	store       tokenstore.Store
	coordinator *Coordinator
	log         *slog.Logger
}

// New builds a Client and its Coordinator.
func New(opts Options) (*Client, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if opts.Ender == nil {
		return nil, fmt.Errorf("session ender is required")
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid content service URL %q", opts.BaseURL)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	refresher := opts.Refresher
	if refresher == nil {
		// The refresher must not share the Gate.
		plain := &http.Client{Timeout: timeout}
		if opts.Transport != nil {
			plain.Transport = opts.Transport
		}
		refresher, err = NewHTTPRefresher(opts.BaseURL, opts.RefreshPath, plain, log)
		if err != nil {
			return nil, err
		}
	}

	return &Client{
		base: base,
		http: &http.Client{
			Transport: NewGate(opts.Store, opts.Transport, log),
			Timeout:   timeout,
		},
		store: opts.Store,
		coordinator: NewCoordinator(opts.Store, refresher, opts.Ender,
			WithRefreshTimeout(opts.RefreshTimeout),
			WithCoordinatorLogger(log)),
		log: log.With(slog.String("component", "content_client")),
	}, nil
}

// Coordinator returns the session's refresh coordinator.
func (c *Client) Coordinator() *Coordinator {
	return c.coordinator
}

// Store returns the session's token store.
func (c *Client) Store() tokenstore.Store {
	return c.store
}

// BaseURL returns the content service URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// NewRequest builds a request for a path relative to the content service.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u, err := urlutil.ResolvePath(c.base.String(), path)
	if err != nil {
		return nil, err
	}
	return http.NewRequestWithContext(ctx, method, u.String(), body)
}

// Do sends req through the pipeline.
//
// Successful and application-error responses are returned unchanged and the
// caller must close the body. Every other outcome is returned as a *Error;
// a caller that gave up while a refresh was in flight gets KindNetwork
// wrapping its ctx error (see IsCanceled).
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	retried := HasRetryMarker(ctx)

	attemptCtx, sent := withSentToken(ctx)
	resp, err := c.http.Do(req.WithContext(attemptCtx))
	kind := Classify(resp, err, retried)
	if kind != KindAuthExpired {
		return c.finish(kind, req, resp, err)
	}
	drainAndClose(resp)

	ctx = WithRetryMarker(ctx)
	c.log.Debug("auth expired, awaiting refresh",
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path))
	if _, err := c.coordinator.Await(ctx, sent.token); err != nil {
		var pipelineErr *Error
		if errors.As(err, &pipelineErr) {
			return nil, err
		}
		// The caller gave up while the refresh was in flight.
		return nil, &Error{Kind: KindNetwork, Method: req.Method, URL: req.URL.Path, Err: err}
	}

	// The session is refreshed even when this call cannot be sent again.
	replay, err := replayable(req)
	if err != nil {
		metrics.Failures.WithLabelValues(KindApplication.String()).Inc()
		return nil, &Error{Kind: KindApplication, StatusCode: http.StatusUnauthorized, Method: req.Method, URL: req.URL.Path, Err: err}
	}

	resp, err = c.http.Do(replay.WithContext(ctx))
	kind = Classify(resp, err, true)
	metrics.Retries.WithLabelValues(kind.String()).Inc()
	return c.finish(kind, req, resp, err)
}

func (c *Client) finish(kind Kind, req *http.Request, resp *http.Response, err error) (*http.Response, error) {
	if kind != KindSuccess {
		metrics.Failures.WithLabelValues(kind.String()).Inc()
	}
	switch kind {
	case KindSuccess, KindApplication:
		return resp, nil
	case KindNetwork:
		drainAndClose(resp)
		return nil, &Error{Kind: KindNetwork, Method: req.Method, URL: req.URL.Path, Err: err}
	default:
		drainAndClose(resp)
		return nil, &Error{Kind: kind, StatusCode: resp.StatusCode, Method: req.Method, URL: req.URL.Path}
	}
}

// replayable returns a copy of req whose body can be sent again.
func replayable(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return out, nil
	}
	if req.GetBody == nil {
		return nil, errBodyNotReplayable
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("failed to rewind request body: %w", err)
	}
	out.Body = body
	return out, nil
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

// Get issues an authenticated GET for path.
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := c.NewRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, req)
}

// Fetch GETs path and returns its body and content type. Application-error
// statuses become a *Error of kind KindApplication.
func (c *Client) Fetch(ctx context.Context, path string) ([]byte, string, error) {
	resp, err := c.Get(ctx, path)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if Classify(resp, nil, false) == KindApplication {
		return nil, "", &Error{Kind: KindApplication, StatusCode: resp.StatusCode, Method: http.MethodGet, URL: path}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", &Error{Kind: KindNetwork, Method: http.MethodGet, URL: path, Err: err}
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// PostJSON POSTs v encoded as JSON to path.
func (c *Client) PostJSON(ctx context.Context, path string, v any) (*http.Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := c.NewRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.Do(ctx, req)
}
