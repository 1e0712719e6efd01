package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/devilmonastery/portal/internal/pkg/metrics"
	"github.com/devilmonastery/portal/internal/tokenstore"
)

// AuthInterceptor applies the refresh-and-retry-once policy to gRPC calls.
type AuthInterceptor struct {
	store       tokenstore.Store
	coordinator *Coordinator
	log         *slog.Logger
}

// NewAuthInterceptor creates an interceptor sharing the session's coordinator.
func NewAuthInterceptor(store tokenstore.Store, coordinator *Coordinator, log *slog.Logger) *AuthInterceptor {
	if log == nil {
		log = slog.Default()
	}
	return &AuthInterceptor{
		store:       store,
		coordinator: coordinator,
		log:         log.With(slog.String("component", "grpc_auth")),
	}
}

// attach adds the stored bearer token to the outgoing metadata and returns
// the token it used.
func (a *AuthInterceptor) attach(ctx context.Context) (context.Context, string) {
	state, err := a.store.Get(ctx)
	if err != nil {
		a.log.Warn("failed to read token store, calling unauthenticated", slog.String("error", err.Error()))
		return ctx, ""
	}
	if !state.HasAccessToken() {
		return ctx, ""
	}
	// NewOutgoingContext replaces any authorization header from a previous attempt.
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	md.Set("authorization", "Bearer "+state.AccessToken)
	return metadata.NewOutgoingContext(ctx, md), state.AccessToken
}

// Unary returns a gRPC unary client interceptor with coordinated refresh.
func (a *AuthInterceptor) Unary() grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		retried := HasRetryMarker(ctx)
		attached, sent := a.attach(ctx)
		err := invoker(attached, method, req, reply, cc, opts...)
		kind := ClassifyGRPC(err, retried)
		if kind != KindAuthExpired {
			return a.finish(kind, method, err)
		}

		a.log.Info("token expired, awaiting refresh", slog.String("method", method))
		ctx = WithRetryMarker(ctx)
		if _, refreshErr := a.coordinator.Await(ctx, sent); refreshErr != nil {
			return refreshErr
		}

		a.log.Debug("retrying request with refreshed token", slog.String("method", method))
		attached, _ = a.attach(ctx)
		err = invoker(attached, method, req, reply, cc, opts...)
		kind = ClassifyGRPC(err, true)
		metrics.Retries.WithLabelValues(kind.String()).Inc()
		return a.finish(kind, method, err)
	}
}

func (a *AuthInterceptor) finish(kind Kind, method string, err error) error {
	if kind != KindSuccess {
		metrics.Failures.WithLabelValues(kind.String()).Inc()
	}
	switch kind {
	case KindSuccess:
		return nil
	case KindApplication:
		// status errors pass through unchanged so callers can inspect codes
		return err
	default:
		a.log.Debug("call failed",
			slog.String("method", method),
			slog.String("kind", kind.String()),
			slog.String("code", statusCode(err)))
		return &Error{Kind: kind, Method: "grpc", URL: method, Err: err}
	}
}

// Stream returns a gRPC stream client interceptor. Server-streaming calls
// that fail authentication before their first message are refreshed through
// the coordinator and reopened once with the request replayed. Client and
// bidirectional streams only carry the current token.
func (a *AuthInterceptor) Stream() grpc.StreamClientInterceptor {
	return func(
		ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		opts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		attached, sent := a.attach(ctx)
		if desc.ClientStreams || !desc.ServerStreams {
			return streamer(attached, desc, cc, method, opts...)
		}

		s := &refreshingStream{
			a:        a,
			ctx:      ctx,
			desc:     desc,
			cc:       cc,
			method:   method,
			streamer: streamer,
			opts:     opts,
			token:    sent,
			retried:  HasRetryMarker(ctx),
		}
		cs, err := streamer(attached, desc, cc, method, opts...)
		if err == nil {
			s.ClientStream = cs
			return s, nil
		}
		kind := ClassifyGRPC(err, s.retried)
		if kind != KindAuthExpired {
			return nil, a.finish(kind, method, err)
		}
		if err := s.reopen(); err != nil {
			return nil, err
		}
		return s, nil
	}
}

// refreshingStream wraps a server-streaming call so an auth failure on its
// first receive goes through the refresh flow once.
type refreshingStream struct {
	grpc.ClientStream

	a        *AuthInterceptor
	ctx      context.Context
	desc     *grpc.StreamDesc
	cc       *grpc.ClientConn
	method   string
	streamer grpc.Streamer
	opts     []grpc.CallOption

	token     string
	retried   bool
	sent      []interface{}
	closeSent bool
	received  bool
}

func (s *refreshingStream) SendMsg(m interface{}) error {
	s.sent = append(s.sent, m)
	return s.ClientStream.SendMsg(m)
}

func (s *refreshingStream) CloseSend() error {
	s.closeSent = true
	return s.ClientStream.CloseSend()
}

func (s *refreshingStream) RecvMsg(m interface{}) error {
	err := s.ClientStream.RecvMsg(m)
	if err == nil {
		s.received = true
		return nil
	}
	if s.received {
		return err
	}
	switch ClassifyGRPC(err, s.retried) {
	case KindAuthExpired:
	case KindAuthExpiredAfterRetry:
		return s.a.finish(KindAuthExpiredAfterRetry, s.method, err)
	default:
		return err
	}

	if err := s.reopen(); err != nil {
		return err
	}
	err = s.ClientStream.RecvMsg(m)
	if err == nil {
		s.received = true
		return nil
	}
	kind := ClassifyGRPC(err, true)
	metrics.Retries.WithLabelValues(kind.String()).Inc()
	if kind == KindAuthExpiredAfterRetry {
		return s.a.finish(kind, s.method, err)
	}
	return err
}

// reopen waits for the coordinated refresh, then opens a new stream with the
// fresh token and replays what was sent on the failed one.
func (s *refreshingStream) reopen() error {
	s.retried = true
	ctx := WithRetryMarker(s.ctx)
	s.a.log.Info("stream token expired, awaiting refresh", slog.String("method", s.method))
	if _, err := s.a.coordinator.Await(ctx, s.token); err != nil {
		return err
	}

	attached, token := s.a.attach(ctx)
	cs, err := s.streamer(attached, s.desc, s.cc, s.method, s.opts...)
	if err != nil {
		return s.a.finish(ClassifyGRPC(err, true), s.method, err)
	}
	s.ClientStream = cs
	s.token = token
	for _, m := range s.sent {
		if err := cs.SendMsg(m); err != nil {
			return err
		}
	}
	if s.closeSent {
		return cs.CloseSend()
	}
	return nil
}

// Dial opens a connection to a gRPC endpoint of the content service. TLS is
// used unless the address is local. A nil interceptor dials unauthenticated.
func Dial(serverAddress, serverName string, interceptor *AuthInterceptor, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	if isLocalhost(serverAddress) {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		if serverName == "" {
			serverName = serverAddress
			if idx := strings.LastIndex(serverAddress, ":"); idx != -1 {
				serverName = serverAddress[:idx]
			}
		}
		creds := credentials.NewTLS(&tls.Config{
			ServerName: serverName,
			MinVersion: tls.VersionTLS12,
		})
		opts = append(opts, grpc.WithTransportCredentials(creds))
	}

	if interceptor != nil {
		opts = append(opts,
			grpc.WithUnaryInterceptor(interceptor.Unary()),
			grpc.WithStreamInterceptor(interceptor.Stream()),
		)
	}
	opts = append(opts, extra...)

	conn, err := grpc.NewClient(serverAddress, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gRPC server: %w", err)
	}
	return conn, nil
}

// isLocalhost checks if an address is loopback or a bare cluster-internal name.
func isLocalhost(address string) bool {
	lower := strings.ToLower(address)
	return strings.Contains(lower, "localhost") ||
		strings.Contains(lower, "127.0.0.1") ||
		strings.HasPrefix(lower, "::1") ||
		strings.HasPrefix(lower, "[::1]") ||
		!strings.Contains(address, ".")
}

func statusCode(err error) string {
	return status.Code(err).String()
}
