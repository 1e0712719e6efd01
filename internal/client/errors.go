package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind is the closed set of outcomes of an authenticated call.
type Kind int

const (
	KindSuccess Kind = iota
	// KindNetwork means no response was received.
	KindNetwork
	// KindAuthExpired is an auth failure on a first attempt.
	KindAuthExpired
	// KindAuthExpiredAfterRetry is an auth failure on a call that was already retried.
	KindAuthExpiredAfterRetry
	// KindRefreshRejected means the refresh endpoint refused to issue new tokens.
	KindRefreshRejected
	// KindApplication is any other non-success response.
	KindApplication
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindNetwork:
		return "network"
	case KindAuthExpired:
		return "auth_expired"
	case KindAuthExpiredAfterRetry:
		return "auth_expired_after_retry"
	case KindRefreshRejected:
		return "refresh_rejected"
	case KindApplication:
		return "application"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrRefreshRejected matches any *Error of kind KindRefreshRejected via errors.Is.
var ErrRefreshRejected = errors.New("session refresh rejected")

// Error is returned by the pipeline for every non-success outcome it handles.
type Error struct {
	Kind       Kind
	StatusCode int
	Method     string
	URL        string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Method != "" || e.URL != "" {
		msg = fmt.Sprintf("%s %s: %s", e.Method, e.URL, msg)
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d %s)", msg, e.StatusCode, http.StatusText(e.StatusCode))
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrRefreshRejected && e.Kind == KindRefreshRejected
}

// KindOf extracts the kind from err. A nil error is KindSuccess; errors not
// produced by the pipeline are reported as KindNetwork. A call its owner
// cancelled also received no response and is KindNetwork; use IsCanceled to
// tell it apart from an unreachable service.
func KindOf(err error) Kind {
	if err == nil {
		return KindSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNetwork
}

// IsCanceled reports whether err ends a call its owner cancelled.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// RefreshStatusError is a non-2xx answer from the refresh endpoint.
type RefreshStatusError struct {
	StatusCode int
	Body       string
}

func (e *RefreshStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("refresh endpoint returned %d", e.StatusCode)
	}
	return fmt.Sprintf("refresh endpoint returned %d: %s", e.StatusCode, e.Body)
}
