// Package session ends authenticated sessions and watches for user inactivity.
//
// A Terminator collapses bursts of session-ending events into one visible
// effect: one token store clear, one notification and one navigation to the
// re-authentication entry point. An InactivityMonitor escalates to the
// Terminator when no user interaction arrives within the configured window.
package session

import (
	"context"
	"fmt"
)

// Reason says why a session ended.
type Reason string

const (
	ReasonInactivity Reason = "inactivity"
	ReasonExpired    Reason = "expired"
	ReasonManual     Reason = "manual"
)

// Ender is implemented by anything that can end the current session.
// It reports whether this call produced the visible effect.
type Ender interface {
	Terminate(ctx context.Context, reason Reason, returnTo string) bool
}

// ParseReason converts a reason code from a URL or config value.
func ParseReason(s string) (Reason, error) {
	switch r := Reason(s); r {
	case ReasonInactivity, ReasonExpired, ReasonManual:
		return r, nil
	default:
		return "", fmt.Errorf("unknown session end reason %q", s)
	}
}

func (r Reason) String() string {
	return string(r)
}

// QueryValue is the reason code carried to the re-authentication entry
// point. A manual logout carries none.
func (r Reason) QueryValue() string {
	if r == ReasonManual {
		return ""
	}
	return string(r)
}

// Message is the user-facing text shown on the re-authentication page.
func (r Reason) Message() string {
	switch r {
	case ReasonInactivity:
		return "You were signed out after a period of inactivity. Sign in again to continue where you left off."
	case ReasonExpired:
		return "Your session has expired. Sign in again to continue where you left off."
	case ReasonManual:
		return "You have been signed out."
	default:
		return ""
	}
}
