package session

import (
	"sync"
	"time"

	coresession "github.com/devilmonastery/portal/internal/session"
)

// Session states reported to the browser.
const (
	StateActive  = "active"
	StateWarning = "warning"
	StateEnded   = "ended"
)

// StatusView is the JSON body of the session status endpoint.
type StatusView struct {
	State            string `json:"state"`
	RemainingSeconds int    `json:"remaining_seconds,omitempty"`
	Destination      string `json:"destination,omitempty"`
	Message          string `json:"message,omitempty"`
}

// Status records session events so the browser can poll for them.
type Status struct {
	mu       sync.Mutex
	now      func() time.Time
	deadline time.Time
	ended    *coresession.Signal
}

func newStatus() *Status {
	return &Status{now: time.Now}
}

func (s *Status) SessionEnded(sig coresession.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = &sig
	s.deadline = time.Time{}
}

func (s *Status) InactivityWarning(remaining time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadline = s.now().Add(remaining)
}

// Activity clears a pending warning.
func (s *Status) Activity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadline = time.Time{}
}

// Reset forgets a previous end, used when the user signs in again.
func (s *Status) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = nil
	s.deadline = time.Time{}
}

// Ended returns the signal of the last termination, if any.
func (s *Status) Ended() (coresession.Signal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended == nil {
		return coresession.Signal{}, false
	}
	return *s.ended, true
}

// View renders the current state.
func (s *Status) View() StatusView {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended != nil {
		return StatusView{
			State:       StateEnded,
			Destination: s.ended.Destination,
			Message:     s.ended.Reason.Message(),
		}
	}
	if !s.deadline.IsZero() {
		remaining := s.deadline.Sub(s.now())
		if remaining < 0 {
			remaining = 0
		}
		return StatusView{
			State:            StateWarning,
			RemainingSeconds: int(remaining.Round(time.Second) / time.Second),
			Message:          "Your session will end soon because of inactivity.",
		}
	}
	return StatusView{State: StateActive}
}
