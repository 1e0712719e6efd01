package session

import (
	"context"
	"log/slog"
	"time"
)

// Signal is emitted once per session end.
type Signal struct {
	Reason      Reason
	ReturnTo    string
	Destination string
	At          time.Time
}

// Notifier is the presentation layer's view of session events.
// Implementations must not block.
type Notifier interface {
	SessionEnded(sig Signal)
	InactivityWarning(remaining time.Duration)
}

// Navigator hands off to the re-authentication entry point. Navigate returns
// once the hand-off has completed.
type Navigator interface {
	Navigate(ctx context.Context, destination string) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, destination string) error

func (f NavigatorFunc) Navigate(ctx context.Context, destination string) error {
	return f(ctx, destination)
}

// LogNavigator only records the hand-off. Surfaces that navigate on their
// own (the web front end redirects per request) use it.
type LogNavigator struct {
	Log *slog.Logger
}

func (l LogNavigator) Navigate(_ context.Context, destination string) error {
	log := l.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("re-authentication required", slog.String("destination", destination))
	return nil
}

// NotifierFunc adapts a session-ended callback to Notifier; warnings are dropped.
type NotifierFunc func(sig Signal)

func (f NotifierFunc) SessionEnded(sig Signal) { f(sig) }

func (f NotifierFunc) InactivityWarning(time.Duration) {}

// EventType distinguishes ChannelNotifier events.
type EventType int

const (
	EventSessionEnded EventType = iota
	EventInactivityWarning
)

// Event is delivered by ChannelNotifier.
type Event struct {
	Type      EventType
	Signal    Signal
	Remaining time.Duration
}

// ChannelNotifier delivers events on a buffered channel and drops them when
// the buffer is full rather than blocking the sender.
type ChannelNotifier struct {
	events chan Event
	log    *slog.Logger
}

// NewChannelNotifier creates a notifier with the given buffer size.
func NewChannelNotifier(buffer int, log *slog.Logger) *ChannelNotifier {
	if buffer < 1 {
		buffer = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &ChannelNotifier{
		events: make(chan Event, buffer),
		log:    log.With(slog.String("component", "session_notifier")),
	}
}

// Events returns the receive side of the event channel.
func (c *ChannelNotifier) Events() <-chan Event {
	return c.events
}

func (c *ChannelNotifier) SessionEnded(sig Signal) {
	c.send(Event{Type: EventSessionEnded, Signal: sig})
}

func (c *ChannelNotifier) InactivityWarning(remaining time.Duration) {
	c.send(Event{Type: EventInactivityWarning, Remaining: remaining})
}

func (c *ChannelNotifier) send(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Warn("dropping session event, receiver is not keeping up", slog.Int("type", int(ev.Type)))
	}
}

// LogNotifier writes session events to a logger.
type LogNotifier struct {
	Log *slog.Logger
}

func (l LogNotifier) logger() *slog.Logger {
	if l.Log != nil {
		return l.Log
	}
	return slog.Default()
}

func (l LogNotifier) SessionEnded(sig Signal) {
	l.logger().Info("session ended",
		slog.String("reason", sig.Reason.String()),
		slog.String("return_to", sig.ReturnTo),
		slog.String("destination", sig.Destination))
}

func (l LogNotifier) InactivityWarning(remaining time.Duration) {
	l.logger().Info("session will end soon due to inactivity",
		slog.Duration("remaining", remaining))
}

// Notifiers fans events out to several notifiers in order.
type Notifiers []Notifier

func (n Notifiers) SessionEnded(sig Signal) {
	for _, x := range n {
		x.SessionEnded(sig)
	}
}

func (n Notifiers) InactivityWarning(remaining time.Duration) {
	for _, x := range n {
		x.InactivityWarning(remaining)
	}
}
