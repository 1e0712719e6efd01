package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/devilmonastery/portal/internal/pkg/metrics"
)

// Activity is a user-interaction signal that proves the user is present.
type Activity string

const (
	ActivityKey        Activity = "key"
	ActivityPointer    Activity = "pointer"
	ActivityScroll     Activity = "scroll"
	ActivityTouch      Activity = "touch"
	ActivityFocus      Activity = "focus"
	ActivityNavigation Activity = "navigation"
)

// Activities is the closed set of signals that reset the inactivity window.
var Activities = []Activity{
	ActivityKey,
	ActivityPointer,
	ActivityScroll,
	ActivityTouch,
	ActivityFocus,
	ActivityNavigation,
}

// ParseActivity converts a signal name.
func ParseActivity(s string) (Activity, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, a := range Activities {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown activity %q", s)
}

const DefaultDebounce = time.Second

// InactivityConfig configures an InactivityMonitor.
type InactivityConfig struct {
	Window      time.Duration // W: idle time before the session ends
	WarningLead time.Duration // L: how long before W the warning fires
	Debounce    time.Duration // bursts of activity within this span coalesce
	EntryPath   string        // monitoring is off while this view is active
}

// Validate checks W > L > 0 and that debouncing cannot swallow the warning.
func (c InactivityConfig) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("inactivity window must be positive")
	}
	if c.WarningLead <= 0 || c.WarningLead >= c.Window {
		return fmt.Errorf("warning lead %v must be between 0 and the window %v", c.WarningLead, c.Window)
	}
	if c.Debounce < 0 || c.Debounce >= c.Window-c.WarningLead {
		return fmt.Errorf("debounce %v must be shorter than the time before the warning %v", c.Debounce, c.Window-c.WarningLead)
	}
	return nil
}

func (c InactivityConfig) withDefaults() InactivityConfig {
	if c.Debounce == 0 {
		c.Debounce = DefaultDebounce
		if c.Window > 0 && c.Debounce >= c.Window-c.WarningLead {
			c.Debounce = (c.Window - c.WarningLead) / 4
		}
	}
	if c.EntryPath == "" {
		c.EntryPath = DefaultEntryPath
	}
	return c
}

// InactivityMonitor ends the session after a period without user activity.
type InactivityMonitor struct {
	cfg      InactivityConfig
	ender    Ender
	notifier Notifier
	log      *slog.Logger

	mu             sync.Mutex
	running        bool
	suspended      bool
	fired          bool
	view           string
	lastActivity   time.Time
	lastReschedule time.Time
	generation     uint64
	warnTimer      *time.Timer
	endTimer       *time.Timer
	trailing       *time.Timer
}

// NewInactivityMonitor validates cfg and builds a stopped monitor.
func NewInactivityMonitor(cfg InactivityConfig, ender Ender, notifier Notifier, log *slog.Logger) (*InactivityMonitor, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "inactivity_monitor"))
	if notifier == nil {
		notifier = LogNotifier{Log: log}
	}
	return &InactivityMonitor{
		cfg:      cfg,
		ender:    ender,
		notifier: notifier,
		log:      log,
	}, nil
}

// Start arms the monitor for a new session.
func (m *InactivityMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
	m.fired = false
	m.lastActivity = time.Now()
	if !m.suspended {
		m.scheduleLocked()
	}
}

// Stop disarms the monitor.
func (m *InactivityMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	m.stopTimersLocked()
}

// LastActivity returns the time of the last accepted activity.
func (m *InactivityMonitor) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

// Touch records a user interaction. It reports whether the signal was
// accepted; signals are ignored while stopped, suspended or after the
// session has already ended.
func (m *InactivityMonitor) Touch(a Activity) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || m.suspended || m.fired {
		return false
	}

	now := time.Now()
	m.lastActivity = now

	since := now.Sub(m.lastReschedule)
	if since >= m.cfg.Debounce {
		m.scheduleLocked()
		return true
	}
	if m.trailing == nil {
		gen := m.generation
		m.trailing = time.AfterFunc(m.cfg.Debounce-since, func() { m.flush(gen) })
	}
	m.log.Debug("activity coalesced", slog.String("activity", string(a)))
	return true
}

// SetView tells the monitor which view is active. Monitoring is suspended
// on the re-authentication entry point and resumes when the user leaves it.
func (m *InactivityMonitor) SetView(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.view = path

	if viewPath(path) == viewPath(m.cfg.EntryPath) {
		if !m.suspended {
			m.suspended = true
			m.stopTimersLocked()
		}
		return
	}

	if m.suspended {
		m.suspended = false
		m.lastActivity = time.Now()
		if m.running && !m.fired {
			m.scheduleLocked()
		}
	}
}

func viewPath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return strings.TrimRight(p, "/")
}

func (m *InactivityMonitor) scheduleLocked() {
	m.stopTimersLocked()
	m.generation++
	gen := m.generation
	m.lastReschedule = time.Now()

	idle := time.Since(m.lastActivity)
	warnIn := m.cfg.Window - m.cfg.WarningLead - idle
	endIn := m.cfg.Window - idle

	m.warnTimer = time.AfterFunc(warnIn, func() { m.warn(gen) })
	m.endTimer = time.AfterFunc(endIn, func() { m.expire(gen) })
	metrics.InactivityReschedules.Inc()
}

func (m *InactivityMonitor) stopTimersLocked() {
	for _, t := range []*time.Timer{m.warnTimer, m.endTimer, m.trailing} {
		if t != nil {
			t.Stop()
		}
	}
	m.warnTimer, m.endTimer, m.trailing = nil, nil, nil
}

func (m *InactivityMonitor) active(gen uint64) bool {
	return m.running && !m.suspended && !m.fired && m.generation == gen
}

func (m *InactivityMonitor) flush(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active(gen) {
		return
	}
	m.trailing = nil
	m.scheduleLocked()
}

func (m *InactivityMonitor) warn(gen uint64) {
	m.mu.Lock()
	if !m.active(gen) {
		m.mu.Unlock()
		return
	}
	// coalesced activity not yet flushed
	if time.Since(m.lastActivity) < m.cfg.Window-m.cfg.WarningLead {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	metrics.InactivityWarnings.Inc()
	m.notifier.InactivityWarning(m.cfg.WarningLead)
}

func (m *InactivityMonitor) expire(gen uint64) {
	m.mu.Lock()
	if !m.active(gen) {
		m.mu.Unlock()
		return
	}
	if time.Since(m.lastActivity) < m.cfg.Window {
		m.scheduleLocked()
		m.mu.Unlock()
		return
	}
	m.fired = true
	m.stopTimersLocked()
	view := m.view
	m.mu.Unlock()

	m.log.Info("no activity within window, ending session",
		slog.Duration("window", m.cfg.Window),
		slog.String("view", view))
	m.ender.Terminate(context.Background(), ReasonInactivity, view)
}
