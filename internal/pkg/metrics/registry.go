package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outbound call metrics (Request Gate)
var (
	// OutboundRequests tracks calls sent to the content service
	OutboundRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_outbound_requests_total",
			Help: "Total outbound calls by method, status class and whether a bearer token was attached",
		},
		[]string{"method", "status_class", "authenticated"},
	)

	// OutboundDuration tracks outbound call latency
	OutboundDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "portal_outbound_request_duration_ms",
			Help:                            "Outbound call duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"method"},
	)

	// OutboundNetworkErrors tracks calls that received no response
	OutboundNetworkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_outbound_network_errors_total",
			Help: "Outbound calls that received no response, by error type",
		},
		[]string{"error_type"},
	)
)

// Pipeline metrics (classifier, coordinator, retry policy)
var (
	// Failures tracks classified failures by kind
	Failures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_call_failures_total",
			Help: "Classified call failures by kind",
		},
		[]string{"kind"},
	)

	// Refreshes tracks refresh flights by outcome
	Refreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_token_refreshes_total",
			Help: "Token refresh flights by outcome",
		},
		[]string{"outcome"},
	)

	// RefreshDuration tracks refresh endpoint latency
	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:                            "portal_token_refresh_duration_ms",
			Help:                            "Refresh endpoint call duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
	)

	// RefreshWaiters tracks how many queued callers each refresh flight released
	RefreshWaiters = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:                            "portal_token_refresh_waiters",
			Help:                            "Queued callers released per refresh flight",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
	)

	// Retries tracks retried calls by outcome
	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_call_retries_total",
			Help: "Calls retried after a refresh, by outcome kind",
		},
		[]string{"outcome"},
	)
)

// Session metrics (terminator, inactivity monitor)
var (
	// Terminations tracks sessions ended by reason
	Terminations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_session_terminations_total",
			Help: "Sessions ended, by reason",
		},
		[]string{"reason"},
	)

	// TerminationsCollapsed tracks termination requests absorbed by the guard
	TerminationsCollapsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_session_terminations_collapsed_total",
			Help: "Termination requests collapsed into an in-progress termination, by reason",
		},
		[]string{"reason"},
	)

	// InactivityWarnings tracks warnings shown before an inactivity timeout
	InactivityWarnings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portal_inactivity_warnings_total",
			Help: "Inactivity warnings emitted",
		},
	)

	// InactivityReschedules tracks timer reschedules after debouncing
	InactivityReschedules = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portal_inactivity_reschedules_total",
			Help: "Inactivity timer reschedules after debouncing",
		},
	)

	// ActiveSessions tracks browser sessions held by the web front end
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "portal_active_sessions",
			Help: "Number of browser sessions with a live request pipeline",
		},
	)
)

// HTTP/Web Handler Metrics
var (
	// HTTPRequests tracks HTTP requests
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPDuration tracks HTTP request duration
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "portal_http_request_duration_ms",
			Help:                            "HTTP request duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"method", "path"},
	)
)
