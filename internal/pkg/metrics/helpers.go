package metrics

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"
)

// RecordOutbound records an outbound call consistently
// status: response status code (0 if no response was received)
// authenticated: whether a bearer token was attached
func RecordOutbound(method string, status int, authenticated bool, duration time.Duration, err error) {
	OutboundDuration.WithLabelValues(method).Observe(float64(duration.Milliseconds()))
	OutboundRequests.WithLabelValues(method, StatusClass(status), strconv.FormatBool(authenticated)).Inc()
	if err != nil {
		OutboundNetworkErrors.WithLabelValues(ClassifyNetworkError(err)).Inc()
	}
}

// RecordHTTP records an inbound web request
func RecordHTTP(method, path string, status int, duration time.Duration) {
	HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(method, path).Observe(float64(duration.Milliseconds()))
}

// StatusClass buckets a status code ("2xx", "4xx", ...). 0 means no response.
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "none"
	}
	return strconv.Itoa(status/100) + "xx"
}

// ClassifyNetworkError categorizes transport errors for metrics
func ClassifyNetworkError(err error) string {
	if err == nil {
		return "none"
	}

	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout"):
		return "timeout"
	case strings.Contains(errStr, "no such host"):
		return "dns"
	case strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "connection reset"):
		return "connection"
	case strings.Contains(errStr, "tls") || strings.Contains(errStr, "certificate"):
		return "tls"
	case strings.Contains(errStr, "eof"):
		return "eof"
	default:
		return "network"
	}
}
