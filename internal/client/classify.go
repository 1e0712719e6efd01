package client

import (
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Classify maps the outcome of an HTTP call to a Kind. retried reports
// whether the call already carries the retry marker.
//
// Only 401 counts as an auth failure; 403 is an application error.
func Classify(resp *http.Response, err error, retried bool) Kind {
	if err != nil || resp == nil {
		return KindNetwork
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		if retried {
			return KindAuthExpiredAfterRetry
		}
		return KindAuthExpired
	case resp.StatusCode >= 200 && resp.StatusCode < 400:
		return KindSuccess
	default:
		return KindApplication
	}
}

// ClassifyGRPC is Classify for gRPC errors.
func ClassifyGRPC(err error, retried bool) Kind {
	if err == nil {
		return KindSuccess
	}
	st, ok := status.FromError(err)
	if !ok {
		return KindNetwork
	}
	switch st.Code() {
	case codes.OK:
		return KindSuccess
	case codes.Unauthenticated:
		if retried {
			return KindAuthExpiredAfterRetry
		}
		return KindAuthExpired
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return KindNetwork
	default:
		return KindApplication
	}
}
