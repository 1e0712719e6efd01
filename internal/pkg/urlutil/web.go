package urlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// Query parameter names understood by the re-authentication entry point.
const (
	NextParam   = "next"
	ReasonParam = "reason"

	// CacheBusterParam defeats URL-keyed caches for retried idempotent calls.
	CacheBusterParam = "_"
)

// BuildReauthURL builds the re-authentication destination.
// Returns a URL like: {entry}?next={returnTo}&reason={reason}
// returnTo is dropped unless it is a local path; reason is dropped when empty.
func BuildReauthURL(entry, returnTo, reason string) (string, error) {
	u, err := url.Parse(entry)
	if err != nil {
		return "", fmt.Errorf("invalid re-authentication entry %q: %w", entry, err)
	}
	q := u.Query()
	if next := SafeReturnPath(returnTo); next != "" && next != u.Path {
		q.Set(NextParam, next)
	}
	if reason != "" {
		q.Set(ReasonParam, reason)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// SafeReturnPath returns p if it is a local absolute path, otherwise "".
// Protocol-relative ("//host") and absolute URLs are rejected so the resume
// destination can never leave the portal.
func SafeReturnPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return ""
	}
	u, err := url.Parse(p)
	if err != nil || u.IsAbs() || u.Host != "" {
		return ""
	}
	return p
}

// WithCacheBuster returns a copy of u carrying a uniqueness parameter.
// An existing value is replaced so a retried call gets a fresh one.
func WithCacheBuster(u *url.URL, value string) *url.URL {
	out := *u
	q := out.Query()
	q.Set(CacheBusterParam, value)
	out.RawQuery = q.Encode()
	return &out
}

// ResolvePath joins a base service URL and a request path.
// Returns a URL like: {base}/{path} with exactly one slash between them.
func ResolvePath(base, path string) (*url.URL, error) {
	b, err := url.Parse(strings.TrimRight(base, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	ref, err := url.Parse(strings.TrimLeft(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", path, err)
	}
	return b.ResolveReference(ref), nil
}
