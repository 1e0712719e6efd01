package urlutil

import (
	"net/url"
	"testing"
)

func TestBuildReauthURL(t *testing.T) {
	tests := []struct {
		name     string
		entry    string
		returnTo string
		reason   string
		want     string
	}{
		{
			name:     "path and reason",
			entry:    "/login",
			returnTo: "/articles/intro",
			reason:   "inactivity",
			want:     "/login?next=%2Farticles%2Fintro&reason=inactivity",
		},
		{
			name:     "no reason",
			entry:    "/login",
			returnTo: "/forms/42?step=2",
			want:     "/login?next=%2Fforms%2F42%3Fstep%3D2",
		},
		{
			name:     "external return path dropped",
			entry:    "/login",
			returnTo: "https://evil.example/phish",
			reason:   "expired",
			want:     "/login?reason=expired",
		},
		{
			name:     "protocol relative return path dropped",
			entry:    "/login",
			returnTo: "//evil.example",
			want:     "/login",
		},
		{
			name:     "entry point itself is not a resume target",
			entry:    "/login",
			returnTo: "/login",
			reason:   "manual",
			want:     "/login?reason=manual",
		},
		{
			name:     "absolute entry keeps host",
			entry:    "https://portal.example/login",
			returnTo: "/media",
			want:     "https://portal.example/login?next=%2Fmedia",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildReauthURL(tt.entry, tt.returnTo, tt.reason)
			if err != nil {
				t.Fatalf("BuildReauthURL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("BuildReauthURL() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSafeReturnPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/articles/1", "/articles/1"},
		{"  /media  ", "/media"},
		{"", ""},
		{"articles", ""},
		{"//host/x", ""},
		{"/\\host", ""},
		{"http://x/y", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := SafeReturnPath(tt.in); got != tt.want {
				t.Errorf("SafeReturnPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestWithCacheBuster(t *testing.T) {
	u, _ := url.Parse("https://content.example/articles?lang=en&_=old")
	got := WithCacheBuster(u, "123")

	if got.Query().Get(CacheBusterParam) != "123" {
		t.Errorf("cache buster = %q", got.Query().Get(CacheBusterParam))
	}
	if got.Query().Get("lang") != "en" {
		t.Errorf("existing params must be preserved, got %q", got.RawQuery)
	}
	if u.Query().Get(CacheBusterParam) != "old" {
		t.Error("original URL must not be modified")
	}
}

func TestResolvePath(t *testing.T) {
	tests := []struct {
		base string
		path string
		want string
	}{
		{"https://content.example", "/articles/1", "https://content.example/articles/1"},
		{"https://content.example/", "articles/1", "https://content.example/articles/1"},
		{"https://content.example/api/", "/forms?id=3", "https://content.example/api/forms?id=3"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := ResolvePath(tt.base, tt.path)
			if err != nil {
				t.Fatalf("ResolvePath() error = %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("ResolvePath() = %v, want %v", got, tt.want)
			}
		})
	}
}
