package render

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadTemplates(t *testing.T) {
	ts, err := LoadTemplates("")
	if err != nil {
		t.Fatalf("Failed to load templates: %v", err)
	}

	for _, required := range []string{"article.html", "error.html", "home.html", "login.html"} {
		if !ts.Has(required) {
			t.Errorf("Expected template %q to be loaded, but it wasn't found", required)
		}
	}
	if got := strings.Join(ts.Names(), ","); got != "article.html,error.html,home.html,login.html" {
		t.Errorf("Names() = %s", got)
	}
}

func TestLoadTemplatesFromDir(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"layouts/base.html":    `{{define "base"}}[{{template "title" .}}]{{template "content" .}}{{end}}`,
		"components/nav.html":  `{{define "nav"}}nav{{end}}`,
		"pages/only.html":      `{{define "title"}}Only{{end}}{{define "content"}}{{initials .}}{{end}}`,
		"pages/other.html":     `{{define "title"}}Other{{end}}{{define "content"}}other{{end}}`,
		"pages/ignored.txt":    `not a template`,
	}
	for name, body := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	ts, err := LoadTemplates(dir)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := ts.Execute(&buf, "only.html", "ada lovelace byron"); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "[Only]AL" {
		t.Errorf("rendered %q", buf.String())
	}
	if err := ts.Execute(&buf, "missing.html", nil); err == nil {
		t.Error("expected an error for an unknown page")
	}
}

func TestLoadTemplatesEmptyDir(t *testing.T) {
	if _, err := LoadTemplates(t.TempDir()); err == nil {
		t.Fatal("expected an error when no pages exist")
	}
}

// Each page must render its own blocks, not those of a page parsed later.
func TestPagesDoNotShareBlocks(t *testing.T) {
	ts, err := LoadTemplates("")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		page        string
		data        map[string]interface{}
		contains    []string
		notContains []string
	}{
		{
			page: "login.html",
			data: map[string]interface{}{
				"Message": "Your session has expired. Sign in again to continue where you left off.",
				"Next":    "/articles/a?x=1",
			},
			contains:    []string{"<title>Sign in - Portal</title>", "Your session has expired", `value="/articles/a?x=1"`},
			notContains: []string{"<article>", "session-warning"},
		},
		{
			page: "article.html",
			data: map[string]interface{}{
				"Title":          "Welcome",
				"Body":           Markdown("# Welcome\n\n<script>alert(1)</script>"),
				"Authenticated":  true,
				"User":           "Ada Lovelace",
				"DebounceMillis": 1000,
				"PollMillis":     5000,
			},
			contains:    []string{"<title>Welcome - Portal</title>", "<h1>Welcome</h1>", "session-warning", "/session/activity", ">AL<"},
			notContains: []string{"<script>alert(1)</script>", "Sign in - Portal"},
		},
		{
			page:        "error.html",
			data:        map[string]interface{}{"Title": "Not found", "Message": "No such article."},
			contains:    []string{"<title>Not found - Portal</title>", "No such article."},
			notContains: []string{"session-warning"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.page, func(t *testing.T) {
			var buf bytes.Buffer
			if err := ts.Execute(&buf, tt.page, tt.data); err != nil {
				t.Fatal(err)
			}
			out := buf.String()
			for _, want := range tt.contains {
				if !strings.Contains(out, want) {
					t.Errorf("%s missing %q", tt.page, want)
				}
			}
			for _, unwanted := range tt.notContains {
				if strings.Contains(out, unwanted) {
					t.Errorf("%s unexpectedly contains %q", tt.page, unwanted)
				}
			}
		})
	}
}
