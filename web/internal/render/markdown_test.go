package render

import (
	"html/template"
	"strings"
	"testing"
)

func TestMarkdownBytes(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		contains    []string
		notContains []string
	}{
		{
			name:     "article headings",
			input:    "# Release Notes\n\n## Highlights",
			contains: []string{"<h1>", "Release Notes", "</h1>", "<h2>", "Highlights", "</h2>"},
		},
		{
			name:     "emphasis",
			input:    "Sessions now refresh **once** per *burst*.",
			contains: []string{"<strong>once</strong>", "<em>burst</em>"},
		},
		{
			name:     "strikethrough",
			input:    "~~retired~~ feature",
			contains: []string{"<del>retired</del>"},
		},
		{
			name:     "lists",
			input:    "- sign in\n- read\n\n1. first\n2. second",
			contains: []string{"<ul>", "<li>sign in</li>", "<ol>", "<li>first</li>"},
		},
		{
			name:     "fenced code",
			input:    "```go\nx := 1\n```",
			contains: []string{"<pre>", "<code", "x := 1", "</code>", "</pre>"},
		},
		{
			name:     "link to another article",
			input:    "See [the guide](https://portal.example.com/articles/guide).",
			contains: []string{"<a", `href="https://portal.example.com/articles/guide"`, "the guide", "</a>"},
		},
		{
			name:        "script tag is stripped",
			input:       "before <script>alert('xss')</script> after",
			contains:    []string{"before", "after"},
			notContains: []string{"<script>"},
		},
		{
			name:        "event handler is stripped",
			input:       "<div onclick=\"alert('xss')\">Click me</div>",
			notContains: []string{"onclick"},
		},
		{
			name:        "javascript link is stripped",
			input:       "[click](javascript:alert(1))",
			notContains: []string{"javascript:"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := string(MarkdownBytes([]byte(tt.input)))
			for _, want := range tt.contains {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q\nInput: %q\nOutput: %q", want, tt.input, out)
				}
			}
			for _, unwanted := range tt.notContains {
				if strings.Contains(out, unwanted) {
					t.Errorf("output contains %q\nInput: %q\nOutput: %q", unwanted, tt.input, out)
				}
			}
		})
	}
}

func TestMarkdownMatchesMarkdownBytes(t *testing.T) {
	in := "# Title\n\nbody"
	if Markdown(in) != MarkdownBytes([]byte(in)) {
		t.Error("Markdown and MarkdownBytes disagree")
	}
	var _ template.HTML = Markdown(in)
}

func TestMarkdownEmptyInput(t *testing.T) {
	if out := strings.TrimSpace(string(Markdown(""))); out != "" {
		t.Errorf("expected empty output, got %q", out)
	}
}

func TestSanitizeHTML(t *testing.T) {
	body := []byte(`<article><h1>Forms</h1><p onmouseover="steal()">Fill in <b>all</b> fields.</p><script>steal()</script><iframe src="https://evil.example"></iframe></article>`)
	out := string(SanitizeHTML(body))

	for _, want := range []string{"<h1>Forms</h1>", "<b>all</b>", "fields."} {
		if !strings.Contains(out, want) {
			t.Errorf("sanitized output missing %q: %q", want, out)
		}
	}
	for _, unwanted := range []string{"onmouseover", "<script", "steal()", "<iframe"} {
		if strings.Contains(out, unwanted) {
			t.Errorf("sanitized output contains %q: %q", unwanted, out)
		}
	}
}
