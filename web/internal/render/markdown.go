package render

import (
	"html/template"

	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday/v2"
)

// policy is safe for concurrent use once built.
var policy = bluemonday.UGCPolicy()

// Markdown converts markdown text to safe HTML for use in templates
func Markdown(markdown string) template.HTML {
	return MarkdownBytes([]byte(markdown))
}

// MarkdownBytes converts a markdown body fetched from the content service.
func MarkdownBytes(markdown []byte) template.HTML {
	unsafe := blackfriday.Run(markdown)

	// Sanitize the HTML to prevent XSS
	return template.HTML(policy.SanitizeBytes(unsafe))
}

// SanitizeHTML makes an HTML body from the content service safe to embed.
func SanitizeHTML(body []byte) template.HTML {
	return template.HTML(policy.SanitizeBytes(body))
}
