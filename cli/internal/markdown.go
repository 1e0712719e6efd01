package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

// renderMarkdown renders markdown content, using glamour for terminal output or plain text otherwise
func renderMarkdown(markdown string, theme string) (string, error) {
	// If stdout is a terminal, render styled markdown using glamour
	if term.IsTerminal(int(os.Stdout.Fd())) {
		// Use glamour.Render with the style name directly
		rendered, err := glamour.Render(markdown, theme)
		if err != nil {
			// Fall back to plain markdown if rendering fails
			return markdown, nil
		}
		return rendered, nil
	}

	// For non-terminal output (pipes, redirects), return plain markdown
	return markdown, nil
}

// printMarkdown renders and prints markdown using the context's theme
func printMarkdown(w io.Writer, markdown string, ctx *Context) error {
	rendered, err := renderMarkdown(markdown, getTheme(ctx))
	if err != nil {
		return err
	}

	_, err = fmt.Fprint(w, rendered)
	return err
}

// getTheme returns the theme from the context, or "auto" if there is none
func getTheme(ctx *Context) string {
	if ctx == nil {
		return "auto"
	}
	return ctx.Theme()
}
