package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/gosimple/slug"
	"github.com/microcosm-cc/bluemonday"
	"github.com/spf13/cobra"

	"github.com/devilmonastery/portal/internal/client"
)

// articlesPrefix is where the content service serves articles by slug.
const articlesPrefix = "/articles/"

// articlePath maps a human title to its article path.
func articlePath(title string) string {
	return articlesPrefix + slug.Make(title)
}

func newGetCommand() *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "get [path]",
		Short: "Fetch a page from the content service",
		Long: `Fetch a page through the session pipeline and print it.

Markdown is rendered with the context's theme when writing to a terminal.

Examples:
  portal get /articles/welcome
  portal get --title "Release Notes 2.0"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := requestPath(args, title)
			if err != nil {
				return err
			}
			return fetchAndPrint(cmd, getCliContext(cmd).Pipeline, path)
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Fetch the article with this title instead of a path")

	return cmd
}

// requestPath picks the path from args or --title.
func requestPath(args []string, title string) (string, error) {
	switch {
	case len(args) == 1 && title != "":
		return "", fmt.Errorf("pass either a path or --title, not both")
	case len(args) == 1:
		p := args[0]
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		return p, nil
	case title != "":
		return articlePath(title), nil
	default:
		return "", fmt.Errorf("a path or --title is required")
	}
}

// fetchAndPrint fetches path and writes it to the command's output. The
// path is remembered so an ended session can resume it after login.
func fetchAndPrint(cmd *cobra.Command, p *Pipeline, path string) error {
	ctx := client.WithReturnPath(cmd.Context(), path)
	body, contentType, err := p.Client.Fetch(ctx, path)
	if err != nil {
		return describeFetchError(path, err)
	}
	return printContent(cmd, p.Context, body, contentType)
}

// describeFetchError turns pipeline errors into messages for the terminal.
func describeFetchError(path string, err error) error {
	if errors.Is(err, client.ErrRefreshRejected) {
		// The terminal notifier already explained what happened.
		return fmt.Errorf("session ended while fetching %s", path)
	}
	if client.IsCanceled(err) {
		return fmt.Errorf("fetch of %s cancelled", path)
	}
	switch client.KindOf(err) {
	case client.KindNetwork:
		return fmt.Errorf("content service unreachable: %w", err)
	case client.KindAuthExpiredAfterRetry:
		return fmt.Errorf("content service refused fresh credentials for %s", path)
	default:
		return err
	}
}

func printContent(cmd *cobra.Command, cliCtx *Context, body []byte, contentType string) error {
	out := cmd.OutOrStdout()
	mediaType, _, _ := mime.ParseMediaType(contentType)

	switch {
	case mediaType == "application/json":
		var buf bytes.Buffer
		if err := json.Indent(&buf, body, "", "  "); err != nil {
			_, err = out.Write(body)
			return err
		}
		buf.WriteByte('\n')
		_, err := buf.WriteTo(out)
		return err
	case mediaType == "text/html":
		text := bluemonday.StrictPolicy().Sanitize(string(body))
		_, err := fmt.Fprintln(out, strings.TrimSpace(text))
		return err
	case mediaType == "text/markdown", mediaType == "text/plain", mediaType == "":
		return printMarkdown(out, string(body), cliCtx)
	default:
		_, err := out.Write(body)
		return err
	}
}
