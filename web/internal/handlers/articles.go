package handlers

import (
	"errors"
	"html/template"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gosimple/slug"

	"github.com/devilmonastery/portal/internal/client"
	"github.com/devilmonastery/portal/internal/pkg/urlutil"
	coresession "github.com/devilmonastery/portal/internal/session"
	"github.com/devilmonastery/portal/web/internal/middleware"
	"github.com/devilmonastery/portal/web/internal/render"
)

// Article fetches /articles/{slug} from the content service and renders it.
func (h *Handler) Article(w http.ResponseWriter, r *http.Request) {
	e := middleware.EntryFromContext(r.Context())
	name := mux.Vars(r)["slug"]
	path := "/articles/" + url.PathEscape(name)

	ctx := client.WithReturnPath(r.Context(), r.URL.RequestURI())
	body, contentType, err := e.Client.Fetch(ctx, path)
	if err != nil {
		h.fetchFailed(w, r, err)
		return
	}

	var content template.HTML
	if mediaType, _, _ := mime.ParseMediaType(contentType); mediaType == "text/html" {
		content = render.SanitizeHTML(body)
	} else {
		content = render.MarkdownBytes(body)
	}

	data := h.newTemplateData(r)
	data["Title"] = articleTitle(name)
	data["Body"] = content
	h.renderTemplate(w, http.StatusOK, "article.html", data)
}

// fetchFailed maps pipeline errors to responses. An ended session sends the
// browser to the re-authentication destination the terminator built.
func (h *Handler) fetchFailed(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, client.ErrRefreshRejected) {
		destination := ""
		if e := middleware.EntryFromContext(r.Context()); e != nil {
			if sig, ok := e.Status.Ended(); ok {
				destination = sig.Destination
			}
		}
		if destination == "" {
			destination, _ = urlutil.BuildReauthURL(h.settings.Session.EntryPath, r.URL.RequestURI(), coresession.ReasonExpired.QueryValue())
		}
		http.Redirect(w, r, destination, http.StatusSeeOther)
		return
	}

	if client.IsCanceled(err) {
		// The browser went away; nobody is left to render for.
		h.log.Debug("content fetch cancelled", slog.String("path", r.URL.Path))
		return
	}

	var pipelineErr *client.Error
	errors.As(err, &pipelineErr)
	switch client.KindOf(err) {
	case client.KindApplication:
		if pipelineErr != nil && pipelineErr.StatusCode == http.StatusNotFound {
			h.renderError(w, r, http.StatusNotFound, "Not found", "There is no article at this address.")
			return
		}
		h.renderError(w, r, http.StatusBadGateway, "Content unavailable", "The content service could not serve this page.")
	case client.KindAuthExpiredAfterRetry:
		h.renderError(w, r, http.StatusBadGateway, "Access denied", "The content service did not accept your refreshed credentials.")
	default:
		h.log.Warn("content fetch failed", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
		h.renderError(w, r, http.StatusServiceUnavailable, "Content service unreachable", "Check your connection and try again.")
	}
}

// Search redirects a title to its article.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	title := strings.TrimSpace(r.URL.Query().Get("title"))
	s := slug.Make(title)
	if s == "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/articles/"+s, http.StatusSeeOther)
}

// articleTitle turns a slug back into something readable for the page title.
func articleTitle(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "-", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	if len(words) == 0 {
		return "Article"
	}
	return strings.Join(words, " ")
}
