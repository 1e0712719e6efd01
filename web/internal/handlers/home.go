package handlers

import "net/http"

// Home handles the home page
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	data := h.newTemplateData(r)
	data["CurrentPage"] = "home"
	h.renderTemplate(w, http.StatusOK, "home.html", data)
}
