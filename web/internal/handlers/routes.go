package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devilmonastery/portal/web/internal/middleware"
	"github.com/devilmonastery/portal/web/internal/render"
)

// NewRouter sets up the HTTP router with all routes and middleware
func NewRouter(h *Handler, authMw *middleware.AuthMiddleware, log *slog.Logger) http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.LogRequest(log))

	// Health check endpoint (no auth required)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")

	// Version info endpoint
	router.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"version":%q}`, render.Version)
	}).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Public routes (no auth required)
	router.HandleFunc("/", h.Home).Methods("GET")
	router.HandleFunc("/login", h.LoginPage).Methods("GET")
	router.HandleFunc("/login", h.Login).Methods("POST")
	router.HandleFunc("/logout", h.Logout).Methods("GET", "POST")

	// Session endpoints polled by the page script; they answer for
	// anonymous callers instead of redirecting.
	router.HandleFunc("/session/activity", h.Activity).Methods("POST")
	router.HandleFunc("/session/status", h.SessionStatus).Methods("GET")

	// Content routes (auth required)
	router.Handle("/search", authMw.RequireAuth(http.HandlerFunc(h.Search))).Methods("GET")
	router.Handle("/articles/{slug}", authMw.RequireAuth(http.HandlerFunc(h.Article))).Methods("GET")

	return authMw.Attach(router)
}
