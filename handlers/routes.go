package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Register mounts the service routes on r. metricsHandler is served at
// /metrics when non-nil. redirectMiddleware wraps only key lookups, never
// the admin page.
func (h *Handler) Register(r *mux.Router, metricsHandler http.Handler, redirectMiddleware ...mux.MiddlewareFunc) {
	r.HandleFunc("/healthz", h.HealthHandler).Methods(http.MethodGet)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}

	r.HandleFunc("/", h.DefaultRedirectHandler).Methods(http.MethodGet, http.MethodHead)

	var redirect http.Handler = http.HandlerFunc(h.RedirectHandler)
	for i := len(redirectMiddleware) - 1; i >= 0; i-- {
		redirect = redirectMiddleware[i](redirect)
	}
	r.HandleFunc("/{key}", func(w http.ResponseWriter, req *http.Request) {
		if mux.Vars(req)["key"] == h.adminKey {
			h.AdminHandler(w, req)
			return
		}
		redirect.ServeHTTP(w, req)
	}).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/{key}", h.adminPostHandler).Methods(http.MethodPost)
}

func (h *Handler) adminPostHandler(w http.ResponseWriter, r *http.Request) {
	if mux.Vars(r)["key"] != h.adminKey {
		h.renderMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	h.AdminHandler(w, r)
}
