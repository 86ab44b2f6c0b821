package handlers

import (
	"context"
	"errors"
	"net/http"

	"url-redirector/metrics"
	"url-redirector/models"
	"url-redirector/store"

	"github.com/gorilla/mux"
)

// DefaultRedirectHandler sends requests without a key to the configured
// default target.
func (h *Handler) DefaultRedirectHandler(w http.ResponseWriter, r *http.Request) {
	h.metrics.RedirectServed(metrics.OutcomeDefault)
	redirectTo(w, h.defaultRedirect)
}

// RedirectHandler resolves /{key}. The admin key serves the admin page;
// every other key is looked up and, when found, counted and redirected.
func (h *Handler) RedirectHandler(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	switch key {
	case "":
		h.DefaultRedirectHandler(w, r)
		return
	case h.adminKey:
		h.AdminHandler(w, r)
		return
	}

	redirect, cached, err := h.lookup(r.Context(), key)
	if cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	if errors.Is(err, store.ErrNotFound) {
		h.metrics.RedirectServed(metrics.OutcomeNotFound)
		h.renderMessage(w, http.StatusNotFound, "No redirect was found")
		return
	}
	if err != nil {
		h.logger.Printf("lookup of redirect %q failed: %v", key, err)
		h.metrics.RedirectServed(metrics.OutcomeError)
		h.renderMessage(w, http.StatusInternalServerError, "The redirect could not be loaded")
		return
	}
	if redirect.URL == "" {
		h.metrics.RedirectServed(metrics.OutcomeError)
		h.renderMessage(w, http.StatusInternalServerError, "The URL for this redirect does not exist")
		return
	}

	h.hits.Track(r.Context(), key)
	h.metrics.RedirectServed(metrics.OutcomeRedirected)
	redirectTo(w, redirect.URL)
}

// lookup reads through the cache. cached reports whether the cache
// answered.
func (h *Handler) lookup(ctx context.Context, key string) (redirect models.Redirect, cached bool, err error) {
	if redirect, err := h.cache.Get(ctx, key); err == nil {
		h.metrics.CacheLookup(true)
		return redirect, true, nil
	}
	h.metrics.CacheLookup(false)

	redirect, err = h.store.Get(ctx, key)
	if err != nil {
		return models.Redirect{}, false, err
	}
	if err := h.cache.Set(ctx, key, redirect); err != nil {
		h.logger.Printf("caching redirect %q failed: %v", key, err)
	}
	return redirect, false, nil
}

func redirectTo(w http.ResponseWriter, url string) {
	w.Header().Set("Location", url)
	w.WriteHeader(http.StatusMovedPermanently)
}
