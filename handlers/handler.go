package handlers

import (
	"context"
	"log"

	"url-redirector/cache"
	"url-redirector/metrics"
	"url-redirector/middlewares"
	"url-redirector/queue"
	"url-redirector/store"
)

// HitTracker records one visit of a redirect key without waiting for the
// store.
type HitTracker interface {
	Track(ctx context.Context, key string)
}

// Publisher announces a changed redirect to the other instances.
type Publisher interface {
	PublishRedirectChanged(ctx context.Context, key string) error
}

// Deps lists everything the handlers need. Store, DefaultRedirect,
// AdminKey and AdminSecret are required; the rest fall back to no-ops.
type Deps struct {
	Store        store.Store
	Cache        cache.URLCache
	Hits         HitTracker
	Metrics      metrics.Sink
	Publisher    Publisher
	Tasks        *queue.TaskQueue
	LoginLimiter *middlewares.LoginLimiter
	Logger       *log.Logger

	DefaultRedirect string
	AdminKey        string
	AdminSecret     string
	// PageSize is the number of redirects per admin page; 0 uses the
	// store default.
	PageSize int
}

type Handler struct {
	store        store.Store
	cache        cache.URLCache
	hits         HitTracker
	metrics      metrics.Sink
	publisher    Publisher
	tasks        *queue.TaskQueue
	loginLimiter *middlewares.LoginLimiter
	logger       *log.Logger

	defaultRedirect string
	adminKey        string
	adminSecret     string
	pageSize        int
}

type noopTracker struct{}

func (noopTracker) Track(context.Context, string) {}

func New(d Deps) *Handler {
	h := &Handler{
		store:           d.Store,
		cache:           d.Cache,
		hits:            d.Hits,
		metrics:         d.Metrics,
		publisher:       d.Publisher,
		tasks:           d.Tasks,
		loginLimiter:    d.LoginLimiter,
		logger:          d.Logger,
		defaultRedirect: d.DefaultRedirect,
		adminKey:        d.AdminKey,
		adminSecret:     d.AdminSecret,
		pageSize:        d.PageSize,
	}
	if h.cache == nil {
		h.cache = cache.Noop{}
	}
	if h.hits == nil {
		h.hits = noopTracker{}
	}
	if h.metrics == nil {
		h.metrics = metrics.NewNoopSink()
	}
	if h.logger == nil {
		h.logger = middlewares.ErrorLogger
	}
	return h
}
