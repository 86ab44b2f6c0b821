package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"url-redirector/batcher"
	"url-redirector/cache"
	"url-redirector/config"
	"url-redirector/handlers"
	"url-redirector/metrics"
	middleware "url-redirector/middlewares"
	"url-redirector/pubsub"
	"url-redirector/queue"
	"url-redirector/store"
	"url-redirector/utils"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const cacheLifeWindow = 10 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := middleware.InitLoggers(cfg.LogDir); err != nil {
		log.Fatalf("Failed to initialize loggers: %v", err)
	}
	proxies, err := cfg.TrustedProxyNets()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	middleware.SetTrustedProxies(proxies)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			TracesSampleRate: 1.0,
		}); err != nil {
			middleware.ErrorLogger.Printf("Sentry initialization failed: %v", err)
		}
	}
	defer sentry.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient, err = connectRedis(ctx, cfg)
		if err != nil {
			middleware.ErrorLogger.Fatalf("Failed to connect to Redis: %v", err)
		}
	}

	st, err := openStore(cfg, redisClient)
	if err != nil {
		middleware.ErrorLogger.Fatalf("Failed to initialize the store: %v", err)
	}

	urlCache, err := newCache(cfg, redisClient)
	if err != nil {
		middleware.ErrorLogger.Fatalf("Failed to initialize cache: %v", err)
	}

	registry := prometheus.NewRegistry()
	sink := metrics.NewPrometheusSink(registry)

	submitter, aggregator := batcher.NewHitTracker(st,
		batcher.WithWindow(cfg.HitWindow),
		batcher.WithBufferSize(cfg.HitBuffer),
		batcher.WithDropWhenFull(cfg.HitDropWhenFull),
		batcher.WithWriteTimeout(cfg.HitWriteTimeout),
		batcher.WithLogger(middleware.ErrorLogger),
		batcher.WithMetrics(sink),
		batcher.WithErrorHandler(func(key string, err error) {
			sentry.CaptureException(fmt.Errorf("updating hit count of %q: %w", key, err))
		}),
	)
	go aggregator.Run()

	tasks := queue.NewTaskQueue(100, middleware.ErrorLogger)
	tasks.StartWorker()

	deps := handlers.Deps{
		Store:           st,
		Cache:           urlCache,
		Hits:            submitter,
		Metrics:         sink,
		Tasks:           tasks,
		LoginLimiter:    middleware.NewLoginLimiter(cfg.LoginRPS, cfg.LoginBurst),
		Logger:          middleware.ErrorLogger,
		DefaultRedirect: cfg.DefaultRedirect,
		AdminKey:        cfg.AdminKey,
		AdminSecret:     cfg.AdminSecret,
	}
	deps.LoginLimiter.StartJanitor(ctx, time.Minute)

	if redisClient != nil {
		ps := pubsub.NewPubSub(redisClient, middleware.ErrorLogger)
		pubsub.InvalidateOnChange(ctx, ps, urlCache)
		deps.Publisher = ps
	}

	var redirectMiddleware []mux.MiddlewareFunc
	if cfg.RateLimitPerMinute > 0 {
		if redisClient == nil {
			middleware.ErrorLogger.Printf("RATE_LIMIT_PER_MINUTE is set but REDIS_ADDR is not; redirects are not rate limited")
		} else {
			redirectMiddleware = append(redirectMiddleware,
				middleware.RedirectRateLimitMiddleware(redisClient, int64(cfg.RateLimitPerMinute)))
		}
	}

	r := newRouter(handlers.New(deps), promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), redirectMiddleware...)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		middleware.DebugLogger.Printf("Server is running on http://localhost:%s", cfg.Port)
		log.Printf("Server is running on http://localhost:%s", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Println("Shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			middleware.ErrorLogger.Printf("Server failed: %v", err)
		}
	}

	shutdown(cfg, srv, submitter, aggregator, tasks, urlCache, st, redisClient)
}

// shutdown stops accepting redirects before closing the hit submitter, so
// the aggregator's final flush sees every accepted hit. The HTTP server and
// the final flush each get their own SHUTDOWN_TIMEOUT.
func shutdown(cfg config.Config, srv *http.Server, submitter *batcher.HitSubmitter, aggregator *batcher.HitAggregator,
	tasks *queue.TaskQueue, urlCache cache.URLCache, st store.Store, redisClient *redis.Client) {
	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	if err := srv.Shutdown(httpCtx); err != nil {
		middleware.ErrorLogger.Printf("HTTP shutdown: %v", err)
	}
	cancelHTTP()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	submitter.Close()
	select {
	case <-aggregator.Done():
	case <-ctx.Done():
		middleware.ErrorLogger.Printf("Hit tracker did not finish its final flush before the shutdown timeout")
	}

	tasks.Close()
	select {
	case <-tasks.Done():
	case <-ctx.Done():
	}

	if err := urlCache.Close(); err != nil {
		middleware.ErrorLogger.Printf("Closing cache: %v", err)
	}
	if err := st.Close(); err != nil {
		middleware.ErrorLogger.Printf("Closing store: %v", err)
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			middleware.ErrorLogger.Printf("Closing Redis client: %v", err)
		}
	}
}

func newRouter(h *handlers.Handler, metricsHandler http.Handler, redirectMiddleware ...mux.MiddlewareFunc) *mux.Router {
	sentryHandler := sentryhttp.New(sentryhttp.Options{Repanic: true})

	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware)
	r.Use(sentryHandler.Handle)
	r.Use(middleware.SentryAlertMiddleware)
	r.Use(middleware.ResponseTimeMiddleware)
	h.Register(r, metricsHandler, redirectMiddleware...)
	return r
}

func connectRedis(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Err()
	}
	if err := utils.RetryWithExponentialBackoff(ping, 5, 200*time.Millisecond); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func openStore(cfg config.Config, redisClient *redis.Client) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreRedis:
		return store.NewRedisStore(redisClient), nil
	default:
		db, err := config.OpenDB(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		return store.NewSQLStore(db), nil
	}
}

func newCache(cfg config.Config, redisClient *redis.Client) (cache.URLCache, error) {
	switch cfg.CacheDriver {
	case config.CacheRedis:
		return cache.NewRedisStore(redisClient, cacheLifeWindow), nil
	case config.CacheNone:
		return cache.Noop{}, nil
	default:
		return cache.NewBigCacheStore(cacheLifeWindow)
	}
}
