package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	hitsTrackedTotal   prometheus.Counter
	hitsDroppedTotal   prometheus.Counter
	windowsTotal       prometheus.Counter
	windowKeys         prometheus.Histogram
	hitsFlushedTotal   prometheus.Counter
	flushDuration      prometheus.Histogram
	writeFailuresTotal prometheus.Counter

	redirectsTotal    *prometheus.CounterVec
	cacheLookupsTotal *prometheus.CounterVec
}

func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initHitMetrics(reg)
	s.initRedirectMetrics(reg)
	return s
}

func (s *PrometheusSink) initHitMetrics(reg prometheus.Registerer) {
	s.hitsTrackedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "redirector_hits_tracked_total",
		Help: "Total number of hits accepted by the hit tracker.",
	})
	s.hitsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "redirector_hits_dropped_total",
		Help: "Total number of hits dropped because the hit channel was full.",
	})
	s.windowsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "redirector_hit_windows_flushed_total",
		Help: "Total number of hit windows flushed to the store.",
	})
	s.windowKeys = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "redirector_hit_window_keys",
		Help:    "Distinct keys per flushed hit window.",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
	})
	s.hitsFlushedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "redirector_hits_flushed_total",
		Help: "Total number of hits covered by flushed windows.",
	})
	s.flushDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "redirector_hit_flush_duration_seconds",
		Help:    "Time spent writing one hit window to the store.",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	})
	s.writeFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "redirector_hit_write_failures_total",
		Help: "Total number of failed hit increments.",
	})

	s.register(reg, s.hitsTrackedTotal, "redirector_hits_tracked_total")
	s.register(reg, s.hitsDroppedTotal, "redirector_hits_dropped_total")
	s.register(reg, s.windowsTotal, "redirector_hit_windows_flushed_total")
	s.register(reg, s.windowKeys, "redirector_hit_window_keys")
	s.register(reg, s.hitsFlushedTotal, "redirector_hits_flushed_total")
	s.register(reg, s.flushDuration, "redirector_hit_flush_duration_seconds")
	s.register(reg, s.writeFailuresTotal, "redirector_hit_write_failures_total")
}

func (s *PrometheusSink) initRedirectMetrics(reg prometheus.Registerer) {
	s.redirectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "redirector_redirects_total",
		Help: "Total number of redirect requests by outcome.",
	}, []string{"outcome"})
	s.cacheLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "redirector_cache_lookups_total",
		Help: "Total number of redirect cache lookups by result.",
	}, []string{"result"})

	s.register(reg, s.redirectsTotal, "redirector_redirects_total")
	s.register(reg, s.cacheLookupsTotal, "redirector_cache_lookups_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

func (s *PrometheusSink) HitTracked() {
	s.hitsTrackedTotal.Inc()
}

func (s *PrometheusSink) HitDropped() {
	s.hitsDroppedTotal.Inc()
}

func (s *PrometheusSink) WindowFlushed(keys int, hits int64, duration time.Duration) {
	s.windowsTotal.Inc()
	s.windowKeys.Observe(float64(keys))
	s.hitsFlushedTotal.Add(float64(hits))
	s.flushDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) WriteFailed() {
	s.writeFailuresTotal.Inc()
}

func (s *PrometheusSink) RedirectServed(outcome string) {
	s.redirectsTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	s.cacheLookupsTotal.WithLabelValues(result).Inc()
}
