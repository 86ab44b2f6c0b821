package batcher

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultWindow       = 5 * time.Second
	DefaultBufferSize   = 128
	DefaultField        = "hits"
	DefaultWriteTimeout = 10 * time.Second
)

// Incrementer is the single store capability the aggregator needs: an
// atomic add to a counter field of a key.
type Incrementer interface {
	Increment(ctx context.Context, key, field string, amount int64) error
}

// Metrics receives hit tracker events. Implementations must not block.
type Metrics interface {
	HitTracked()
	HitDropped()
	WindowFlushed(keys int, hits int64, duration time.Duration)
	WriteFailed()
}

type noopMetrics struct{}

func (noopMetrics) HitTracked()                             {}
func (noopMetrics) HitDropped()                             {}
func (noopMetrics) WindowFlushed(int, int64, time.Duration) {}
func (noopMetrics) WriteFailed()                            {}

type options struct {
	window       time.Duration
	bufferSize   int
	dropWhenFull bool
	field        string
	writeTimeout time.Duration
	logger       *log.Logger
	metrics      Metrics
	onError      func(key string, err error)
}

type Option func(*options)

// WithWindow sets how long a window stays open after its first hit.
func WithWindow(d time.Duration) Option {
	return func(o *options) { o.window = d }
}

// WithBufferSize sets the capacity of the hit channel.
func WithBufferSize(n int) Option {
	return func(o *options) { o.bufferSize = n }
}

// WithDropWhenFull makes Track drop hits instead of waiting when the
// channel is full.
func WithDropWhenFull(drop bool) Option {
	return func(o *options) { o.dropWhenFull = drop }
}

// WithField sets the counter field that flushes increment.
func WithField(field string) Option {
	return func(o *options) { o.field = field }
}

// WithWriteTimeout bounds each increment call. Zero means no timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) { o.writeTimeout = d }
}

func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithErrorHandler registers a callback for failed increments. It runs on
// the aggregator goroutine.
func WithErrorHandler(fn func(key string, err error)) Option {
	return func(o *options) { o.onError = fn }
}

// NewHitTracker wires a submitter to an aggregator through a bounded
// channel. The caller runs the aggregator on its own goroutine and closes
// the submitter once no more redirects can be served.
func NewHitTracker(store Incrementer, opts ...Option) (*HitSubmitter, *HitAggregator) {
	o := options{
		window:       DefaultWindow,
		bufferSize:   DefaultBufferSize,
		field:        DefaultField,
		writeTimeout: DefaultWriteTimeout,
		logger:       log.New(os.Stderr, "", log.LstdFlags),
		metrics:      noopMetrics{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.window <= 0 {
		o.window = DefaultWindow
	}
	if o.bufferSize <= 0 {
		o.bufferSize = DefaultBufferSize
	}

	events := make(chan HitEvent, o.bufferSize)
	submitter := &HitSubmitter{
		events:       events,
		dropWhenFull: o.dropWhenFull,
		logger:       o.logger,
		metrics:      o.metrics,
	}
	aggregator := &HitAggregator{
		events: events,
		store:  store,
		opts:   o,
		done:   make(chan struct{}),
	}
	return submitter, aggregator
}

// HitSubmitter is the handle request handlers use to report visits. It is
// safe for concurrent use.
type HitSubmitter struct {
	mu           sync.RWMutex
	closed       bool
	events       chan<- HitEvent
	dropWhenFull bool
	logger       *log.Logger
	metrics      Metrics
}

// Track reports one visit of key. It never waits for the store. When the
// channel is full it either waits (bounded by ctx) or drops the hit,
// depending on WithDropWhenFull. After Close it does nothing.
func (s *HitSubmitter) Track(ctx context.Context, key string) {
	if key == "" {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	event := HitEvent{Key: key}
	if s.dropWhenFull {
		select {
		case s.events <- event:
			s.metrics.HitTracked()
		default:
			s.metrics.HitDropped()
			s.logger.Printf("hit tracker: channel full, dropped hit for %q", key)
		}
		return
	}

	select {
	case s.events <- event:
		s.metrics.HitTracked()
	case <-ctx.Done():
		s.metrics.HitDropped()
		s.logger.Printf("hit tracker: gave up on hit for %q: %v", key, ctx.Err())
	}
}

// Close signals that no more hits will be tracked. The aggregator flushes
// its open window and stops. Calling Close more than once is harmless.
func (s *HitSubmitter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

// HitAggregator drains tracked hits, coalesces them per key over a window
// and writes one increment per distinct key, one write at a time.
type HitAggregator struct {
	events  <-chan HitEvent
	store   Incrementer
	opts    options
	started atomic.Bool
	done    chan struct{}
}

// Run blocks until the submitter is closed and the last window has been
// flushed. Only the first call does anything.
func (a *HitAggregator) Run() {
	if !a.started.CompareAndSwap(false, true) {
		return
	}
	defer close(a.done)

	// Wait until a hit has been made.
	for first := range a.events {
		window := Window{}
		window.Add(first.Key)

		open := a.collect(window)
		a.flush(window)
		if !open {
			return
		}
	}
}

// Done is closed once Run has returned.
func (a *HitAggregator) Done() <-chan struct{} {
	return a.done
}

// collect adds hits to window until the window timer fires or the channel
// is closed. It reports whether the channel is still open.
func (a *HitAggregator) collect(window Window) bool {
	timer := time.NewTimer(a.opts.window)
	defer timer.Stop()

	for {
		select {
		case event, ok := <-a.events:
			if !ok {
				return false
			}
			window.Add(event.Key)
		case <-timer.C:
			return true
		}
	}
}

// flush writes one increment per key, strictly one at a time. A failed
// key is reported and skipped.
func (a *HitAggregator) flush(window Window) {
	start := time.Now()
	for key, hits := range window {
		if err := a.write(key, hits); err != nil {
			a.opts.metrics.WriteFailed()
			a.opts.logger.Printf("hit tracker: error updating hit count of %q by %d: %v", key, hits, err)
			if a.opts.onError != nil {
				a.opts.onError(key, err)
			}
		}
	}
	a.opts.metrics.WindowFlushed(len(window), window.Hits(), time.Since(start))
}

func (a *HitAggregator) write(key string, hits int64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("increment panicked: %v", r)
		}
	}()

	ctx := context.Background()
	if a.opts.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.writeTimeout)
		defer cancel()
	}
	return a.store.Increment(ctx, key, a.opts.field, hits)
}
