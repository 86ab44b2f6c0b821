package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) HitTracked()                                                {}
func (n *NoopSink) HitDropped()                                                {}
func (n *NoopSink) WindowFlushed(keys int, hits int64, duration time.Duration) {}
func (n *NoopSink) WriteFailed()                                               {}
func (n *NoopSink) RedirectServed(outcome string)                              {}
func (n *NoopSink) CacheLookup(hit bool)                                       {}
