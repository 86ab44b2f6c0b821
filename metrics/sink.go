// Package metrics records hit tracker and redirect metrics.
package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations must not block or
// propagate errors.
type Sink interface {
	// Hit tracker metrics
	HitTracked()
	HitDropped()
	WindowFlushed(keys int, hits int64, duration time.Duration)
	WriteFailed()

	// Redirect metrics
	RedirectServed(outcome string)
	CacheLookup(hit bool)
}

// Redirect outcomes.
const (
	OutcomeRedirected = "redirected"
	OutcomeNotFound   = "not_found"
	OutcomeError      = "error"
	OutcomeDefault    = "default"
)
