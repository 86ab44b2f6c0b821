package middlewares

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedirectRateLimitMiddleware limits each client IP to maxRequests per
// minute using a fixed window counter in Redis. Redis errors let the
// request pass.
func RedirectRateLimitMiddleware(client *redis.Client, maxRequests int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "rate:" + getIPAddress(r)
			ctx, cancel := context.WithTimeout(r.Context(), 100*time.Millisecond)
			defer cancel()

			var incr *redis.IntCmd
			var ttl *redis.DurationCmd
			_, err := client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				incr = pipe.Incr(ctx, key)
				pipe.ExpireNX(ctx, key, time.Minute)
				ttl = pipe.TTL(ctx, key)
				return nil
			})
			if err != nil {
				// In case of error, let the request pass.
				DebugLogger.Printf("rate limit unavailable: %v", err)
				next.ServeHTTP(w, r)
				return
			}

			count := incr.Val()
			remaining := maxRequests - count
			if remaining < 0 {
				remaining = 0
			}
			reset := int(time.Minute.Seconds())
			if d := ttl.Val(); d > 0 {
				reset = int(d.Seconds())
			}
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(maxRequests, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.Itoa(reset))

			if count > maxRequests {
				w.Header().Set("Retry-After", strconv.Itoa(reset))
				http.Error(w, "Rate limit exceeded. Try again later.", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
