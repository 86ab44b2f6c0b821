package middlewares

import (
	"fmt"
	"net/http"

	"github.com/getsentry/sentry-go"
)

// SentryAlertMiddleware reports server errors to the Sentry hub attached
// by sentryhttp. Without a hub it does nothing.
func SentryAlertMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := newStatusRecorder(w)
		next.ServeHTTP(rec, r)

		if rec.Status() < http.StatusInternalServerError {
			return
		}
		if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
			hub.CaptureMessage(fmt.Sprintf("%s %s returned %d", r.Method, r.URL.Path, rec.Status()))
		}
	})
}
