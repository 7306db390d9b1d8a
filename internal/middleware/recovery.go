package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"

	"github.com/2beens/portfolio/internal/telemetry/metrics"
	"github.com/2beens/portfolio/pkg"
)

// PanicRecovery turns a handler panic into a 500 internal error response.
// The panic is logged with the request id, counted, and reported to sentry when a client is set up.
func PanicRecovery(metricsManager *metrics.Manager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				recovered := recover()
				if recovered == nil {
					return
				}
				// net/http uses this one to abort the response silently
				if err, ok := recovered.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(recovered)
				}

				log.WithFields(log.Fields{
					"request_id": GetRequestID(r.Context()),
					"method":     r.Method,
					"route":      routeName(r),
				}).Errorf("panic serving %s: %v\n%s", r.URL.Path, recovered, debug.Stack())

				if metricsManager != nil {
					metricsManager.CounterHandleRequestPanic.Inc()
				}
				if hub := sentry.CurrentHub(); hub.Client() != nil {
					hub.Clone().Recover(recovered)
				}

				pkg.WriteErrorResponse(w, http.StatusInternalServerError, "internal", "internal server error")
			}()

			next.ServeHTTP(w, r)
		})
	}
}
