package middleware

import (
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// LogRequest logs every handled request once it is done.
// Server errors are logged as warnings, the rest at debug level.
func LogRequest() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			begin := time.Now()
			resp := &responseWriter{w, http.StatusOK}

			next.ServeHTTP(resp, r)

			entry := log.WithFields(log.Fields{
				"request_id":  GetRequestID(r.Context()),
				"method":      r.Method,
				"route":       routeName(r),
				"status":      resp.Status(),
				"duration_ms": time.Since(begin).Milliseconds(),
				"user_agent":  r.UserAgent(),
			})
			if resp.Status() >= http.StatusInternalServerError {
				entry.Warnf("request %s %s failed", r.Method, r.URL.Path)
				return
			}
			entry.Debugf("request %s %s", r.Method, r.URL.Path)
		})
	}
}
