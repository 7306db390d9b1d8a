package middleware

import (
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
)

const publicMediaPathPrefix = "/media/files/"

var (
	localDevOrigins = []string{
		"http://localhost:3000",
		"http://localhost:5173",
	}
	corsAllowedHeaders = strings.Join([]string{
		"Accept", "Accept-Encoding", "Authorization", "Content-Type", "Content-Length",
		RequestIDHeader, AuthTokenHeader,
	}, ", ")
	corsAllowedMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
)

// Cors lets browsers call the API from the configured origins and the local dev frontends.
// Requests without an Origin header are not cross-origin and pass as they are.
// Media files are public and can be embedded from any origin.
func Cors(origins []string) func(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins)+len(localDevOrigins))
	for _, o := range append(localDevOrigins, origins...) {
		allowed[strings.TrimSuffix(o, "/")] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !allowed[origin] && !strings.HasPrefix(r.URL.Path, publicMediaPathPrefix) {
				log.WithField("request_id", GetRequestID(r.Context())).
					Warnf("cors: origin [%s] not allowed for [%s]", origin, r.URL.Path)
				w.WriteHeader(http.StatusForbidden)
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
			h.Set("Access-Control-Allow-Methods", corsAllowedMethods)
			h.Set("Access-Control-Expose-Headers", RequestIDHeader)
			next.ServeHTTP(w, r)
		})
	}
}
