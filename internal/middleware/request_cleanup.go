package middleware

import (
	"io"
	"net/http"
)

// DrainRequestBody reads what the handler left of the request body, up to maxBytes, and closes it.
// Larger leftovers are not read; the connection is then not reused.
func DrainRequestBody(maxBytes int64) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			if r.Body == nil || r.Body == http.NoBody {
				return
			}
			_, _ = io.CopyN(io.Discard, r.Body, maxBytes)
			_ = r.Body.Close()
		})
	}
}
