package middleware

import (
	"context"
	"net/http"
	"regexp"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"

	"github.com/2beens/portfolio/internal/telemetry/tracing"
	"github.com/2beens/portfolio/pkg"
)

// AuthTokenHeader carries the admin session token.
const AuthTokenHeader = "X-PORTFOLIO-TOKEN"

//go:generate mockgen -source=$GOFILE -destination=auth_mocks_test.go -package=middleware_test

type loginChecker interface {
	IsLogged(ctx context.Context, token string) (bool, error)
}

var (
	// visitors can comment and react without a session
	publicAddCommentPath = regexp.MustCompile(`^/posts/[^/]+/comments/?$`)
	publicReactionPath   = regexp.MustCompile(`^(/posts/[^/]+)?(/comments/[^/]+)?/(like|dislike)/?$`)
)

type AuthMiddlewareHandler struct {
	loginChecker loginChecker
	allowedPaths map[string]bool
}

func NewAuthMiddlewareHandler(loginChecker loginChecker) *AuthMiddlewareHandler {
	return &AuthMiddlewareHandler{
		loginChecker: loginChecker,
		allowedPaths: map[string]bool{
			"/a/login":  true,
			"/a/logout": true,
		},
	}
}

func (h *AuthMiddlewareHandler) requestIsPublic(r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	if h.allowedPaths[r.URL.Path] {
		return true
	}
	if r.Method != http.MethodPost {
		return false
	}
	return publicAddCommentPath.MatchString(r.URL.Path) || publicReactionPath.MatchString(r.URL.Path)
}

// AuthCheck lets public requests through and requires an open admin session for the rest.
// Preflight requests are answered here.
func (h *AuthMiddlewareHandler) AuthCheck() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracing.GlobalTracer.Start(r.Context(), "middleware.auth")
			defer span.End()

			if r.Method == http.MethodOptions {
				w.Header().Add("Allow", corsAllowedMethods)
				w.WriteHeader(http.StatusOK)
				return
			}
			if h.requestIsPublic(r) {
				next.ServeHTTP(w, r)
				return
			}

			logger := log.WithFields(log.Fields{
				"request_id": GetRequestID(ctx),
				"path":       r.URL.Path,
			})
			reject := func(reason string) {
				logger.Tracef("auth check: unauthorized, %s", reason)
				span.SetStatus(codes.Error, reason)
				pkg.WriteErrorResponse(w, http.StatusUnauthorized, "unauthorized", "admin session required")
			}

			authToken := r.Header.Get(AuthTokenHeader)
			if authToken == "" {
				reject("missing token")
				return
			}

			isLogged, err := h.loginChecker.IsLogged(ctx, authToken)
			if err != nil {
				logger.Errorf("auth check: login check failed: %s", err)
				span.RecordError(err)
				span.SetStatus(codes.Error, "login check failed")
				pkg.WriteErrorResponse(w, http.StatusServiceUnavailable, "store_unavailable", "cannot check session")
				return
			}
			if !isLogged {
				reject("no open session")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
