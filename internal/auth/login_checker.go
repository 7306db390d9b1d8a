package auth

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/2beens/portfolio/internal/telemetry/tracing"
)

// LoginChecker tells whether a token belongs to an open admin session.
type LoginChecker struct {
	sessions *sessionStore
}

func NewLoginChecker(ttl time.Duration, redisClient *redis.Client) *LoginChecker {
	return &LoginChecker{
		sessions: &sessionStore{
			redisClient: redisClient,
			ttl:         ttl,
		},
	}
}

// IsLogged checks the session behind the token. Unknown tokens are not an error.
func (lc *LoginChecker) IsLogged(ctx context.Context, token string) (_ bool, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "auth.loginChecker.isLogged")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	createdAt, found, err := lc.sessions.createdAt(ctx, token)
	if err != nil || !found {
		return false, err
	}
	// redis expires the key, this covers sessions stored with a longer ttl
	return time.Since(createdAt) <= lc.sessions.ttl, nil
}
