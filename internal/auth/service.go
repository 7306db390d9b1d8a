package auth

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"

	"github.com/2beens/portfolio/internal/telemetry/tracing"
	"github.com/2beens/portfolio/pkg"
)

const tokenRandomBytes = 35

var (
	ErrWrongUsername = errors.New("wrong username")
	ErrWrongPassword = errors.New("wrong password")
)

// Admin is the single user allowed to manage posts, comments and references.
type Admin struct {
	Username     string
	PasswordHash string
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type Service struct {
	admin    *Admin
	sessions *sessionStore
	// RandStringFunc generates session tokens, replaceable in tests
	RandStringFunc func(n int) (string, error)
}

func NewAuthService(
	admin *Admin,
	ttl time.Duration,
	redisClient *redis.Client,
) *Service {
	return &Service{
		admin: admin,
		sessions: &sessionStore{
			redisClient: redisClient,
			ttl:         ttl,
		},
		RandStringFunc: pkg.GenerateRandomString,
	}
}

// Login checks the admin credentials and opens a new session, returning its token.
func (as *Service) Login(ctx context.Context, credentials Credentials, createdAt time.Time) (_ string, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "auth.service.login")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if credentials.Username != as.admin.Username {
		return "", ErrWrongUsername
	}
	if !passwordMatches(credentials.Password, as.admin.PasswordHash) {
		return "", ErrWrongPassword
	}

	token, err := as.RandStringFunc(tokenRandomBytes)
	if err != nil {
		return "", err
	}
	if err := as.sessions.open(ctx, token, createdAt); err != nil {
		return "", err
	}
	return token, nil
}

// Logout closes the session; it returns false if the session was not open.
func (as *Service) Logout(ctx context.Context, token string) (_ bool, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "auth.service.logout")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	return as.sessions.close(ctx, token)
}

// PruneSessions removes expired sessions from the sessions index.
func (as *Service) PruneSessions(ctx context.Context) {
	pruned, err := as.sessions.prune(ctx)
	if err != nil {
		log.Errorf("auth service, prune sessions: %s", err)
		return
	}
	log.Debugf("auth service, pruned %d expired sessions", pruned)
}
