package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	DefaultTTL       = 24 * 7 * time.Hour
	sessionKeyPrefix = "portfolio-session||"
	// tokensSetKey indexes open sessions, so expired ones can be pruned from it
	tokensSetKey = "portfolio-sessions"
)

// sessionStore keeps admin sessions in redis.
// A session is a key holding its creation unix time, expiring after ttl.
type sessionStore struct {
	redisClient *redis.Client
	ttl         time.Duration
}

func sessionKey(token string) string {
	return sessionKeyPrefix + token
}

func (s *sessionStore) open(ctx context.Context, token string, createdAt time.Time) error {
	if err := s.redisClient.Set(ctx, sessionKey(token), createdAt.Unix(), s.ttl).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	if err := s.redisClient.SAdd(ctx, tokensSetKey, token).Err(); err != nil {
		return fmt.Errorf("index session: %w", err)
	}
	return nil
}

// createdAt returns when the session was opened; found is false for unknown tokens.
func (s *sessionStore) createdAt(ctx context.Context, token string) (_ time.Time, found bool, _ error) {
	val, err := s.redisClient.Get(ctx, sessionKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}

	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("session %q has bad created at value: %w", token, err)
	}
	return time.Unix(unix, 0), true, nil
}

// close removes the session and reports whether it was open.
func (s *sessionStore) close(ctx context.Context, token string) (bool, error) {
	deleted, err := s.redisClient.Del(ctx, sessionKey(token)).Result()
	if err != nil {
		return false, err
	}
	if err := s.redisClient.SRem(ctx, tokensSetKey, token).Err(); err != nil {
		return false, err
	}
	return deleted > 0, nil
}

// prune drops index entries whose session key has already expired.
func (s *sessionStore) prune(ctx context.Context) (int, error) {
	tokens, err := s.redisClient.SMembers(ctx, tokensSetKey).Result()
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	pruned := 0
	for _, token := range tokens {
		exists, err := s.redisClient.Exists(ctx, sessionKey(token)).Result()
		if err != nil {
			return pruned, fmt.Errorf("check session: %w", err)
		}
		if exists > 0 {
			continue
		}
		if err := s.redisClient.SRem(ctx, tokensSetKey, token).Err(); err != nil {
			return pruned, fmt.Errorf("unindex session: %w", err)
		}
		pruned++
	}
	return pruned, nil
}
