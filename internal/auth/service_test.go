package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var (
	testUsername     = "testuser"
	testPassword     = "testpass"
	testPasswordHash = "$2a$14$6Gmhg85si2etd3K9oB8nYu1cxfbrdmhkg6wI6OXsa88IF4L2r/L9i" // testpass
	testAdmin        = &Admin{
		Username:     testUsername,
		PasswordHash: testPasswordHash,
	}
	testCredentials = Credentials{
		Username: testUsername,
		Password: testPassword,
	}
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// INFO: https://github.com/go-redis/redis/issues/1029
		goleak.IgnoreTopFunction(
			"github.com/go-redis/redis/v8/internal/pool.(*ConnPool).reaper",
		),
	)
}

func TestAuthService_Login(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	defer rdb.Close()

	authService := NewAuthService(testAdmin, time.Hour, rdb)
	authService.RandStringFunc = func(n int) (string, error) {
		assert.Equal(t, tokenRandomBytes, n)
		return "session-token", nil
	}
	ctx := context.Background()
	now := time.Now()

	mock.ExpectSet(sessionKey("session-token"), now.Unix(), time.Hour).SetVal("OK")
	mock.ExpectSAdd(tokensSetKey, "session-token").SetVal(1)
	token, err := authService.Login(ctx, testCredentials, now)
	require.NoError(t, err)
	assert.Equal(t, "session-token", token)

	token, err = authService.Login(ctx, Credentials{Username: testUsername, Password: "invalid_pass"}, now)
	assert.ErrorIs(t, err, ErrWrongPassword)
	assert.Empty(t, token)

	token, err = authService.Login(ctx, Credentials{Username: "someone", Password: testPassword}, now)
	assert.ErrorIs(t, err, ErrWrongUsername)
	assert.Empty(t, token)

	// session not stored
	mock.ExpectSet(sessionKey("session-token"), now.Unix(), time.Hour).SetErr(errors.New("connection refused"))
	token, err = authService.Login(ctx, testCredentials, now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store session")
	assert.Empty(t, token)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthService_Logout(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	defer rdb.Close()

	authService := NewAuthService(testAdmin, time.Hour, rdb)
	ctx := context.Background()

	mock.ExpectDel(sessionKey("open")).SetVal(1)
	mock.ExpectSRem(tokensSetKey, "open").SetVal(1)
	loggedOut, err := authService.Logout(ctx, "open")
	require.NoError(t, err)
	assert.True(t, loggedOut)

	mock.ExpectDel(sessionKey("unknown")).SetVal(0)
	mock.ExpectSRem(tokensSetKey, "unknown").SetVal(0)
	loggedOut, err = authService.Logout(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, loggedOut)

	mock.ExpectDel(sessionKey("open")).SetErr(errors.New("connection refused"))
	loggedOut, err = authService.Logout(ctx, "open")
	require.Error(t, err)
	assert.False(t, loggedOut)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthService_PruneSessions(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	defer rdb.Close()

	authService := NewAuthService(testAdmin, time.Hour, rdb)

	mock.ExpectSMembers(tokensSetKey).SetVal([]string{"expired", "open"})
	mock.ExpectExists(sessionKey("expired")).SetVal(0)
	mock.ExpectSRem(tokensSetKey, "expired").SetVal(1)
	mock.ExpectExists(sessionKey("open")).SetVal(1)

	authService.PruneSessions(context.Background())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionStore_Prune(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	defer rdb.Close()

	store := &sessionStore{redisClient: rdb, ttl: time.Hour}
	ctx := context.Background()

	mock.ExpectSMembers(tokensSetKey).SetVal(nil)
	pruned, err := store.prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, pruned)

	mock.ExpectSMembers(tokensSetKey).SetVal([]string{"a", "b"})
	mock.ExpectExists(sessionKey("a")).SetVal(0)
	mock.ExpectSRem(tokensSetKey, "a").SetVal(1)
	mock.ExpectExists(sessionKey("b")).SetErr(errors.New("timeout"))
	pruned, err = store.prune(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, pruned)

	assert.NoError(t, mock.ExpectationsWereMet())
}
