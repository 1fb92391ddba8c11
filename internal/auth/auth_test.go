package auth

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/servicehub/backend/internal/apperr"
	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/store/memory"
)

var testParams = Argon2Params{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLength: 32, SaltLength: 16}

func newTestService(t *testing.T) (*Service, *memory.Store, redismock.ClientMock) {
	t.Helper()
	st := memory.New()
	rdb, mock := redismock.NewClientMock()
	svc := NewService(st, rdb, Config{SecretKey: "test-secret", Expiry: 24 * time.Hour, Argon2: testParams}, zap.NewNop())

	now := time.Now().Truncate(time.Second)
	svc.now = func() time.Time { return now }

	hash, err := svc.HashPassword("password123")
	require.NoError(t, err)
	require.NoError(t, st.CreateUser(context.Background(), &models.User{ID: "u1", Name: "Asha", Mobile: "9876543210", PasswordHash: hash}))
	require.NoError(t, st.CreateUser(context.Background(), &models.User{ID: "u2", Name: "Ravi", Mobile: "9876543211", PasswordHash: hash, Blocked: true}))
	return svc, st, mock
}

func TestPasswordHashing(t *testing.T) {
	h := NewHasher(testParams)

	hashed, err := h.HashPassword("testpassword")
	assert.NoError(t, err)
	assert.NotEmpty(t, hashed)

	assert.True(t, h.VerifyPassword("testpassword", hashed))
	assert.False(t, h.VerifyPassword("wrongpassword", hashed))
	assert.False(t, h.VerifyPassword("testpassword", "not-a-hash"))
}

func TestService_LoginUser(t *testing.T) {
	ctx := context.Background()
	svc, _, mock := newTestService(t)

	t.Run("successful login", func(t *testing.T) {
		sess, err := svc.LoginUser(ctx, "9876543210", "password123")
		require.NoError(t, err)
		assert.NotEmpty(t, sess.Token)
		assert.Equal(t, RoleUser, sess.Role)
		assert.Equal(t, "u1", sess.User.ID)

		mock.Regexp().ExpectExists(`blacklist:.+`).SetVal(0)
		claims, err := svc.Authenticate(ctx, sess.Token)
		require.NoError(t, err)
		assert.Equal(t, "u1", claims.UserID)
		assert.Equal(t, RoleUser, claims.Role)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := svc.LoginUser(ctx, "9876543210", "nope")
		assert.True(t, apperr.Is(err, apperr.Unauthorized))
	})

	t.Run("unknown mobile", func(t *testing.T) {
		_, err := svc.LoginUser(ctx, "9000000000", "password123")
		assert.True(t, apperr.Is(err, apperr.Unauthorized))
	})

	t.Run("blocked user", func(t *testing.T) {
		_, err := svc.LoginUser(ctx, "9876543211", "password123")
		assert.True(t, apperr.Is(err, apperr.Forbidden))
	})
}

func TestService_Logout(t *testing.T) {
	ctx := context.Background()
	svc, _, mock := newTestService(t)

	sess, err := svc.LoginUser(ctx, "9876543210", "password123")
	require.NoError(t, err)

	mock.Regexp().ExpectSet(`blacklist:.+`, `1`, 24*time.Hour).SetVal("OK")
	require.NoError(t, svc.Logout(ctx, sess.Token))

	mock.Regexp().ExpectExists(`blacklist:.+`).SetVal(1)
	_, err = svc.Authenticate(ctx, sess.Token)
	assert.True(t, apperr.Is(err, apperr.Unauthorized))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Authenticate(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.Authenticate(ctx, "not-a-token")
		assert.True(t, apperr.Is(err, apperr.Unauthorized))
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
			UserID: "u1",
			Role:   RoleAdmin,
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}).SignedString([]byte("other-secret"))
		require.NoError(t, err)

		_, err = svc.Authenticate(ctx, token)
		assert.True(t, apperr.Is(err, apperr.Unauthorized))
	})

	t.Run("expired", func(t *testing.T) {
		sess, err := svc.Refresh(&Claims{UserID: "u1", Role: RoleUser})
		require.NoError(t, err)

		later := svc.now().Add(25 * time.Hour)
		svc.now = func() time.Time { return later }
		_, err = svc.Authenticate(ctx, sess.Token)
		assert.True(t, apperr.Is(err, apperr.Unauthorized))
	})
}

func TestService_EnsureDefaultAdmin(t *testing.T) {
	ctx := context.Background()
	svc, st, mock := newTestService(t)

	require.NoError(t, svc.EnsureDefaultAdmin(ctx, "admin", "s3cret"))
	require.NoError(t, svc.EnsureDefaultAdmin(ctx, "admin", "changed"))

	admin, err := st.GetAdminByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.True(t, svc.VerifyPassword("s3cret", admin.PasswordHash))

	sess, err := svc.LoginAdmin(ctx, "admin", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, sess.Role)

	mock.Regexp().ExpectExists(`blacklist:.+`).SetVal(0)
	claims, err := svc.Authenticate(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, claims.Role)

	_, err = svc.LoginAdmin(ctx, "admin", "changed")
	assert.True(t, apperr.Is(err, apperr.Unauthorized))
}
