package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/controlroom/internal/auth"
	"github.com/goatkit/controlroom/internal/models"
	"github.com/goatkit/controlroom/internal/repository"
)

func newTestAuthService(t *testing.T) (*AuthService, *auth.Authority, *repository.MemoryStaffRepository) {
	t.Helper()
	authority, err := auth.NewAuthority(auth.Options{Secret: []byte("service-test-secret-0123456789abcdef")})
	require.NoError(t, err)
	users := repository.NewMemoryStaffRepository()
	return NewAuthService(users, authority), authority, users
}

func TestAuthService_LoginIssuesTokens(t *testing.T) {
	svc, authority, _ := newTestAuthService(t)
	ctx := context.Background()

	created, err := svc.CreateUser(ctx, "alice", "correct horse", models.RoleAdmin)
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", created.PasswordHash)

	user, pair, err := svc.Login(ctx, " alice ", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, created.ID, user.ID)

	claims, err := authority.Validate(pair.AccessToken, auth.KindAccess)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.True(t, claims.Elevated())

	_, err = authority.Validate(pair.RefreshToken, auth.KindRefresh)
	require.NoError(t, err)

	me, err := svc.Me(ctx, claims)
	require.NoError(t, err)
	assert.Equal(t, "alice", me.Username)
}

func TestAuthService_LoginFailures(t *testing.T) {
	svc, _, users := newTestAuthService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, "bob", "password123", "")
	require.NoError(t, err)

	t.Run("wrong password", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "bob", "nope")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "mallory", "password123")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	t.Run("disabled user", func(t *testing.T) {
		hash, err := auth.HashPassword("password123")
		require.NoError(t, err)
		require.NoError(t, users.Create(ctx, &models.StaffUser{ID: "u-off", Username: "carol", PasswordHash: hash, Role: models.RoleStaff}))
		_, _, err = svc.Login(ctx, "carol", "password123")
		assert.ErrorIs(t, err, auth.ErrUserDisabled)
	})
}

func TestAuthService_CreateUserValidation(t *testing.T) {
	svc, _, _ := newTestAuthService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, "dave", "short", models.RoleStaff)
	assert.ErrorIs(t, err, ErrWeakPassword)

	_, err = svc.CreateUser(ctx, "  ", "password123", models.RoleStaff)
	assert.Error(t, err)

	_, err = svc.CreateUser(ctx, "dave", "password123", "root")
	assert.Error(t, err)

	u, err := svc.CreateUser(ctx, "dave", "password123", "")
	require.NoError(t, err)
	assert.Equal(t, models.RoleStaff, u.Role)

	_, err = svc.CreateUser(ctx, "dave", "password456", models.RoleStaff)
	assert.ErrorIs(t, err, repository.ErrDuplicateUsername)
}
