package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studio_gateway/internal/models"
	"studio_gateway/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.UserRepository) {
	t.Helper()

	db, err := storage.NewDB(storage.DefaultDBConfig("sqlite://" + filepath.Join(t.TempDir(), "auth.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	users := db.NewUserRepository()
	return NewService(users, NewTokenIssuer([]byte("test-secret"), time.Hour)), users
}

func TestService_RegisterAndLogin(t *testing.T) {
	svc, users := newTestService(t)
	ctx := context.Background()

	session, err := svc.Register(ctx, "alice", "pass1234")
	require.NoError(t, err)
	assert.Equal(t, "USER", session.User.Role)

	claims, err := svc.Tokens().Validate(session.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, RoleUser, claims.Role)

	_, err = svc.Register(ctx, "alice", "another")
	assert.ErrorIs(t, err, ErrUsernameTaken)

	_, err = svc.Register(ctx, "bob", "abc")
	assert.ErrorIs(t, err, ErrPasswordTooShort)

	_, err = svc.Register(ctx, "  ", "pass1234")
	assert.ErrorIs(t, err, ErrUsernameRequired)

	session, err = svc.Login(ctx, "alice", "pass1234")
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)

	stored, err := users.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLoginAt)

	_, err = svc.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "nobody", "pass1234")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestService_LoginInactive(t *testing.T) {
	svc, users := newTestService(t)
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, "carol", "pass1234", RoleUser)
	require.NoError(t, err)

	status := models.UserStatusSuspended
	_, err = users.Update(ctx, user.ID, &models.UserUpdate{Status: &status})
	require.NoError(t, err)

	_, err = svc.Login(ctx, "carol", "pass1234")
	assert.ErrorIs(t, err, ErrAccountInactive)
}

func TestService_ChangePassword(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, "dave", "old-pass", RoleUser)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.ChangePassword(ctx, user.ID, "nope", "new-pass"), ErrInvalidCredentials)
	require.NoError(t, svc.ChangePassword(ctx, user.ID, "old-pass", "new-pass"))

	_, err = svc.Login(ctx, "dave", "old-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "dave", "new-pass")
	assert.NoError(t, err)
}

func TestService_EnsureAdmin(t *testing.T) {
	svc, users := newTestService(t)
	ctx := context.Background()

	created, err := svc.EnsureAdmin(ctx, "admin", "admin123")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = svc.EnsureAdmin(ctx, "admin", "different")
	require.NoError(t, err)
	assert.False(t, created)

	admin, err := users.GetByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, "ADMIN", admin.Role)

	_, err = svc.CreateUser(ctx, "x", "pass1234", Role("viewer"))
	assert.ErrorIs(t, err, ErrInvalidRole)
}
