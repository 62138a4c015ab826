package user

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-server/internal/apperr"
	"chat-server/internal/storage"
)

const testSecret = "test-secret"

func newTestService(t *testing.T) *Service {
	t.Helper()
	blob, err := storage.NewBlob(filepath.Join(t.TempDir(), "users.json"))
	require.NoError(t, err)
	repo, err := NewRepository(blob)
	require.NoError(t, err)
	return NewService(repo, testSecret)
}

func register(t *testing.T, svc *Service) Profile {
	t.Helper()
	profile, err := svc.Register(context.Background(), &RegisterRequest{
		Email:     "ada@example.com",
		Password:  "hunter2",
		FirstName: "Ada",
		LastName:  "Lovelace",
	})
	require.NoError(t, err)
	return profile
}

func TestRegister(t *testing.T) {
	svc := newTestService(t)

	profile := register(t, svc)
	assert.NotEmpty(t, profile.ID)
	assert.Equal(t, "Ada", profile.FirstName)

	u, err := svc.Get(profile.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", u.Password, "password must be stored hashed")
	assert.NotEmpty(t, u.Password)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := newTestService(t)
	register(t, svc)

	_, err := svc.Register(context.Background(), &RegisterRequest{
		Email:     "ADA@example.com",
		Password:  "other",
		FirstName: "Another",
		LastName:  "Ada",
	})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err), "email match is case-insensitive")
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Register(context.Background(), &RegisterRequest{
		Email:    "ada@example.com",
		Password: "hunter2",
	})
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
}

func TestLoginAndVerify(t *testing.T) {
	svc := newTestService(t)
	profile := register(t, svc)

	resp, err := svc.Login(context.Background(), &LoginRequest{
		Email:    "ada@example.com",
		Password: "hunter2",
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, profile.ID, resp.ID)

	u, err := svc.VerifyToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, profile.ID, u.ID)

	id, name, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, profile.ID, id)
	assert.Equal(t, "Ada Lovelace", name)
}

func TestLoginWrongPassword(t *testing.T) {
	svc := newTestService(t)
	register(t, svc)

	_, err := svc.Login(context.Background(), &LoginRequest{
		Email:    "ada@example.com",
		Password: "wrong",
	})
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}

func TestLoginUnknownEmail(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Login(context.Background(), &LoginRequest{
		Email:    "nobody@example.com",
		Password: "hunter2",
	})
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}

func TestVerifyGarbageToken(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.VerifyToken("not-a-jwt")
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}

func TestProfileUpdates(t *testing.T) {
	svc := newTestService(t)
	profile := register(t, svc)
	ctx := context.Background()

	updated, err := svc.UpdateFirstName(ctx, profile.ID, "Augusta")
	require.NoError(t, err)
	assert.Equal(t, "Augusta", updated.FirstName)

	updated, err = svc.UpdateLastName(ctx, profile.ID, "King")
	require.NoError(t, err)
	assert.Equal(t, "King", updated.LastName)

	updated, err = svc.UpdateAvatar(ctx, profile.ID, "avatars/ada.png")
	require.NoError(t, err)
	assert.Equal(t, "avatars/ada.png", updated.Avatar)

	_, err = svc.UpdateFirstName(ctx, profile.ID, "  ")
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
}

func TestDeleteAccount(t *testing.T) {
	svc := newTestService(t)
	profile := register(t, svc)
	ctx := context.Background()

	require.NoError(t, svc.Delete(ctx, profile.ID))
	_, err := svc.Get(profile.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	err = svc.Delete(ctx, profile.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestFullNameFallback(t *testing.T) {
	u := User{FirstName: "Ada"}
	assert.Equal(t, "Ada -", u.FullName())
	assert.Equal(t, "- -", User{}.FullName())
}
