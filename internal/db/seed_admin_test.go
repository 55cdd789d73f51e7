package db

import (
	"context"
	"errors"
	"testing"

	"github.com/geocoder89/authcore/internal/config"
	"github.com/geocoder89/authcore/internal/domain/user"
	"github.com/geocoder89/authcore/internal/repo/memory"
	"github.com/geocoder89/authcore/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestEnsureAdminUser(t *testing.T) {
	ctx := context.Background()
	store := memory.NewUsersRepo(security.NewBcryptHasher(bcrypt.MinCost))
	cfg := config.AdminConfig{Name: "Root", Email: "Admin@Example.com", Password: "supersecret"}

	created, err := EnsureAdminUser(ctx, store, cfg)
	require.NoError(t, err)
	assert.True(t, created)

	u, err := store.FindByEmail(ctx, "admin@example.com", true)
	require.NoError(t, err)
	assert.Equal(t, user.RoleAdmin, u.Role)
	assert.NotEqual(t, "supersecret", u.PasswordHash)

	created, err = EnsureAdminUser(ctx, store, cfg)
	require.NoError(t, err)
	assert.False(t, created, "second run is a no-op")
}

func TestEnsureAdminUserSkipsWithoutCredentials(t *testing.T) {
	created, err := EnsureAdminUser(context.Background(), nil, config.AdminConfig{Email: "a@example.com"})
	require.NoError(t, err)
	assert.False(t, created)
}

func TestEnsureAdminUserRejectsWeakPassword(t *testing.T) {
	store := memory.NewUsersRepo(security.NewBcryptHasher(bcrypt.MinCost))

	_, err := EnsureAdminUser(context.Background(), store, config.AdminConfig{Name: "Root", Email: "a@example.com", Password: "short"})

	var ve *user.ValidationError
	require.True(t, errors.As(err, &ve))
}
