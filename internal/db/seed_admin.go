package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/geocoder89/authcore/internal/config"
	"github.com/geocoder89/authcore/internal/domain/user"
)

type AdminStore interface {
	FindByEmail(ctx context.Context, email string, includeSecret bool) (user.User, error)
	Create(ctx context.Context, in user.NewUser) (user.User, error)
}

// EnsureAdminUser creates the configured admin account if it is missing. It
// goes through the regular store so the same validation and hashing apply.
// Returns true when a user was created.
func EnsureAdminUser(ctx context.Context, store AdminStore, cfg config.AdminConfig) (bool, error) {
	if cfg.Email == "" || cfg.Password == "" {
		return false, nil
	}

	_, err := store.FindByEmail(ctx, cfg.Email, false)
	if err == nil {
		return false, nil
	}

	if !errors.Is(err, user.ErrNotFound) {
		return false, err
	}

	_, err = store.Create(ctx, user.NewUser{
		Name:            cfg.Name,
		Email:           cfg.Email,
		Password:        cfg.Password,
		ConfirmPassword: cfg.Password,
		Role:            user.RoleAdmin,
	})
	if err != nil {
		return false, fmt.Errorf("seed admin: %w", err)
	}

	return true, nil
}
