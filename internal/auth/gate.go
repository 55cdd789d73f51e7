package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/geocoder89/authcore/internal/domain/user"
)

type TokenVerifier interface {
	Verify(token string) (*Claims, error)
}

type UserFinder interface {
	FindByID(ctx context.Context, id string, includeSecret bool) (user.User, error)
}

// Gate authenticates protected requests:
// extract bearer -> verify token -> load user -> check password recency.
type Gate struct {
	verifier TokenVerifier
	users    UserFinder
}

func NewGate(verifier TokenVerifier, users UserFinder) *Gate {
	return &Gate{verifier: verifier, users: users}
}

func (g *Gate) Authenticate(ctx context.Context, authorization string) (Identity, error) {
	raw, ok := BearerToken(authorization)
	if !ok {
		return Identity{}, ErrNoAccess
	}

	claims, err := g.verifier.Verify(raw)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrNoAccess, err)
	}

	u, err := g.users.FindByID(ctx, claims.UserID, false)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return Identity{}, ErrUserGone
		}
		return Identity{}, fmt.Errorf("load user: %w", err)
	}

	issuedAt := claims.IssuedAtTime()
	if u.ChangedPasswordAfter(issuedAt) {
		return Identity{}, ErrStalePassword
	}

	return Identity{User: u, IssuedAt: issuedAt}, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value.
func BearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || scheme != "Bearer" {
		return "", false
	}

	token = strings.TrimSpace(token)
	if token == "" || strings.Contains(token, " ") {
		return "", false
	}

	return token, true
}
