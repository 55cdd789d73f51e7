package auth

import (
	"context"
	"time"

	"github.com/geocoder89/authcore/internal/domain/user"
)

type identityKey struct{}

// Identity is the verified user bound to a single request.
type Identity struct {
	User     user.User
	IssuedAt time.Time
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)

	return id, ok && id.User.ID != ""
}
