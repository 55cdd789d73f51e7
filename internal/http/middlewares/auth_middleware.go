package middlewares

import (
	"context"
	"log/slog"

	"github.com/geocoder89/authcore/internal/auth"
	"github.com/geocoder89/authcore/internal/http/handlers"
	"github.com/gin-gonic/gin"
)

// Authenticator is satisfied by *auth.Gate; small so tests can fake it.
type Authenticator interface {
	Authenticate(ctx context.Context, authorization string) (auth.Identity, error)
}

type AuthMiddleware struct {
	gate Authenticator
	log  *slog.Logger
}

func NewAuthMiddleware(gate Authenticator, log *slog.Logger) *AuthMiddleware {
	if log == nil {
		log = slog.Default()
	}
	return &AuthMiddleware{gate: gate, log: log}
}

// RequireAuth binds the verified Identity to the request context. Every
// failure ends the request with the mapped 401.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqCtx := c.Request.Context()

		id, err := m.gate.Authenticate(reqCtx, c.GetHeader("Authorization"))
		if err != nil {
			m.log.WarnContext(reqCtx, "authentication rejected", "route", c.FullPath(), "err", err)
			handlers.AbortWithError(c, err)
			return
		}

		c.Request = c.Request.WithContext(auth.WithIdentity(reqCtx, id))
		c.Set(CtxUserID, id.User.ID)

		c.Next()
	}
}

// UserIDFromContext returns the authenticated user id, for key functions and
// request logs.
func UserIDFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(CtxUserID)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}
