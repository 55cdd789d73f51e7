package middlewares

import (
	"github.com/geocoder89/authcore/internal/auth"
	"github.com/geocoder89/authcore/internal/http/handlers"
	"github.com/gin-gonic/gin"
)

// RequireRole admits only the listed roles. It must come after RequireAuth.
func RequireRole(roles ...string) gin.HandlerFunc {
	gate := auth.NewRoleGate(roles...)

	return func(c *gin.Context) {
		err := gate.Check(c.Request.Context())
		if err != nil {
			handlers.AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
