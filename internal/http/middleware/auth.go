// README: Auth middleware; verifies the bearer token and resolves the actor context.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"shinua/internal/auth"
	"shinua/internal/infra"
	"shinua/internal/types"

	"shinua/internal/modules/user"
)

const actorKey = "actor"

// UserLoader is the slice of the user store the middleware needs.
type UserLoader interface {
	Get(ctx context.Context, id types.ID) (*user.User, error)
}

// Auth verifies the Authorization bearer token and loads the matching user
// row. With required=false the request proceeds anonymously when no token
// is present (new-request submission allows that).
func Auth(verifier infra.TokenVerifier, users UserLoader, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			if required {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "sign-in required"})
				return
			}
			c.Next()
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		verified, err := verifier.VerifyIDToken(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		u, err := users.Get(c.Request.Context(), types.ID(verified.UID))
		if err != nil || u.Deleted {
			if err != nil && err != user.ErrNotFound {
				slog.Warn("auth: load user", "err", err)
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
			return
		}
		c.Set(actorKey, auth.Context{
			UserID:     string(u.ID),
			Phone:      u.Phone,
			Name:       u.Name,
			Dispatcher: u.Dispatcher,
			Trainee:    u.Trainee,
			Admin:      u.Admin,
		})
		c.Next()
	}
}

// Actor returns the actor context set by Auth; zero value means anonymous.
func Actor(c *gin.Context) auth.Context {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(auth.Context); ok {
			return a
		}
	}
	return auth.Context{}
}
