package middleware

import (
	"errors"
	"net/http"

	"github.com/emrantusho/the-final-studio/cmd/studio/internal/service"

	"github.com/gin-gonic/gin"
)

// Context keys set by SessionAuth for downstream handlers.
const (
	CtxUserID   = "user_id"
	CtxUsername = "username"
)

// SessionAuth guards protected routes. Every request re-validates the
// cookie token against the store; there is no cross-request caching of the
// result, so revocation and expiry take effect immediately.
func SessionAuth(auth *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(auth.CookieName())
		if err != nil || token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "no session cookie",
			})
			c.Abort()
			return
		}

		identity, err := auth.Validate(token)
		if err != nil {
			if errors.Is(err, service.ErrUnauthenticated) {
				// Expired or revoked: clear the stale cookie so the browser
				// stops resending it.
				auth.ClearSessionCookie(c.Writer, c.GetHeader("Origin"))
				c.JSON(http.StatusUnauthorized, gin.H{
					"error":   "unauthorized",
					"message": "invalid or expired session",
				})
			} else {
				c.JSON(http.StatusInternalServerError, gin.H{
					"error":   "internal",
					"message": "session lookup failed",
				})
			}
			c.Abort()
			return
		}

		c.Set(CtxUserID, identity.UserID)
		c.Set(CtxUsername, identity.Username)
		c.Next()
	}
}
