package handler

import (
	"errors"
	"net/http"

	"github.com/emrantusho/the-final-studio/cmd/studio/internal/service"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	auth *service.AuthService
}

func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "username and password are required",
		})
		return
	}

	user, token, expiresAt, err := h.auth.Login(req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_credentials",
				"message": "invalid username or password",
			})
		case errors.Is(err, service.ErrSecretNotConfigured):
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "config_missing",
				"message": "session secret not configured",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal",
				"message": "login failed",
			})
		}
		return
	}

	h.auth.SetSessionCookie(c.Writer, c.GetHeader("Origin"), token, expiresAt)
	c.JSON(http.StatusOK, gin.H{"id": user.ID, "username": user.Username})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	token, _ := c.Cookie(h.auth.CookieName())
	if err := h.auth.Logout(token); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal",
			"message": "logout failed",
		})
		return
	}
	// Cleared unconditionally, whether or not a row existed.
	h.auth.ClearSessionCookie(c.Writer, c.GetHeader("Origin"))
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Session reports the current identity without requiring auth: an absent,
// invalid or expired cookie yields {"user": null} rather than a 401.
func (h *AuthHandler) Session(c *gin.Context) {
	token, err := c.Cookie(h.auth.CookieName())
	if err != nil || token == "" {
		c.JSON(http.StatusOK, gin.H{"user": nil})
		return
	}
	identity, err := h.auth.Validate(token)
	if err != nil {
		if errors.Is(err, service.ErrUnauthenticated) {
			h.auth.ClearSessionCookie(c.Writer, c.GetHeader("Origin"))
			c.JSON(http.StatusOK, gin.H{"user": nil})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal",
			"message": "session lookup failed",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": identity})
}
