package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/apperr"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/models"
)

const (
	AuthContextKey = "user_id"
	UserContextKey = "user"

	AdminKeyHeader = "X-Admin-Key"
)

// SessionResolver maps a session cookie to its user. A nil user means anonymous.
type SessionResolver interface {
	CurrentUser(ctx context.Context, cookie string) (*models.User, error)
}

// SessionAuth resolves the session cookie on every request. Missing or
// invalid sessions leave the request anonymous; it never rejects.
func SessionAuth(resolver SessionResolver, cookieName string, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie, err := c.Cookie(cookieName)
		if err != nil || cookie == "" {
			c.Next()
			return
		}

		user, err := resolver.CurrentUser(c.Request.Context(), cookie)
		if err != nil {
			logger.WithError(err).Warn("session lookup failed, treating request as anonymous")
		}
		if user != nil {
			c.Set(AuthContextKey, user.ID)
			c.Set(UserContextKey, user)
		}

		c.Next()
	}
}

// RequireUser aborts anonymous requests with 401
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetUserID(c); !ok {
			AbortWithError(c, apperr.ErrUnauthorized)
			return
		}
		c.Next()
	}
}

// AdminKey guards operator endpoints with a shared key. An empty key disables them.
func AdminKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}

		presented := c.GetHeader(AdminKeyHeader)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
			AbortWithError(c, apperr.New(apperr.KindUnauthorized, apperr.CodeUnauthorized, "invalid admin key"))
			return
		}
		c.Next()
	}
}

// GetUserID retrieves the user ID from the context
func GetUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(AuthContextKey)
	if !exists {
		return "", false
	}

	userIDStr, ok := userID.(string)
	return userIDStr, ok && userIDStr != ""
}

// GetUser retrieves the signed-in user, if any
func GetUser(c *gin.Context) *models.User {
	user, exists := c.Get(UserContextKey)
	if !exists {
		return nil
	}
	u, _ := user.(*models.User)
	return u
}
