package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/riptidehq/riptide/internal/services"
)

// Auth verifies the bearer token and puts the caller's identity on the gin
// context for the handlers downstream.
func Auth(authService *services.AuthService, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "MISSING_AUTHORIZATION",
					"message": "Authorization header is required",
				},
			})
			c.Abort()
			return
		}

		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "INVALID_AUTHORIZATION_FORMAT",
					"message": "Authorization header must be in format 'Bearer <token>'",
				},
			})
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(tokenParts[1])
		if err != nil {
			code := "INVALID_TOKEN"
			message := "Invalid token"
			if errors.Is(err, services.ErrTokenExpired) {
				code = "TOKEN_EXPIRED"
				message = "Token has expired"
			}
			logger.WithError(err).Debug("Token rejected")
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    code,
					"message": message,
				},
			})
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("user_name", claims.UserName)
		c.Next()
	}
}

// GetUserFromContext returns the authenticated user's id and name.
func GetUserFromContext(c *gin.Context) (uuid.UUID, string) {
	userID, _ := c.Get("user_id")
	userName, _ := c.Get("user_name")

	id, _ := userID.(uuid.UUID)
	name, _ := userName.(string)
	return id, name
}
