package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/riptidehq/riptide/internal/services"
)

func RateLimit(rateLimitService *services.RateLimitService, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := c.Get("user_id")
		if !exists {
			// Only reachable if the auth middleware is missing from the chain.
			logger.Error("Rate limit middleware called without user context")
			c.Next()
			return
		}

		id, ok := userID.(uuid.UUID)
		if !ok {
			c.Next()
			return
		}

		allowed, info, err := rateLimitService.IsAllowed(c.Request.Context(), id.String())
		if err != nil {
			logger.WithError(err).Error("Failed to check rate limit")
			// Fail open rather than blocking traffic on a warm-store outage.
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime, 10))

		if !allowed {
			logger.WithFields(logrus.Fields{
				"user_id": id,
				"limit":   info.Limit,
			}).Warn("Rate limit exceeded")

			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":    "RATE_LIMIT_EXCEEDED",
					"message": "Rate limit exceeded. Please try again later.",
				},
				"rate_limit": info,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
