package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/riptidehq/riptide/internal/config"
	"github.com/riptidehq/riptide/internal/services"
)

// Session resumes the caller's working session from the sid cookie, starting
// a fresh one when the cookie is missing or the session already expired. Runs
// after Auth so the user identity is available for hydration.
func Session(sessions *services.SessionService, cfg *config.SessionConfig, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, userName := GetUserFromContext(c)

		sessionID, _ := c.Cookie(cfg.CookieName)
		if sessionID != "" {
			alive, err := sessions.Resume(c.Request.Context(), sessionID)
			if err != nil {
				logger.WithError(err).WithField("session_id", sessionID).Warn("Session resume failed")
			}
			if alive {
				// Re-issue the cookie so its Max-Age tracks the slid
				// expiry, not the age at first issue.
				c.SetSameSite(http.SameSiteLaxMode)
				c.SetCookie(cfg.CookieName, sessionID, int(cfg.TTL.Seconds()), "/", "", cfg.CookieSecure, true)
				c.Set("session_id", sessionID)
				c.Next()
				return
			}
		}

		sessionID, err := sessions.Start(c.Request.Context(), userID, userName, "")
		if err != nil {
			logger.WithError(err).WithField("user_id", userID).Error("Failed to start session")
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": gin.H{
					"code":    "SESSION_START_FAILED",
					"message": "Failed to start session",
				},
			})
			c.Abort()
			return
		}

		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(cfg.CookieName, sessionID, int(cfg.TTL.Seconds()), "/", "", cfg.CookieSecure, true)
		c.Set("session_id", sessionID)
		c.Next()
	}
}

// GetSessionFromContext returns the working session id, empty if none.
func GetSessionFromContext(c *gin.Context) string {
	sessionID, _ := c.Get("session_id")
	id, _ := sessionID.(string)
	return id
}
