package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/riptidehq/riptide/internal/config"
	"github.com/riptidehq/riptide/internal/middleware"
	"github.com/riptidehq/riptide/internal/services"
)

type SessionHandler struct {
	logger     *logrus.Logger
	sessionSvc *services.SessionService
	cookieCfg  *config.SessionConfig
}

func NewSessionHandler(logger *logrus.Logger, sessionSvc *services.SessionService, cookieCfg *config.SessionConfig) *SessionHandler {
	return &SessionHandler{
		logger:     logger,
		sessionSvc: sessionSvc,
		cookieCfg:  cookieCfg,
	}
}

// Logout handles POST /auth/logout: the session is merged into the profile
// and destroyed, and the cookie is cleared.
func (h *SessionHandler) Logout(c *gin.Context) {
	userID, _ := middleware.GetUserFromContext(c)
	sessionID := middleware.GetSessionFromContext(c)

	if sessionID != "" {
		if err := h.sessionSvc.End(c.Request.Context(), sessionID, userID); err != nil {
			if errors.Is(err, services.ErrSessionUserMismatch) {
				c.JSON(http.StatusForbidden, gin.H{
					"error": gin.H{
						"code":    "SESSION_MISMATCH",
						"message": "Session does not belong to the caller",
					},
				})
				return
			}
			h.logger.WithError(err).WithField("session_id", sessionID).Error("Failed to end session")
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": gin.H{
					"code":    "LOGOUT_FAILED",
					"message": "Failed to end session",
				},
			})
			return
		}
	}

	c.SetCookie(h.cookieCfg.CookieName, "", -1, "/", "", h.cookieCfg.CookieSecure, true)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
