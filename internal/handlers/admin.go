package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/riptidehq/riptide/internal/services"
)

// AdminHandler exposes the operational reset endpoint. It is mounted behind
// the same auth chain as the rest of the API and is meant for support
// tooling, not end users.
type AdminHandler struct {
	logger   *logrus.Logger
	profiles *services.ProfileStore
}

func NewAdminHandler(logger *logrus.Logger, profiles *services.ProfileStore) *AdminHandler {
	return &AdminHandler{
		logger:   logger,
		profiles: profiles,
	}
}

// ResetUser handles POST /admin/users/:userId/reset. The user's learned
// pools and seen set are cleared while the account row itself survives.
func (h *AdminHandler) ResetUser(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_USER_ID",
				"message": "Invalid user ID format",
			},
		})
		return
	}

	if err := h.profiles.ResetPools(c.Request.Context(), userID); err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": gin.H{
					"code":    "USER_NOT_FOUND",
					"message": "User profile does not exist",
				},
			})
			return
		}
		h.logger.WithError(err).WithField("user_id", userID).Error("Failed to reset user profile")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "RESET_FAILED",
				"message": "Failed to reset user profile",
			},
		})
		return
	}

	h.logger.WithField("user_id", userID).Info("User profile reset")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
