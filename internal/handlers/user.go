package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/riptidehq/riptide/internal/middleware"
	"github.com/riptidehq/riptide/internal/services"
)

type UserHandler struct {
	logger     *logrus.Logger
	creatorSvc *services.CreatorService
}

func NewUserHandler(logger *logrus.Logger, creatorSvc *services.CreatorService) *UserHandler {
	return &UserHandler{
		logger:     logger,
		creatorSvc: creatorSvc,
	}
}

// ToggleFollow handles POST /user/:userId/follow. The path parameter is the
// creator being followed or unfollowed; the actor comes from the token.
func (h *UserHandler) ToggleFollow(c *gin.Context) {
	creatorID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_USER_ID",
				"message": "Invalid user ID format",
			},
		})
		return
	}

	userID, _ := middleware.GetUserFromContext(c)
	if creatorID == userID {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "SELF_FOLLOW",
				"message": "Cannot follow yourself",
			},
		})
		return
	}

	sessionID := middleware.GetSessionFromContext(c)

	following, err := h.creatorSvc.ToggleFollow(c.Request.Context(), userID, sessionID, creatorID)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": gin.H{
					"code":    "USER_NOT_FOUND",
					"message": "User profile does not exist",
				},
			})
			return
		}
		h.logger.WithError(err).WithFields(logrus.Fields{
			"user_id":    userID,
			"creator_id": creatorID,
		}).Error("Failed to toggle follow")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "FOLLOW_FAILED",
				"message": "Failed to toggle follow",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"following": following,
	})
}
