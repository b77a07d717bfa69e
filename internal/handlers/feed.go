package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/riptidehq/riptide/internal/middleware"
	"github.com/riptidehq/riptide/internal/services"
	"github.com/riptidehq/riptide/pkg/models"
)

type FeedHandler struct {
	logger  *logrus.Logger
	feedSvc *services.FeedService
}

func NewFeedHandler(logger *logrus.Logger, feedSvc *services.FeedService) *FeedHandler {
	return &FeedHandler{
		logger:  logger,
		feedSvc: feedSvc,
	}
}

// Get handles GET /feed.
func (h *FeedHandler) Get(c *gin.Context) {
	userID, _ := middleware.GetUserFromContext(c)
	sessionID := middleware.GetSessionFromContext(c)

	data, err := h.feedSvc.Assemble(c.Request.Context(), userID, sessionID)
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
		h.logger.WithError(err).WithField("user_id", userID).Error("Failed to assemble feed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "FEED_FAILED",
				"message": "Failed to assemble feed",
			},
		})
		return
	}

	c.JSON(http.StatusOK, models.FeedResponse{Status: "ok", Data: *data})
}
