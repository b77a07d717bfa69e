package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/riptidehq/riptide/internal/middleware"
	"github.com/riptidehq/riptide/internal/services"
	"github.com/riptidehq/riptide/pkg/models"
)

type EngagementHandler struct {
	logger        *logrus.Logger
	engagementSvc *services.EngagementService
	validator     *validator.Validate
}

func NewEngagementHandler(logger *logrus.Logger, engagementSvc *services.EngagementService) *EngagementHandler {
	return &EngagementHandler{
		logger:        logger,
		engagementSvc: engagementSvc,
		validator:     validator.New(),
	}
}

// Positive handles POST /engagement/positive.
func (h *EngagementHandler) Positive(c *gin.Context) {
	var req models.PositiveEngagementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "INVALID_REQUEST", "Invalid request format", err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		h.badRequest(c, "VALIDATION_FAILED", "Request validation failed", err)
		return
	}

	userID, _ := middleware.GetUserFromContext(c)
	sessionID := middleware.GetSessionFromContext(c)

	if err := h.engagementSvc.Positive(c.Request.Context(), userID, sessionID, req.Engagement); err != nil {
		if errors.Is(err, services.ErrPostNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": gin.H{
					"code":    "POST_NOT_FOUND",
					"message": "Post does not exist",
				},
			})
			return
		}
		h.logger.WithError(err).Error("Failed to process positive engagement")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "ENGAGEMENT_FAILED",
				"message": "Failed to process engagement",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Negative handles POST /engagement/negative.
func (h *EngagementHandler) Negative(c *gin.Context) {
	var req models.NegativeEngagementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "INVALID_REQUEST", "Invalid request format", err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		h.badRequest(c, "VALIDATION_FAILED", "Request validation failed", err)
		return
	}

	userID, _ := middleware.GetUserFromContext(c)
	sessionID := middleware.GetSessionFromContext(c)

	if err := h.engagementSvc.Negative(c.Request.Context(), userID, sessionID, req.Skip.PostID); err != nil {
		if errors.Is(err, services.ErrPostNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": gin.H{
					"code":    "POST_NOT_FOUND",
					"message": "Post does not exist",
				},
			})
			return
		}
		h.logger.WithError(err).Error("Failed to process skip")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "ENGAGEMENT_FAILED",
				"message": "Failed to process engagement",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *EngagementHandler) badRequest(c *gin.Context, code, message string, err error) {
	h.logger.WithError(err).Debug("Engagement request rejected")
	c.JSON(http.StatusBadRequest, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": err.Error(),
		},
	})
}
