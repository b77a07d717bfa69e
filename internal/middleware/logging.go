package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Logger emits one structured line per request, levelled by outcome.
// Latency is reported in milliseconds so the field stays sortable in log
// queries.
func Logger(logger *logrus.Logger) gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		fields := logrus.Fields{
			"status":     param.StatusCode,
			"method":     param.Method,
			"path":       param.Path,
			"latency_ms": param.Latency.Milliseconds(),
			"client_ip":  param.ClientIP,
		}
		if param.ErrorMessage != "" {
			fields["error"] = param.ErrorMessage
		}

		entry := logger.WithFields(fields)
		switch {
		case param.StatusCode >= http.StatusInternalServerError:
			entry.Error("Request failed")
		case param.StatusCode >= http.StatusBadRequest:
			entry.Warn("Request rejected")
		default:
			entry.Info("Request served")
		}
		return ""
	})
}

// Recovery converts handler panics into the standard error envelope.
func Recovery(logger *logrus.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.WithFields(logrus.Fields{
			"panic":  recovered,
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		}).Error("Recovered from handler panic")

		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "INTERNAL_SERVER_ERROR",
				"message": "Internal server error",
			},
		})
	})
}
