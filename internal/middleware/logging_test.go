package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_LevelsByStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger, hook := logrustest.NewNullLogger()

	router := gin.New()
	router.Use(Logger(logger))
	router.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	router.GET("/bad", func(c *gin.Context) { c.String(http.StatusBadRequest, "no") })
	router.GET("/boom", func(c *gin.Context) { c.String(http.StatusInternalServerError, "boom") })

	cases := []struct {
		path  string
		msg   string
		level logrus.Level
	}{
		{"/ok", "Request served", logrus.InfoLevel},
		{"/bad", "Request rejected", logrus.WarnLevel},
		{"/boom", "Request failed", logrus.ErrorLevel},
	}

	for _, tc := range cases {
		hook.Reset()

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))

		entry := hook.LastEntry()
		require.NotNil(t, entry, "request to %s must be logged", tc.path)
		assert.Equal(t, tc.level, entry.Level)
		assert.Equal(t, tc.msg, entry.Message)
		assert.Equal(t, tc.path, entry.Data["path"])
		assert.Equal(t, w.Code, entry.Data["status"])
	}
}

func TestRecovery_EnvelopesPanic(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger, hook := logrustest.NewNullLogger()

	router := gin.New()
	router.Use(Recovery(logger))
	router.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_SERVER_ERROR")

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "Recovered from handler panic", entry.Message)
}
