package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func errorCode(t *testing.T, body *httptest.ResponseRecorder) string {
	t.Helper()

	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body.Body.Bytes(), &payload))
	return payload.Error.Code
}

func performJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestEngagementHandler_BadRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := NewEngagementHandler(testLogger(), nil)
	router := gin.New()
	router.POST("/engagement/positive", h.Positive)
	router.POST("/engagement/negative", h.Negative)

	t.Run("malformed json", func(t *testing.T) {
		w := performJSON(router, http.MethodPost, "/engagement/positive", "{broken")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_REQUEST", errorCode(t, w))
	})

	t.Run("missing post id", func(t *testing.T) {
		w := performJSON(router, http.MethodPost, "/engagement/positive", `{"engagement":{"viewed":1}}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "VALIDATION_FAILED", errorCode(t, w))
	})

	t.Run("flag outside 0..1", func(t *testing.T) {
		body := `{"engagement":{"postId":"` + uuid.NewString() + `","liked":2}}`
		w := performJSON(router, http.MethodPost, "/engagement/positive", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "VALIDATION_FAILED", errorCode(t, w))
	})

	t.Run("skip without post id", func(t *testing.T) {
		w := performJSON(router, http.MethodPost, "/engagement/negative", `{"skip":{}}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "VALIDATION_FAILED", errorCode(t, w))
	})
}

func TestUserHandler_ToggleFollowValidation(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := NewUserHandler(testLogger(), nil)
	actorID := uuid.New()

	router := gin.New()
	router.POST("/user/:userId/follow", func(c *gin.Context) {
		c.Set("user_id", actorID)
		c.Set("user_name", "tester")
		h.ToggleFollow(c)
	})

	t.Run("malformed creator id", func(t *testing.T) {
		w := performJSON(router, http.MethodPost, "/user/not-a-uuid/follow", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_USER_ID", errorCode(t, w))
	})

	t.Run("self follow", func(t *testing.T) {
		w := performJSON(router, http.MethodPost, "/user/"+actorID.String()+"/follow", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "SELF_FOLLOW", errorCode(t, w))
	})
}

func TestAdminHandler_ResetUserValidation(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := NewAdminHandler(testLogger(), nil)
	router := gin.New()
	router.POST("/admin/users/:userId/reset", h.ResetUser)

	w := performJSON(router, http.MethodPost, "/admin/users/42/reset", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_USER_ID", errorCode(t, w))
}
