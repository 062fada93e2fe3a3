package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func setupAuthRouter(t *testing.T, token string) *gin.Engine {
	t.Helper()
	t.Setenv("AI_TOKEN", token)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AiTokenAuth())
	r.GET("/protected", func(c *gin.Context) {
		uid, _ := c.Get("user_id")
		c.JSON(http.StatusOK, gin.H{"user_id": uid})
	})
	return r
}

func do(r *gin.Engine, headers map[string]string, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAiTokenAuth_ValidToken(t *testing.T) {
	r := setupAuthRouter(t, "secret-token")

	w := do(r, map[string]string{"Ai-Token": "secret-token", "User-Id": "user-1"}, "/protected")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "user-1")
}

func TestAiTokenAuth_MissingToken(t *testing.T) {
	r := setupAuthRouter(t, "secret-token")

	w := do(r, map[string]string{"User-Id": "user-1"}, "/protected")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAiTokenAuth_WrongToken(t *testing.T) {
	r := setupAuthRouter(t, "secret-token")

	w := do(r, map[string]string{"Ai-Token": "nope", "User-Id": "user-1"}, "/protected")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAiTokenAuth_MissingUserID(t *testing.T) {
	r := setupAuthRouter(t, "secret-token")

	w := do(r, map[string]string{"Ai-Token": "secret-token"}, "/protected")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAiTokenAuth_QueryFallbackForWebsockets(t *testing.T) {
	r := setupAuthRouter(t, "secret-token")

	w := do(r, nil, "/protected?ai_token=secret-token&user_id=user-1")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAiTokenAuth_UnsetSecretIsServerError(t *testing.T) {
	r := setupAuthRouter(t, "")

	w := do(r, map[string]string{"Ai-Token": "", "User-Id": "user-1"}, "/protected")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
