package middleware

import (
	"crypto/subtle"
	"net/http"
	"os"

	"github.com/carma-ai/carma/internal/utils"
	"github.com/gin-gonic/gin"
)

type apiError struct {
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
}

// AiTokenAuth guards the API with the shared Ai-Token header plus a caller
// identity in User-Id. The token comparison is constant time.
func AiTokenAuth() gin.HandlerFunc {
	secret := os.Getenv("AI_TOKEN")

	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusInternalServerError, apiError{
				Code:    utils.CodeInternal,
				Message: "AI_TOKEN is not set",
			})
			return
		}

		token := c.GetHeader("Ai-Token")
		if token == "" {
			token = c.Query("ai_token") // websocket clients cannot set headers
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apiError{
				Code:    utils.CodeUnauthorized,
				Message: "invalid or missing Ai-Token",
			})
			return
		}

		userID := c.GetHeader("User-Id")
		if userID == "" {
			userID = c.Query("user_id")
		}
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apiError{
				Code:    utils.CodeUnauthorized,
				Message: "missing User-Id",
			})
			return
		}

		c.Set("user_id", userID)
		c.Next()
	}
}
