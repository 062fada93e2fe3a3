package routes

import (
	"github.com/carma-ai/carma/internal/api/handlers"
	"github.com/carma-ai/carma/internal/api/middleware"
	"github.com/gin-gonic/gin"
)

type Deps struct {
	Chat    *handlers.ChatHandler
	Session *handlers.SessionHandler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Protected routes (Ai-Token)
	auth := r.Group("/chatbot")
	auth.Use(middleware.AiTokenAuth())

	auth.POST("/stream", d.Chat.Stream)
	auth.GET("/ws", d.Chat.WS)

	auth.GET("/sessions", d.Session.List)
	auth.GET("/sessions/stats", d.Session.Stats)
	auth.GET("/sessions/:session_id", d.Session.History)
	auth.DELETE("/sessions/:session_id", d.Session.Delete)
	auth.PUT("/sessions/:session_id/messages/:message_id/react", d.Session.React)
}
