package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/carma-ai/carma/internal/events"
	"github.com/carma-ai/carma/internal/services"
	"github.com/carma-ai/carma/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type ChatHandler struct {
	chat     *services.ChatService
	log      *logrus.Logger
	upgrader websocket.Upgrader
}

func NewChatHandler(chat *services.ChatService, log *logrus.Logger) *ChatHandler {
	return &ChatHandler{
		chat: chat,
		log:  log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // TODO: restrict origin in prod
		},
	}
}

type ChatStreamRequest struct {
	Message      string         `json:"message" binding:"required"`
	SessionID    string         `json:"session_id"`
	Metadata     map[string]any `json:"metadata"`
	UseGrounding *bool          `json:"use_rag"`
	KnowledgeID  string         `json:"knowledge_id"`
}

func (r ChatStreamRequest) toService(userID string) services.ChatRequest {
	useGrounding := true
	if r.UseGrounding != nil {
		useGrounding = *r.UseGrounding
	}
	return services.ChatRequest{
		Message:      r.Message,
		SessionID:    r.SessionID,
		UserID:       userID,
		Metadata:     r.Metadata,
		UseGrounding: useGrounding,
		KnowledgeID:  r.KnowledgeID,
	}
}

// Stream answers one turn over Server-Sent Events. Errors before the first
// event are plain JSON; everything after arrives as an error event on the
// stream itself.
func (h *ChatHandler) Stream(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req ChatStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "ChatHandler.Stream", "invalid request body", err))
		return
	}

	ch, err := h.chat.StreamChat(c.Request.Context(), req.toService(userID))
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, canFlush := c.Writer.(http.Flusher)
	for ev := range ch {
		frame, err := ev.SSE()
		if err != nil {
			h.log.WithError(err).Error("failed to encode stream event")
			continue
		}
		if _, err := c.Writer.WriteString(frame); err != nil {
			// Client disconnected; the orchestrator sees the request
			// context cancel and winds down on its own.
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeJSON(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.c.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

// WS answers turns over a WebSocket: each inbound JSON message is one
// ChatStreamRequest, each outbound frame one event. Multiple turns can run
// over the life of the socket, one at a time.
func (h *ChatHandler) WS(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		return
	}
	defer conn.Close()

	wc := &wsConn{c: conn}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	for {
		_, data, rerr := conn.ReadMessage()
		if rerr != nil {
			return
		}

		var req ChatStreamRequest
		if err := json.Unmarshal(data, &req); err != nil {
			_ = wc.writeJSON([]byte(`{"type":"error","data":{"error":"invalid json","message":"Invalid request"}}`))
			continue
		}
		if req.Message == "" {
			_ = wc.writeJSON([]byte(`{"type":"error","data":{"error":"message is required","message":"Invalid request"}}`))
			continue
		}

		ch, err := h.chat.StreamChat(ctx, req.toService(userID))
		if err != nil {
			b, merr := events.Error(err, "Failed to start chat").JSON()
			if merr != nil {
				return
			}
			_ = wc.writeJSON(b)
			continue
		}

		for ev := range ch {
			b, merr := ev.JSON()
			if merr != nil {
				h.log.WithError(merr).Error("failed to encode stream event")
				continue
			}
			if werr := wc.writeJSON(b); werr != nil {
				cancel()
				// drain so the orchestrator goroutine can finish
				for range ch {
				}
				return
			}
		}
	}
}
