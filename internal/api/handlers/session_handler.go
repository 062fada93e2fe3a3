package handlers

import (
	"net/http"

	"github.com/carma-ai/carma/internal/services"
	"github.com/carma-ai/carma/internal/utils"
	"github.com/gin-gonic/gin"
)

type SessionHandler struct {
	svc services.SessionService
}

func NewSessionHandler(svc services.SessionService) *SessionHandler {
	return &SessionHandler{svc: svc}
}

func (h *SessionHandler) List(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	page := queryInt(c, "page", 1, 1_000_000)
	perPage := queryInt(c, "per_page", 20, 100)
	activeOnly := c.Query("active_only") != "false"

	rows, info, err := h.svc.List(c.Request.Context(), userID, activeOnly, page, perPage)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions":   rows,
		"pagination": info,
	})
}

func (h *SessionHandler) Stats(c *gin.Context) {
	if _, ok := requireUserID(c); !ok {
		return
	}

	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// History returns a session with a chronological page of its messages.
func (h *SessionHandler) History(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	sessionID := c.Param("session_id")
	sess, err := h.svc.GetOwned(c.Request.Context(), sessionID, userID, true)
	if err != nil {
		writeError(c, err)
		return
	}

	page := queryInt(c, "page", 1, 1_000_000)
	perPage := queryInt(c, "per_page", 50, 200)

	msgs, info, err := h.svc.Messages(c.Request.Context(), sessionID, page, perPage, true)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session":    sess,
		"messages":   msgs,
		"pagination": info,
	})
}

// Delete deactivates a session, or removes it and its messages outright when
// ?permanent=true.
func (h *SessionHandler) Delete(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	sessionID := c.Param("session_id")
	if _, err := h.svc.GetOwned(c.Request.Context(), sessionID, userID, false); err != nil {
		writeError(c, err)
		return
	}

	permanent := c.Query("permanent") == "true"

	var (
		done bool
		err  error
	)
	if permanent {
		done, err = h.svc.DeletePermanently(c.Request.Context(), sessionID)
	} else {
		done, err = h.svc.Deactivate(c.Request.Context(), sessionID)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	if !done {
		writeError(c, utils.E(utils.CodeNotFound, "SessionHandler.Delete", "session not found", nil))
		return
	}

	status := "deactivated"
	if permanent {
		status = "deleted"
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"status":     status,
	})
}

type ReactionRequest struct {
	Reaction string `json:"reaction" binding:"required"`
}

func (h *SessionHandler) React(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	sessionID := c.Param("session_id")
	messageID := c.Param("message_id")

	if _, err := h.svc.GetOwned(c.Request.Context(), sessionID, userID, true); err != nil {
		writeError(c, err)
		return
	}

	var req ReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "SessionHandler.React", "invalid request body", err))
		return
	}

	msg, err := h.svc.SetReaction(c.Request.Context(), messageID, sessionID, req.Reaction)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}
