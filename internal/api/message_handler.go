package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"pipeline/internal/messages"
)

// MessageHandler serves the per-application message thread.
type MessageHandler struct {
	db       *gorm.DB
	messages *messages.Service
}

func NewMessageHandler(db *gorm.DB, svc *messages.Service) *MessageHandler {
	return &MessageHandler{db: db, messages: svc}
}

// List GET /api/applications/:id/messages
func (h *MessageHandler) List(c *gin.Context) {
	appID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	actor, ok := loadActor(c, h.db)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	msgs, err := h.messages.List(ctx, actor, appID)
	if err != nil {
		respondError(c, err)
		return
	}
	unread, err := h.messages.UnreadCount(ctx, actor, appID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "unread": unread})
}

type sendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// Send POST /api/applications/:id/messages
func (h *MessageHandler) Send(c *gin.Context) {
	appID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	actor, ok := loadActor(c, h.db)
	if !ok {
		return
	}
	msg, err := h.messages.Send(c.Request.Context(), actor, appID, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// MarkRead PATCH /api/applications/:id/messages/:messageId/read
func (h *MessageHandler) MarkRead(c *gin.Context) {
	appID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	msgID, ok := parseIDParam(c, "messageId")
	if !ok {
		return
	}
	actor, ok := loadActor(c, h.db)
	if !ok {
		return
	}
	msg, err := h.messages.MarkRead(c.Request.Context(), actor, appID, msgID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}
