package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pipeline/internal/database"
	"pipeline/internal/notify"
)

type NotificationHandler struct {
	inbox *notify.Inbox
}

func NewNotificationHandler(inbox *notify.Inbox) *NotificationHandler {
	return &NotificationHandler{inbox: inbox}
}

type notificationView struct {
	database.Notification
	Message string `json:"message"`
}

func viewOf(n database.Notification) notificationView {
	return notificationView{Notification: n, Message: notify.Summarize(n)}
}

// List GET /api/notifications?unread=true&limit=&before=
func (h *NotificationHandler) List(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	opts := notify.ListOptions{
		UnreadOnly: c.Query("unread") == "true",
		Limit:      queryInt(c, "limit", 0),
	}
	if raw := c.Query("before"); raw != "" {
		before, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			BadRequest(c, "before must be an RFC3339 timestamp")
			return
		}
		before = before.UTC()
		opts.Before = &before
	}

	rows, err := h.inbox.List(c.Request.Context(), userID, opts)
	if err != nil {
		respondError(c, err)
		return
	}
	items := make([]notificationView, 0, len(rows))
	for _, row := range rows {
		items = append(items, viewOf(row))
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items})
}

// UnreadCount GET /api/notifications/unread-count
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	n, err := h.inbox.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

// MarkRead PATCH /api/notifications/:id/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	row, err := h.inbox.MarkRead(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(*row))
}

// MarkAllRead PATCH /api/notifications/read-all
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	n, err := h.inbox.MarkAllRead(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// Delete DELETE /api/notifications/:id
func (h *NotificationHandler) Delete(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	if err := h.inbox.Delete(c.Request.Context(), userID, id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
