package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"pipeline/internal/errcode"
	"pipeline/internal/notify"
	"pipeline/internal/tasks"
)

// 统一的 WebSocket 消息协议（通过 Redis Pub/Sub 转发给前端）。
// 注意：这里的字段名与前端解析保持一致。
type NotificationPushMessage struct {
	Type          string          `json:"type"`
	Notification  json.RawMessage `json:"notification"`
	Message       string          `json:"message"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// Publisher is the slice of the redis client the push handler needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// NotificationPushHandler 消费通知推送任务，把已落库的通知发布到用户的频道。
type NotificationPushHandler struct {
	inbox     *notify.Inbox
	publisher Publisher
	logger    *slog.Logger
}

func NewNotificationPushHandler(inbox *notify.Inbox, publisher Publisher, logger *slog.Logger) *NotificationPushHandler {
	return &NotificationPushHandler{inbox: inbox, publisher: publisher, logger: logger}
}

// ProcessTask 实现 asynq.Handler。通知已被删除时丢弃任务，不再重试。
func (h *NotificationPushHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload tasks.NotificationPushPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal notification push payload failed", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("notification_id", uint64(payload.NotificationID)),
		slog.Uint64("user_id", uint64(payload.UserID)),
	)

	row, err := h.inbox.Get(ctx, payload.NotificationID)
	if err != nil {
		if errors.Is(err, errcode.ErrNotFound) {
			log.Warn("notification not found, skipping push")
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		log.Error("load notification failed", slog.Any("error", err))
		return err
	}

	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	data, err := json.Marshal(NotificationPushMessage{
		Type:          "notification",
		Notification:  body,
		Message:       notify.Summarize(*row),
		CorrelationID: payload.CorrelationID,
	})
	if err != nil {
		return fmt.Errorf("marshal notification push message: %w", err)
	}

	channel := tasks.NotifyChannel(row.UserID)
	if err := h.publisher.Publish(ctx, channel, data).Err(); err != nil {
		log.Error("publish notification failed", slog.String("channel", channel), slog.Any("error", err))
		return fmt.Errorf("publish notification to %q: %w", channel, err)
	}
	log.Debug("notification published", slog.String("channel", channel))
	return nil
}
