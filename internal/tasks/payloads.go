package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"pipeline/internal/ingest"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeNotificationPush = "notification:push"
	TypeJobIngest        = "job:ingest"
)

// MaxRetry bounds retries for every background task.
const MaxRetry = 5

// NotifyChannel is the redis pub/sub channel the worker publishes a user's
// notifications to and the websocket handler subscribes to.
func NotifyChannel(userID uint) string {
	return fmt.Sprintf("user_notify:%d", userID)
}

// NotificationPushPayload points at a persisted notification row.
type NotificationPushPayload struct {
	NotificationID uint   `json:"notification_id"`
	UserID         uint   `json:"user_id"`
	CorrelationID  string `json:"correlation_id,omitempty"`
}

// JobIngestPayload carries normalized records from the external scraper.
type JobIngestPayload struct {
	Records       []ingest.Record `json:"records"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// NewNotificationPushTask 构造通知推送任务。
func NewNotificationPushTask(notificationID, userID uint, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(NotificationPushPayload{
		NotificationID: notificationID,
		UserID:         userID,
		CorrelationID:  correlationID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal notification push payload: %w", err)
	}
	return asynq.NewTask(TypeNotificationPush, payload, asynq.MaxRetry(MaxRetry), asynq.Timeout(30*time.Second)), nil
}

// NewJobIngestTask 构造职位导入任务。
func NewJobIngestTask(records []ingest.Record, correlationID string) (*asynq.Task, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("job ingest task needs at least one record")
	}
	payload, err := json.Marshal(JobIngestPayload{
		Records:       records,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal job ingest payload: %w", err)
	}
	return asynq.NewTask(TypeJobIngest, payload, asynq.MaxRetry(MaxRetry), asynq.Timeout(2*time.Minute)), nil
}
