package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"pipeline/internal/database"
	"pipeline/internal/errcode"
	"pipeline/internal/metrics"
	"pipeline/internal/tasks"
)

// Enqueuer is the subset of *asynq.Client used to schedule push delivery.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Notifier persists notifications and schedules their push.
// A nil queue only persists.
type Notifier struct {
	db     *gorm.DB
	queue  Enqueuer
	logger *slog.Logger
}

func NewNotifier(db *gorm.DB, queue Enqueuer, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{db: db, queue: queue, logger: logger}
}

// Notify stores one notification for userID and enqueues its push.
// An enqueue failure is logged only; the row is the source of truth.
func (n *Notifier) Notify(ctx context.Context, userID uint, ev Event) (*database.Notification, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		metrics.NotificationFailures.Inc()
		return nil, errcode.Internal("notify.Notify", err)
	}
	row := database.Notification{
		UserID:   userID,
		Type:     string(ev.Type()),
		Metadata: datatypes.JSON(raw),
	}
	if err := n.db.WithContext(ctx).Create(&row).Error; err != nil {
		metrics.NotificationFailures.Inc()
		return nil, errcode.Internal("notify.Notify", err)
	}
	metrics.Notifications.WithLabelValues(row.Type).Inc()

	n.enqueuePush(ctx, &row)
	return &row, nil
}

// NotifyAdmins sends ev to every admin except skipUserID.
// It keeps going after a failure and returns the joined errors.
func (n *Notifier) NotifyAdmins(ctx context.Context, ev Event, skipUserID uint) (int, error) {
	var adminIDs []uint
	err := n.db.WithContext(ctx).
		Model(&database.User{}).
		Where("is_admin = ? AND id <> ?", true, skipUserID).
		Order("id").
		Pluck("id", &adminIDs).Error
	if err != nil {
		return 0, errcode.Internal("notify.NotifyAdmins", err)
	}

	sent := 0
	var errs []error
	for _, id := range adminIDs {
		if _, err := n.Notify(ctx, id, ev); err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

// Deliver is the fire-and-forget form used after a primary commit.
func (n *Notifier) Deliver(ctx context.Context, userID uint, ev Event) {
	if _, err := n.Notify(ctx, userID, ev); err != nil {
		n.logger.Error("notification failed",
			slog.String("correlation_id", tasks.CorrelationID(ctx)),
			slog.Uint64("user_id", uint64(userID)),
			slog.String("type", string(ev.Type())),
			slog.Any("error", err),
		)
	}
}

// DeliverAdmins is Deliver for the admin fan-out.
func (n *Notifier) DeliverAdmins(ctx context.Context, ev Event, skipUserID uint) {
	if _, err := n.NotifyAdmins(ctx, ev, skipUserID); err != nil {
		n.logger.Error("admin notification failed",
			slog.String("correlation_id", tasks.CorrelationID(ctx)),
			slog.String("type", string(ev.Type())),
			slog.Any("error", err),
		)
	}
}

func (n *Notifier) enqueuePush(ctx context.Context, row *database.Notification) {
	if n.queue == nil {
		return
	}
	task, err := tasks.NewNotificationPushTask(row.ID, row.UserID, tasks.CorrelationID(ctx))
	if err == nil {
		_, err = n.queue.EnqueueContext(ctx, task)
	}
	if err != nil {
		metrics.NotificationFailures.Inc()
		n.logger.Warn("enqueue notification push failed",
			slog.Uint64("notification_id", uint64(row.ID)),
			slog.Any("error", err),
		)
	}
}
