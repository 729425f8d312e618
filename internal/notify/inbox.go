package notify

import (
	"context"
	"time"

	"gorm.io/gorm"

	"pipeline/internal/database"
	"pipeline/internal/errcode"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Inbox is the owner's view of their notifications.
type Inbox struct {
	db *gorm.DB
}

func NewInbox(db *gorm.DB) *Inbox {
	return &Inbox{db: db}
}

// ListOptions filters List.
type ListOptions struct {
	UnreadOnly bool
	Limit      int
	Before     *time.Time
}

// List returns the user's notifications, newest first.
func (i *Inbox) List(ctx context.Context, userID uint, opts ListOptions) ([]database.Notification, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	q := i.db.WithContext(ctx).Where("user_id = ?", userID)
	if opts.UnreadOnly {
		q = q.Where("is_read = ?", false)
	}
	if opts.Before != nil {
		q = q.Where("created_at < ?", *opts.Before)
	}

	var rows []database.Notification
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, errcode.Internal("notify.List", err)
	}
	return rows, nil
}

func (i *Inbox) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	var n int64
	err := i.db.WithContext(ctx).
		Model(&database.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&n).Error
	if err != nil {
		return 0, errcode.Internal("notify.UnreadCount", err)
	}
	return n, nil
}

// MarkRead marks one of the user's notifications read. Idempotent.
func (i *Inbox) MarkRead(ctx context.Context, userID, id uint) (*database.Notification, error) {
	var row database.Notification
	if err := i.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&row).Error; err != nil {
		return nil, errcode.FromDB("notify.MarkRead", "notification", err)
	}
	if row.IsRead {
		return &row, nil
	}
	if err := i.db.WithContext(ctx).Model(&row).Update("is_read", true).Error; err != nil {
		return nil, errcode.Internal("notify.MarkRead", err)
	}
	row.IsRead = true
	return &row, nil
}

// MarkAllRead returns how many rows flipped.
func (i *Inbox) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	res := i.db.WithContext(ctx).
		Model(&database.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, errcode.Internal("notify.MarkAllRead", res.Error)
	}
	return res.RowsAffected, nil
}

// Delete removes one of the user's notifications; other users' rows are NotFound.
func (i *Inbox) Delete(ctx context.Context, userID, id uint) error {
	res := i.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&database.Notification{})
	if res.Error != nil {
		return errcode.Internal("notify.Delete", res.Error)
	}
	if res.RowsAffected == 0 {
		return errcode.NotFound("notify.Delete", "notification not found")
	}
	return nil
}

// Get loads a notification by id regardless of owner; used by the push worker.
func (i *Inbox) Get(ctx context.Context, id uint) (*database.Notification, error) {
	var row database.Notification
	if err := i.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, errcode.FromDB("notify.Get", "notification", err)
	}
	return &row, nil
}
