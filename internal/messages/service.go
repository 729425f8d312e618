// Package messages is the per-application conversation between an applicant and admins.
package messages

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"pipeline/internal/applications"
	"pipeline/internal/database"
	"pipeline/internal/errcode"
	"pipeline/internal/notify"
)

const (
	MaxContentLength = 5000
	previewLength    = 120
)

type Service struct {
	db       *gorm.DB
	notifier *notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(db *gorm.DB, notifier *notify.Notifier, logger *slog.Logger, now func() time.Time) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Service{db: db, notifier: notifier, logger: logger, now: now}
}

// loadThread fetches the application with its job and checks the actor may take part.
func (s *Service) loadThread(ctx context.Context, op string, actor applications.Actor, appID uint) (*database.Application, error) {
	var app database.Application
	if err := s.db.WithContext(ctx).Preload("Job").First(&app, appID).Error; err != nil {
		return nil, errcode.FromDB(op, "application", err)
	}
	if !actor.CanSee(app.UserID) {
		return nil, errcode.Forbidden(op, "not your application")
	}
	return &app, nil
}

// Send stores a message and notifies the other party: an admin author
// notifies the applicant, an applicant author notifies every admin.
func (s *Service) Send(ctx context.Context, sender applications.Actor, appID uint, content string) (*database.Message, error) {
	const op = "messages.Send"

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errcode.Validation(op, "content is required")
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return nil, errcode.Validation(op, "content is too long")
	}

	app, err := s.loadThread(ctx, op, sender, appID)
	if err != nil {
		return nil, err
	}

	msg := database.Message{
		ApplicationID:  app.ID,
		SenderID:       sender.ID,
		SenderUsername: sender.Username,
		Content:        content,
		IsFromAdmin:    sender.IsAdmin,
		IsRead:         false,
	}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, errcode.Internal(op, err)
	}

	ev := notify.MessageReceived{
		ApplicationRef: notify.ApplicationRef{ApplicationID: app.ID, JobID: app.JobID},
		MessageID:      msg.ID,
		SenderUsername: sender.Username,
		Preview:        preview(content),
	}
	if app.Job != nil {
		ev.JobTitle = app.Job.Title
		ev.Company = app.Job.Company
	}

	if adminSide(sender.IsAdmin, sender.ID, app.UserID) {
		s.notifier.Deliver(ctx, app.UserID, ev)
	} else {
		s.notifier.DeliverAdmins(ctx, ev, sender.ID)
	}
	return &msg, nil
}

// List returns the thread oldest first.
func (s *Service) List(ctx context.Context, actor applications.Actor, appID uint) ([]database.Message, error) {
	const op = "messages.List"
	if _, err := s.loadThread(ctx, op, actor, appID); err != nil {
		return nil, err
	}
	var msgs []database.Message
	err := s.db.WithContext(ctx).
		Where("application_id = ?", appID).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, errcode.Internal(op, err)
	}
	return msgs, nil
}

// MarkRead flips isRead for the recipient. The author cannot mark their own message.
func (s *Service) MarkRead(ctx context.Context, reader applications.Actor, appID, msgID uint) (*database.Message, error) {
	const op = "messages.MarkRead"
	app, err := s.loadThread(ctx, op, reader, appID)
	if err != nil {
		return nil, err
	}

	var msg database.Message
	if err := s.db.WithContext(ctx).Where("id = ? AND application_id = ?", msgID, appID).First(&msg).Error; err != nil {
		return nil, errcode.FromDB(op, "message", err)
	}
	if msg.SenderID == reader.ID || adminSide(reader.IsAdmin, reader.ID, app.UserID) == adminSide(msg.IsFromAdmin, msg.SenderID, app.UserID) {
		return nil, errcode.Forbidden(op, "only the recipient can mark a message as read")
	}
	if msg.IsRead {
		return &msg, nil
	}

	readAt := s.now().UTC()
	err = s.db.WithContext(ctx).Model(&msg).Updates(map[string]any{"is_read": true, "read_at": readAt}).Error
	if err != nil {
		return nil, errcode.Internal(op, err)
	}
	msg.IsRead = true
	msg.ReadAt = &readAt
	return &msg, nil
}

// UnreadCount counts messages in the thread addressed to actor that are still unread.
func (s *Service) UnreadCount(ctx context.Context, actor applications.Actor, appID uint) (int64, error) {
	const op = "messages.UnreadCount"
	app, err := s.loadThread(ctx, op, actor, appID)
	if err != nil {
		return 0, err
	}
	q := s.db.WithContext(ctx).
		Model(&database.Message{}).
		Where("application_id = ? AND is_read = ?", appID, false)
	if adminSide(actor.IsAdmin, actor.ID, app.UserID) {
		q = q.Where("(is_from_admin = ? OR sender_id = ?)", false, app.UserID)
	} else {
		q = q.Where("is_from_admin = ? AND sender_id <> ?", true, app.UserID)
	}
	var n int64
	err = q.Count(&n).Error
	if err != nil {
		return 0, errcode.Internal(op, err)
	}
	return n, nil
}

// adminSide reports whether a participant speaks for the admins in a thread.
// An admin writing on their own application is on the applicant's side.
func adminSide(isAdmin bool, userID, ownerID uint) bool {
	return isAdmin && userID != ownerID
}

func preview(content string) string {
	if utf8.RuneCountInString(content) <= previewLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewLength]) + "…"
}
