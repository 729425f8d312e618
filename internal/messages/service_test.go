package messages

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"pipeline/internal/applications"
	"pipeline/internal/database"
	"pipeline/internal/database/dbtest"
	"pipeline/internal/errcode"
	"pipeline/internal/notify"
)

type thread struct {
	db     *gorm.DB
	svc    *Service
	app    database.Application
	owner  applications.Actor
	admin  applications.Actor
	admin2 applications.Actor
}

func newThread(t *testing.T) *thread {
	t.Helper()
	db := dbtest.Open(t)
	now := time.Date(2025, 4, 15, 10, 0, 0, 0, time.UTC)
	th := &thread{db: db, svc: NewService(db, notify.NewNotifier(db, nil, nil), nil, func() time.Time { return now })}

	mk := func(name string, admin bool) applications.Actor {
		u := database.User{Username: name, Email: name + "@example.com", PasswordHash: "x", ReferralCode: "R" + name, IsAdmin: admin}
		if err := db.Create(&u).Error; err != nil {
			t.Fatalf("create user: %v", err)
		}
		return applications.Actor{ID: u.ID, Username: name, IsAdmin: admin}
	}
	th.owner = mk("seeker", false)
	th.admin = mk("admin", true)
	th.admin2 = mk("admin2", true)

	job := database.Job{JobIdentifier: "job_1", Title: "Engineer", Company: "Acme", IsActive: true}
	if err := db.Create(&job).Error; err != nil {
		t.Fatalf("create job: %v", err)
	}
	th.app = database.Application{JobID: job.ID, UserID: th.owner.ID, Status: database.StatusApplied, AppliedAt: now, CreditSource: "daily"}
	if err := db.Create(&th.app).Error; err != nil {
		t.Fatalf("create application: %v", err)
	}
	return th
}

func (th *thread) notificationsFor(t *testing.T, userID uint) []database.Notification {
	t.Helper()
	var rows []database.Notification
	th.db.Where("user_id = ?", userID).Find(&rows)
	return rows
}

func TestAdminMessageNotifiesOwner(t *testing.T) {
	th := newThread(t)
	msg, err := th.svc.Send(context.Background(), th.admin, th.app.ID, "Please send references")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !msg.IsFromAdmin || msg.IsRead || msg.SenderUsername != "admin" {
		t.Fatalf("unexpected message %+v", msg)
	}

	rows := th.notificationsFor(t, th.owner.ID)
	if len(rows) != 1 || rows[0].Type != string(notify.TypeMessageReceived) {
		t.Fatalf("owner notifications = %+v", rows)
	}
	if n := len(th.notificationsFor(t, th.admin2.ID)); n != 0 {
		t.Fatalf("other admins should not be notified, got %d", n)
	}
}

func TestOwnerMessageNotifiesAllAdmins(t *testing.T) {
	th := newThread(t)
	if _, err := th.svc.Send(context.Background(), th.owner, th.app.ID, "Any update?"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if n := len(th.notificationsFor(t, th.admin.ID)); n != 1 {
		t.Fatalf("admin notifications = %d", n)
	}
	if n := len(th.notificationsFor(t, th.admin2.ID)); n != 1 {
		t.Fatalf("admin2 notifications = %d", n)
	}
	if n := len(th.notificationsFor(t, th.owner.ID)); n != 0 {
		t.Fatalf("author should not be notified, got %d", n)
	}
}

func TestSendValidation(t *testing.T) {
	th := newThread(t)
	ctx := context.Background()

	if _, err := th.svc.Send(ctx, th.owner, th.app.ID, "   "); !errors.Is(err, errcode.ErrValidation) {
		t.Fatalf("empty content: expected validation, got %v", err)
	}
	if _, err := th.svc.Send(ctx, th.owner, th.app.ID, strings.Repeat("x", MaxContentLength+1)); !errors.Is(err, errcode.ErrValidation) {
		t.Fatalf("long content: expected validation, got %v", err)
	}
	stranger := applications.Actor{ID: 999, Username: "stranger"}
	if _, err := th.svc.Send(ctx, stranger, th.app.ID, "hi"); !errors.Is(err, errcode.ErrForbidden) {
		t.Fatalf("stranger: expected forbidden, got %v", err)
	}
	if _, err := th.svc.Send(ctx, th.owner, 4242, "hi"); !errors.Is(err, errcode.ErrNotFound) {
		t.Fatalf("missing application: expected not found, got %v", err)
	}
}

func TestOnlyRecipientMarksRead(t *testing.T) {
	th := newThread(t)
	ctx := context.Background()
	msg, err := th.svc.Send(ctx, th.admin, th.app.ID, "Interview on Monday")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if _, err := th.svc.MarkRead(ctx, th.admin, th.app.ID, msg.ID); !errors.Is(err, errcode.ErrForbidden) {
		t.Fatalf("author marking read: expected forbidden, got %v", err)
	}
	if _, err := th.svc.MarkRead(ctx, th.admin2, th.app.ID, msg.ID); !errors.Is(err, errcode.ErrForbidden) {
		t.Fatalf("other admin marking read: expected forbidden, got %v", err)
	}

	unread, err := th.svc.UnreadCount(ctx, th.owner, th.app.ID)
	if err != nil || unread != 1 {
		t.Fatalf("owner unread = %d, %v", unread, err)
	}

	read, err := th.svc.MarkRead(ctx, th.owner, th.app.ID, msg.ID)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if !read.IsRead || read.ReadAt == nil {
		t.Fatalf("message not marked read: %+v", read)
	}
	if _, err := th.svc.MarkRead(ctx, th.owner, th.app.ID, msg.ID); err != nil {
		t.Fatalf("second mark read should be a no-op: %v", err)
	}

	unread, _ = th.svc.UnreadCount(ctx, th.owner, th.app.ID)
	if unread != 0 {
		t.Fatalf("owner unread after read = %d", unread)
	}
}

func TestListThread(t *testing.T) {
	th := newThread(t)
	ctx := context.Background()
	th.svc.Send(ctx, th.owner, th.app.ID, "first")
	th.svc.Send(ctx, th.admin, th.app.ID, "second")

	msgs, err := th.svc.List(ctx, th.owner, th.app.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "first" || msgs[1].Content != "second" {
		t.Fatalf("thread = %+v", msgs)
	}
	if _, err := th.svc.List(ctx, applications.Actor{ID: 999}, th.app.ID); !errors.Is(err, errcode.ErrForbidden) {
		t.Fatalf("stranger list: expected forbidden, got %v", err)
	}
}
