package accounts

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"pipeline/internal/credits"
	"pipeline/internal/database"
	"pipeline/internal/database/dbtest"
	"pipeline/internal/errcode"
	"pipeline/internal/profile"
)

const password = "correct-horse-1"

func register(t *testing.T, svc *Service, name, code string) *database.User {
	t.Helper()
	u, err := svc.Register(context.Background(), RegisterInput{
		Username:     name,
		Email:        name + "@example.com",
		Password:     password,
		ReferralCode: code,
	})
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return u
}

func TestRegisterWithoutReferral(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewService(db, 5, nil)

	u := register(t, svc, "alice", "")
	if u.BankedCredits != 0 || u.ReferredBy != nil {
		t.Fatalf("unexpected bonus on plain registration: %+v", u)
	}
	if len(u.ReferralCode) != referralCodeLength {
		t.Fatalf("referral code %q", u.ReferralCode)
	}
	if u.PasswordHash == password {
		t.Fatalf("password stored in clear")
	}
}

func TestRegisterWithReferralCreditsBothSides(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewService(db, 5, nil)
	referrer := register(t, svc, "alice", "")

	referee := register(t, svc, "bob", referrer.ReferralCode)
	if referee.BankedCredits != 5 {
		t.Fatalf("referee banked = %d, want 5", referee.BankedCredits)
	}

	var reloaded database.User
	db.First(&reloaded, referrer.ID)
	if reloaded.BankedCredits != 5 {
		t.Fatalf("referrer banked = %d, want 5", reloaded.BankedCredits)
	}

	var audit database.Referral
	if err := db.Where("referee_id = ?", referee.ID).First(&audit).Error; err != nil {
		t.Fatalf("audit row: %v", err)
	}
	if audit.ReferrerID != referrer.ID || audit.Bonus != 5 {
		t.Fatalf("audit = %+v", audit)
	}

	summary, err := svc.Referrals(context.Background(), referrer.ID)
	if err != nil {
		t.Fatalf("referrals: %v", err)
	}
	if summary.ReferredCount != 1 || summary.BonusEarned != 5 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestRegisterInvalidReferralLeavesNoTrace(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewService(db, 5, nil)
	referrer := register(t, svc, "alice", "")

	_, err := svc.Register(context.Background(), RegisterInput{
		Username:     "bob",
		Email:        "bob@example.com",
		Password:     password,
		ReferralCode: "NOPE0000",
	})
	if !errors.Is(err, errcode.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	var count int64
	db.Model(&database.User{}).Where("username = ?", "bob").Count(&count)
	if count != 0 {
		t.Fatalf("user created despite invalid referral")
	}
	var reloaded database.User
	db.First(&reloaded, referrer.ID)
	if reloaded.BankedCredits != 0 {
		t.Fatalf("referrer credited for invalid code: %d", reloaded.BankedCredits)
	}
}

func TestRegisterRollsBackWhenAuditFails(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewService(db, 5, nil)
	referrer := register(t, svc, "alice", "")

	// 推荐人加额度之后写审计行失败，整个注册必须回滚。
	err := db.Callback().Create().Before("gorm:create").Register("test:fail_referral_audit", func(tx *gorm.DB) {
		if tx.Statement.Schema != nil && tx.Statement.Schema.Table == "referrals" {
			tx.AddError(errors.New("audit insert failed"))
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	_, err = svc.Register(context.Background(), RegisterInput{
		Username:     "bob",
		Email:        "bob@example.com",
		Password:     password,
		ReferralCode: referrer.ReferralCode,
	})
	if !errors.Is(err, errcode.ErrInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}

	var count int64
	db.Model(&database.User{}).Where("username = ?", "bob").Count(&count)
	if count != 0 {
		t.Fatalf("referee row survived a failed registration")
	}
	var reloaded database.User
	db.First(&reloaded, referrer.ID)
	if reloaded.BankedCredits != 0 {
		t.Fatalf("referrer banked = %d after rollback, want 0", reloaded.BankedCredits)
	}
	db.Model(&database.Referral{}).Count(&count)
	if count != 0 {
		t.Fatalf("referral rows = %d", count)
	}
}

func TestRegisterRejectsDuplicatesAndBadInput(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewService(db, 5, nil)
	ctx := context.Background()
	register(t, svc, "alice", "")

	_, err := svc.Register(ctx, RegisterInput{Username: "alice", Email: "other@example.com", Password: password})
	if !errors.Is(err, errcode.ErrConflict) {
		t.Fatalf("duplicate username: expected conflict, got %v", err)
	}
	_, err = svc.Register(ctx, RegisterInput{Username: "alice2", Email: "ALICE@example.com", Password: password})
	if !errors.Is(err, errcode.ErrConflict) {
		t.Fatalf("duplicate email: expected conflict, got %v", err)
	}
	_, err = svc.Register(ctx, RegisterInput{Username: "x", Email: "x@example.com", Password: password})
	if !errors.Is(err, errcode.ErrValidation) {
		t.Fatalf("short username: expected validation, got %v", err)
	}
	_, err = svc.Register(ctx, RegisterInput{Username: "carol", Email: "carol@example.com", Password: "short"})
	if !errors.Is(err, errcode.ErrValidation) {
		t.Fatalf("weak password: expected validation, got %v", err)
	}
	_, err = svc.Register(ctx, RegisterInput{Username: "dave", Email: "dave@example.com", Password: password, Timezone: "Mars/Olympus"})
	if !errors.Is(err, errcode.ErrValidation) {
		t.Fatalf("bad timezone: expected validation, got %v", err)
	}
}

func TestAuthenticateAndChangePassword(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewService(db, 5, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Username: "ops", Email: "ops@example.com", Password: password, IsAdmin: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created.MustChangePassword || !created.IsAdmin {
		t.Fatalf("admin-created account flags = %+v", created)
	}

	if _, err := svc.Authenticate(ctx, "ops", "wrong-pass-1"); !errors.Is(err, errcode.ErrUnauthorized) {
		t.Fatalf("wrong password: expected unauthorized, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "ghost", password); !errors.Is(err, errcode.ErrUnauthorized) {
		t.Fatalf("unknown user: expected unauthorized, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "ops", password); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	if _, err := svc.ChangePassword(ctx, created.ID, "wrong-pass-1", "brand-new-2"); !errors.Is(err, errcode.ErrUnauthorized) {
		t.Fatalf("wrong current password: expected unauthorized, got %v", err)
	}
	updated, err := svc.ChangePassword(ctx, created.ID, password, "brand-new-2")
	if err != nil {
		t.Fatalf("change password: %v", err)
	}
	if updated.MustChangePassword {
		t.Fatalf("must change password flag not cleared")
	}
	if _, err := svc.Authenticate(ctx, "ops", "brand-new-2"); err != nil {
		t.Fatalf("authenticate with new password: %v", err)
	}
}

func TestAdjustCredits(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewService(db, 5, nil)
	ctx := context.Background()
	u := register(t, svc, "alice", "")

	got, err := svc.AdjustCredits(ctx, u.ID, credits.OpAdd, 4)
	if err != nil || got.BankedCredits != 4 {
		t.Fatalf("add: %+v, %v", got, err)
	}
	if _, err := svc.AdjustCredits(ctx, u.ID, credits.OpSubtract, 5); !errors.Is(err, errcode.ErrValidation) {
		t.Fatalf("subtract below zero: expected validation, got %v", err)
	}
	got, err = svc.AdjustCredits(ctx, u.ID, credits.OpSet, 1)
	if err != nil || got.BankedCredits != 1 {
		t.Fatalf("set: %+v, %v", got, err)
	}

	var reloaded database.User
	db.First(&reloaded, u.ID)
	if reloaded.BankedCredits != 1 {
		t.Fatalf("stored banked = %d", reloaded.BankedCredits)
	}
	if _, err := svc.AdjustCredits(ctx, 999, credits.OpAdd, 1); !errors.Is(err, errcode.ErrNotFound) {
		t.Fatalf("missing user: expected not found, got %v", err)
	}
}

func TestUpdate(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewService(db, 5, nil)
	ctx := context.Background()
	alice := register(t, svc, "alice", "")
	register(t, svc, "bob", "")

	taken := "bob"
	if _, err := svc.Update(ctx, alice.ID, Patch{Username: &taken}); !errors.Is(err, errcode.ErrConflict) {
		t.Fatalf("taken username: expected conflict, got %v", err)
	}

	tz := "Europe/Paris"
	admin := true
	got, err := svc.Update(ctx, alice.ID, Patch{Timezone: &tz, IsAdmin: &admin})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Timezone != tz || !got.IsAdmin {
		t.Fatalf("updated = %+v", got)
	}
	if _, err := svc.Update(ctx, alice.ID, Patch{}); !errors.Is(err, errcode.ErrValidation) {
		t.Fatalf("empty patch: expected validation, got %v", err)
	}
}

func TestDeleteCascades(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewService(db, 5, nil)
	ctx := context.Background()
	alice := register(t, svc, "alice", "")
	bob := register(t, svc, "bob", alice.ReferralCode)

	job := database.Job{JobIdentifier: "job_1", Title: "Engineer", Company: "Acme", IsActive: true}
	db.Create(&job)
	app := database.Application{JobID: job.ID, UserID: bob.ID, Status: database.StatusApplied, AppliedAt: time.Now().UTC(), CreditSource: "daily"}
	db.Create(&app)
	db.Create(&database.Message{ApplicationID: app.ID, SenderID: bob.ID, SenderUsername: "bob", Content: "hi"})
	db.Create(&database.Notification{UserID: bob.ID, Type: "status_change", Metadata: datatypes.JSON(`{}`)})
	db.Create(&database.Profile{UserID: bob.ID, Documents: datatypes.JSONSlice[profile.Document]{{Key: "profile-docs/2/cv.pdf"}}})
	db.Create(&database.ReportedJob{JobID: job.ID, UserID: bob.ID, Reason: "expired", Status: "pending"})
	db.Create(&database.Feedback{UserID: bob.ID, Rating: 4, Category: "general", Status: "new"})

	keys, err := svc.Delete(ctx, bob.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(keys) != 1 || keys[0] != "profile-docs/2/cv.pdf" {
		t.Fatalf("document keys = %v", keys)
	}

	for name, model := range map[string]any{
		"applications":  &database.Application{},
		"messages":      &database.Message{},
		"notifications": &database.Notification{},
		"profiles":      &database.Profile{},
		"reported_jobs": &database.ReportedJob{},
		"feedback":      &database.Feedback{},
		"referrals":     &database.Referral{},
	} {
		var n int64
		db.Model(model).Count(&n)
		if n != 0 {
			t.Errorf("%s left behind: %d", name, n)
		}
	}
	var users int64
	db.Model(&database.User{}).Count(&users)
	if users != 1 {
		t.Fatalf("expected only alice to remain, got %d users", users)
	}
	if _, err := svc.Delete(ctx, bob.ID); !errors.Is(err, errcode.ErrNotFound) {
		t.Fatalf("second delete: expected not found, got %v", err)
	}
}
