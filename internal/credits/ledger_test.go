package credits

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"pipeline/internal/database"
	"pipeline/internal/database/dbtest"
	"pipeline/internal/errcode"
)

func seedUser(t *testing.T, db *gorm.DB, banked int) *database.User {
	t.Helper()
	user := &database.User{
		Username:      "seeker",
		Email:         "seeker@example.com",
		PasswordHash:  "x",
		ReferralCode:  "CODE0001",
		BankedCredits: banked,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func seedApplications(t *testing.T, db *gorm.DB, userID uint, n int, at time.Time, status string) {
	t.Helper()
	var existing int64
	db.Model(&database.Application{}).Count(&existing)
	for i := 0; i < n; i++ {
		app := database.Application{
			UserID:       userID,
			JobID:        uint(1000 + int(existing) + i),
			Status:       status,
			AppliedAt:    at.UTC(),
			CreditSource: string(SourceDaily),
		}
		if err := db.Create(&app).Error; err != nil {
			t.Fatalf("create application: %v", err)
		}
	}
}

func spendInTx(t *testing.T, db *gorm.DB, ledger *Ledger, userID uint) (Source, error) {
	t.Helper()
	var source Source
	err := db.Transaction(func(tx *gorm.DB) error {
		user, err := LockUser(context.Background(), tx, userID)
		if err != nil {
			return err
		}
		source, err = ledger.Spend(context.Background(), tx, user, time.UTC)
		return err
	})
	return source, err
}

func TestBalanceCountsTodayOnly(t *testing.T) {
	db := dbtest.Open(t)
	now := time.Date(2025, 5, 10, 15, 0, 0, 0, time.UTC)
	ledger := NewLedger(10, time.UTC, func() time.Time { return now })
	user := seedUser(t, db, 0)

	seedApplications(t, db, user.ID, 1, now.Add(-time.Hour), database.StatusApplied)
	seedApplications(t, db, user.ID, 3, now.Add(-24*time.Hour), database.StatusApplied)

	b, err := ledger.Balance(context.Background(), db, user, time.UTC)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if b.DailyUsed != 1 || b.DailyRemaining != 9 {
		t.Fatalf("expected 1 used / 9 remaining, got %+v", b)
	}
	if !b.ResetsAt.Equal(time.Date(2025, 5, 11, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("resetsAt = %v", b.ResetsAt)
	}
}

func TestBalanceCountsWithdrawn(t *testing.T) {
	db := dbtest.Open(t)
	now := time.Date(2025, 5, 10, 15, 0, 0, 0, time.UTC)
	ledger := NewLedger(10, time.UTC, func() time.Time { return now })
	user := seedUser(t, db, 0)

	seedApplications(t, db, user.ID, 2, now.Add(-time.Minute), database.StatusWithdrawn)

	b, err := ledger.Balance(context.Background(), db, user, time.UTC)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if b.DailyUsed != 2 {
		t.Fatalf("withdrawn applications still spent a credit, got %+v", b)
	}
}

func TestSpendDailyBeforeBanked(t *testing.T) {
	db := dbtest.Open(t)
	now := time.Date(2025, 5, 10, 15, 0, 0, 0, time.UTC)
	ledger := NewLedger(10, time.UTC, func() time.Time { return now })
	user := seedUser(t, db, 3)

	source, err := spendInTx(t, db, ledger, user.ID)
	if err != nil || source != SourceDaily {
		t.Fatalf("expected daily spend, got %q, %v", source, err)
	}

	var reloaded database.User
	db.First(&reloaded, user.ID)
	if reloaded.BankedCredits != 3 {
		t.Fatalf("banked should be untouched, got %d", reloaded.BankedCredits)
	}
}

func TestSpendBankedWhenDailyExhausted(t *testing.T) {
	db := dbtest.Open(t)
	now := time.Date(2025, 5, 10, 15, 0, 0, 0, time.UTC)
	ledger := NewLedger(10, time.UTC, func() time.Time { return now })
	user := seedUser(t, db, 3)
	seedApplications(t, db, user.ID, 10, now.Add(-time.Hour), database.StatusApplied)

	source, err := spendInTx(t, db, ledger, user.ID)
	if err != nil || source != SourceBanked {
		t.Fatalf("expected banked spend, got %q, %v", source, err)
	}

	var reloaded database.User
	db.First(&reloaded, user.ID)
	if reloaded.BankedCredits != 2 {
		t.Fatalf("banked = %d, want 2", reloaded.BankedCredits)
	}
}

func TestSpendNoCreditsLeavesStoreUntouched(t *testing.T) {
	db := dbtest.Open(t)
	now := time.Date(2025, 5, 10, 15, 0, 0, 0, time.UTC)
	ledger := NewLedger(10, time.UTC, func() time.Time { return now })
	user := seedUser(t, db, 0)
	seedApplications(t, db, user.ID, 10, now.Add(-time.Hour), database.StatusApplied)

	_, err := spendInTx(t, db, ledger, user.ID)
	if !errors.Is(err, errcode.ErrNoCredits) {
		t.Fatalf("expected no credits, got %v", err)
	}

	var reloaded database.User
	db.First(&reloaded, user.ID)
	if reloaded.BankedCredits != 0 {
		t.Fatalf("banked changed to %d", reloaded.BankedCredits)
	}
}

func TestDailyResetsAtLocalMidnight(t *testing.T) {
	db := dbtest.Open(t)
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatalf("load tz: %v", err)
	}
	// 14:30 UTC on May 10 is 23:30 in Tokyo; 15:30 UTC is 00:30 May 11 in Tokyo.
	before := time.Date(2025, 5, 10, 14, 30, 0, 0, time.UTC)
	after := time.Date(2025, 5, 10, 15, 30, 0, 0, time.UTC)
	user := seedUser(t, db, 0)
	seedApplications(t, db, user.ID, 10, before, database.StatusApplied)

	b, err := NewLedger(10, time.UTC, func() time.Time { return before }).Balance(context.Background(), db, user, tokyo)
	if err != nil {
		t.Fatalf("balance before: %v", err)
	}
	if b.DailyRemaining != 0 {
		t.Fatalf("before midnight remaining = %d", b.DailyRemaining)
	}

	b, err = NewLedger(10, time.UTC, func() time.Time { return after }).Balance(context.Background(), db, user, tokyo)
	if err != nil {
		t.Fatalf("balance after: %v", err)
	}
	if b.DailyRemaining != 10 {
		t.Fatalf("after local midnight remaining = %d, want 10", b.DailyRemaining)
	}
}
