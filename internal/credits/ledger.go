package credits

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pipeline/internal/database"
	"pipeline/internal/errcode"
)

// Adjustment operations for banked credits.
const (
	OpAdd      = "add"
	OpSubtract = "subtract"
	OpSet      = "set"
)

// Ledger reads and spends credits against the applications table.
type Ledger struct {
	dailyLimit int
	fallback   *time.Location
	now        func() time.Time
}

// NewLedger builds a Ledger. now may be nil to use the wall clock.
func NewLedger(dailyLimit int, fallback *time.Location, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	if fallback == nil {
		fallback = time.UTC
	}
	return &Ledger{dailyLimit: dailyLimit, fallback: fallback, now: now}
}

// Location resolves the effective timezone for user given the requester's hint.
func (l *Ledger) Location(user *database.User, requesterTZ string) *time.Location {
	return ResolveLocation(user.Timezone, requesterTZ, l.fallback)
}

// Now exposes the ledger clock so callers stamp appliedAt from the same source.
func (l *Ledger) Now() time.Time {
	return l.now()
}

// Balance counts every application the user made in today's window, withdrawn ones included.
func (l *Ledger) Balance(ctx context.Context, db *gorm.DB, user *database.User, loc *time.Location) (Balance, error) {
	start, end := DayWindow(l.now(), loc)

	var used int64
	err := db.WithContext(ctx).
		Model(&database.Application{}).
		Where("user_id = ? AND applied_at >= ? AND applied_at < ?", user.ID, start.UTC(), end.UTC()).
		Count(&used).Error
	if err != nil {
		return Balance{}, errcode.Internal("credits.Balance", err)
	}
	return NewBalance(l.dailyLimit, int(used), user.BankedCredits, end, loc), nil
}

// Spend consumes one credit inside tx. The caller must hold the user row lock.
// A NoCredits error leaves the store untouched.
func (l *Ledger) Spend(ctx context.Context, tx *gorm.DB, user *database.User, loc *time.Location) (Source, error) {
	balance, err := l.Balance(ctx, tx, user, loc)
	if err != nil {
		return "", err
	}
	source, err := Plan(balance)
	if err != nil {
		return "", err
	}
	if source == SourceDaily {
		return source, nil
	}

	res := tx.WithContext(ctx).
		Model(&database.User{}).
		Where("id = ? AND banked_credits > 0", user.ID).
		UpdateColumn("banked_credits", gorm.Expr("banked_credits - 1"))
	if res.Error != nil {
		return "", errcode.Internal("credits.Spend", res.Error)
	}
	if res.RowsAffected == 0 {
		return "", errcode.NoCredits("credits.Spend")
	}
	user.BankedCredits--
	return source, nil
}

// LockUser loads the user row with SELECT ... FOR UPDATE inside tx.
func LockUser(ctx context.Context, tx *gorm.DB, userID uint) (*database.User, error) {
	var user database.User
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&user, userID).Error
	if err != nil {
		return nil, errcode.FromDB("credits.LockUser", "user", err)
	}
	return &user, nil
}

// Adjusted applies op to current and rejects a negative result.
func Adjusted(current int, op string, amount int) (int, error) {
	if amount < 0 {
		return 0, errcode.Validation("credits.Adjust", "amount must not be negative")
	}
	var next int
	switch op {
	case OpAdd:
		next = current + amount
	case OpSubtract:
		next = current - amount
	case OpSet:
		next = amount
	default:
		return 0, errcode.Validation("credits.Adjust", "operation must be add, subtract or set")
	}
	if next < 0 {
		return 0, errcode.Validation("credits.Adjust", "banked credits cannot go below zero")
	}
	return next, nil
}
