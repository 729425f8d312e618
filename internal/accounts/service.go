// Package accounts manages users: registration with referral bonuses,
// credentials, admin edits, banked credit adjustments, and deletion.
package accounts

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pipeline/internal/auth"
	"pipeline/internal/credits"
	"pipeline/internal/database"
	"pipeline/internal/errcode"
)

const (
	referralCharset     = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	referralCodeLength  = 8
	referralCodeRetries = 5
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

type Service struct {
	db            *gorm.DB
	referralBonus int
	logger        *slog.Logger
}

func NewService(db *gorm.DB, referralBonus int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, referralBonus: referralBonus, logger: logger}
}

// RegisterInput is a self-service sign-up.
type RegisterInput struct {
	Username     string
	Email        string
	Password     string
	ReferralCode string
	Timezone     string
}

// Register creates the user and, when a referral code is given, credits the
// bonus to both sides and writes the audit row. Any failure rolls back all of it.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*database.User, error) {
	const op = "accounts.Register"

	username, email, err := normalizeIdentity(op, in.Username, in.Email)
	if err != nil {
		return nil, err
	}
	if msg := auth.ValidatePassword(in.Password); msg != "" {
		return nil, errcode.Validation(op, msg)
	}
	tz, err := normalizeTimezone(op, in.Timezone)
	if err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, errcode.Internal(op, err)
	}
	code := strings.ToUpper(strings.TrimSpace(in.ReferralCode))

	var user database.User
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureAvailable(ctx, tx, op, username, email, 0); err != nil {
			return err
		}

		own, err := uniqueReferralCode(ctx, tx)
		if err != nil {
			return errcode.Internal(op, err)
		}

		user = database.User{
			Username:     username,
			Email:        email,
			PasswordHash: hash,
			ReferralCode: own,
			Timezone:     tz,
		}

		var referrer database.User
		if code != "" {
			err := tx.WithContext(ctx).
				Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("referral_code = ?", code).
				First(&referrer).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errcode.Validation(op, "invalid referral code")
			}
			if err != nil {
				return errcode.Internal(op, err)
			}
			user.BankedCredits = s.referralBonus
			user.ReferredBy = &code
		}

		if err := tx.WithContext(ctx).Create(&user).Error; err != nil {
			return errcode.FromDB(op, "user", err)
		}
		if code == "" {
			return nil
		}

		err = tx.WithContext(ctx).
			Model(&database.User{}).
			Where("id = ?", referrer.ID).
			UpdateColumn("banked_credits", gorm.Expr("banked_credits + ?", s.referralBonus)).Error
		if err != nil {
			return errcode.Internal(op, err)
		}
		audit := database.Referral{ReferrerID: referrer.ID, RefereeID: user.ID, Code: code, Bonus: s.referralBonus}
		if err := tx.WithContext(ctx).Create(&audit).Error; err != nil {
			return errcode.Internal(op, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered",
		slog.Uint64("user_id", uint64(user.ID)),
		slog.Bool("referred", user.ReferredBy != nil),
	)
	return &user, nil
}

// CreateInput is an admin-created account. The user must change the password on first login.
type CreateInput struct {
	Username string
	Email    string
	Password string
	IsAdmin  bool
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*database.User, error) {
	const op = "accounts.Create"

	username, email, err := normalizeIdentity(op, in.Username, in.Email)
	if err != nil {
		return nil, err
	}
	if msg := auth.ValidatePassword(in.Password); msg != "" {
		return nil, errcode.Validation(op, msg)
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, errcode.Internal(op, err)
	}

	var user database.User
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureAvailable(ctx, tx, op, username, email, 0); err != nil {
			return err
		}
		own, err := uniqueReferralCode(ctx, tx)
		if err != nil {
			return errcode.Internal(op, err)
		}
		user = database.User{
			Username:           username,
			Email:              email,
			PasswordHash:       hash,
			IsAdmin:            in.IsAdmin,
			MustChangePassword: true,
			ReferralCode:       own,
		}
		if err := tx.WithContext(ctx).Create(&user).Error; err != nil {
			return errcode.FromDB(op, "user", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("user created by admin", slog.Uint64("user_id", uint64(user.ID)), slog.Bool("is_admin", user.IsAdmin))
	return &user, nil
}

// Authenticate checks a username/password pair. Unknown users and wrong
// passwords are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*database.User, error) {
	const op = "accounts.Authenticate"
	var user database.User
	err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errcode.Internal(op, err)
	}
	if err != nil || !auth.CheckPasswordHash(password, user.PasswordHash) {
		return nil, errcode.Unauthorized(op, "invalid username or password")
	}
	return &user, nil
}

// ChangePassword verifies the current password and clears MustChangePassword.
func (s *Service) ChangePassword(ctx context.Context, userID uint, current, next string) (*database.User, error) {
	const op = "accounts.ChangePassword"
	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !auth.CheckPasswordHash(current, user.PasswordHash) {
		return nil, errcode.Unauthorized(op, "current password is incorrect")
	}
	if msg := auth.ValidatePassword(next); msg != "" {
		return nil, errcode.Validation(op, msg)
	}
	if current == next {
		return nil, errcode.Validation(op, "new password must differ from the current one")
	}
	hash, err := auth.HashPassword(next)
	if err != nil {
		return nil, errcode.Internal(op, err)
	}
	err = s.db.WithContext(ctx).Model(user).Updates(map[string]any{
		"password_hash":        hash,
		"must_change_password": false,
	}).Error
	if err != nil {
		return nil, errcode.Internal(op, err)
	}
	user.PasswordHash = hash
	user.MustChangePassword = false
	return user, nil
}

func (s *Service) Get(ctx context.Context, userID uint) (*database.User, error) {
	var user database.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, errcode.FromDB("accounts.Get", "user", err)
	}
	return &user, nil
}

// List is the admin user listing; search matches username or email.
func (s *Service) List(ctx context.Context, search string, page, size int) ([]database.User, int64, error) {
	const op = "accounts.List"
	q := s.db.WithContext(ctx).Model(&database.User{})
	if search = strings.TrimSpace(search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		q = q.Where("LOWER(username) LIKE ? OR LOWER(email) LIKE ?", like, like)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, errcode.Internal(op, err)
	}
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	var users []database.User
	if err := q.Order("id").Offset((page - 1) * size).Limit(size).Find(&users).Error; err != nil {
		return nil, 0, errcode.Internal(op, err)
	}
	return users, total, nil
}

// Patch is a partial user update; nil fields are unchanged.
type Patch struct {
	Username *string
	Email    *string
	IsAdmin  *bool
	Timezone *string
}

// Update applies patch. Callers restrict non-admins to Timezone.
func (s *Service) Update(ctx context.Context, userID uint, patch Patch) (*database.User, error) {
	const op = "accounts.Update"

	var user database.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).First(&user, userID).Error; err != nil {
			return errcode.FromDB(op, "user", err)
		}

		updates := map[string]any{}
		username, email := user.Username, user.Email
		if patch.Username != nil {
			username = *patch.Username
		}
		if patch.Email != nil {
			email = *patch.Email
		}
		if patch.Username != nil || patch.Email != nil {
			var err error
			username, email, err = normalizeIdentity(op, username, email)
			if err != nil {
				return err
			}
			if err := ensureAvailable(ctx, tx, op, username, email, user.ID); err != nil {
				return err
			}
			updates["username"], updates["email"] = username, email
		}
		if patch.IsAdmin != nil {
			updates["is_admin"] = *patch.IsAdmin
		}
		if patch.Timezone != nil {
			tz, err := normalizeTimezone(op, *patch.Timezone)
			if err != nil {
				return err
			}
			updates["timezone"] = tz
		}
		if len(updates) == 0 {
			return errcode.Validation(op, "nothing to update")
		}
		if err := tx.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
			return errcode.FromDB(op, "user", err)
		}
		user = database.User{}
		if err := tx.WithContext(ctx).First(&user, userID).Error; err != nil {
			return errcode.Internal(op, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// AdjustCredits applies add, subtract or set to the banked balance under a row lock.
func (s *Service) AdjustCredits(ctx context.Context, userID uint, op string, amount int) (*database.User, error) {
	const opName = "accounts.AdjustCredits"

	var user *database.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		user, err = credits.LockUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		next, err := credits.Adjusted(user.BankedCredits, op, amount)
		if err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Model(user).UpdateColumn("banked_credits", next).Error; err != nil {
			return errcode.Internal(opName, err)
		}
		user.BankedCredits = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("banked credits adjusted",
		slog.Uint64("user_id", uint64(userID)),
		slog.String("operation", op),
		slog.Int("amount", amount),
		slog.Int("banked", user.BankedCredits),
	)
	return user, nil
}

// Delete removes the user and everything they own in one transaction.
// It returns the object keys of the user's profile documents so the caller
// can remove them from storage after the commit.
func (s *Service) Delete(ctx context.Context, userID uint) ([]string, error) {
	const op = "accounts.Delete"

	var docKeys []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tx = tx.WithContext(ctx)
		var user database.User
		if err := tx.First(&user, userID).Error; err != nil {
			return errcode.FromDB(op, "user", err)
		}

		var prof database.Profile
		err := tx.Where("user_id = ?", userID).First(&prof).Error
		switch {
		case err == nil:
			for _, d := range prof.Documents {
				docKeys = append(docKeys, d.Key)
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return errcode.Internal(op, err)
		}

		appIDs := tx.Model(&database.Application{}).Select("id").Where("user_id = ?", userID)
		steps := []struct {
			model any
			query string
			args  []any
		}{
			{&database.Message{}, "application_id IN (?) OR sender_id = ?", []any{appIDs, userID}},
			{&database.Application{}, "user_id = ?", []any{userID}},
			{&database.Notification{}, "user_id = ?", []any{userID}},
			{&database.Profile{}, "user_id = ?", []any{userID}},
			{&database.ReportedJob{}, "user_id = ?", []any{userID}},
			{&database.Feedback{}, "user_id = ?", []any{userID}},
			{&database.Referral{}, "referrer_id = ? OR referee_id = ?", []any{userID, userID}},
		}
		for _, step := range steps {
			if err := tx.Where(step.query, step.args...).Delete(step.model).Error; err != nil {
				return errcode.Internal(op, err)
			}
		}
		if err := tx.Delete(&user).Error; err != nil {
			return errcode.Internal(op, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("user deleted", slog.Uint64("user_id", uint64(userID)), slog.Int("documents", len(docKeys)))
	return docKeys, nil
}

// ReferralSummary is what GET /api/user/referral returns.
type ReferralSummary struct {
	Code             string `json:"code"`
	ReferredCount    int64  `json:"referredCount"`
	BonusEarned      int64  `json:"bonusEarned"`
	BonusPerReferral int    `json:"bonusPerReferral"`
}

func (s *Service) Referrals(ctx context.Context, userID uint) (*ReferralSummary, error) {
	const op = "accounts.Referrals"
	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	var row struct {
		Count int64
		Total int64
	}
	err = s.db.WithContext(ctx).
		Model(&database.Referral{}).
		Select("COUNT(*) AS count, COALESCE(SUM(bonus), 0) AS total").
		Where("referrer_id = ?", userID).
		Scan(&row).Error
	if err != nil {
		return nil, errcode.Internal(op, err)
	}
	return &ReferralSummary{
		Code:             user.ReferralCode,
		ReferredCount:    row.Count,
		BonusEarned:      row.Total,
		BonusPerReferral: s.referralBonus,
	}, nil
}

func normalizeIdentity(op, username, email string) (string, string, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if !usernamePattern.MatchString(username) {
		return "", "", errcode.Validation(op, "username must be 3-32 letters, digits, dots, dashes or underscores")
	}
	at := strings.LastIndex(email, "@")
	if at < 1 || at == len(email)-1 || strings.ContainsAny(email, " \t") {
		return "", "", errcode.Validation(op, "email is invalid")
	}
	return username, email, nil
}

func normalizeTimezone(op, tz string) (string, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return "", nil
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return "", errcode.Validation(op, "unknown timezone "+tz)
	}
	return tz, nil
}

func ensureAvailable(ctx context.Context, tx *gorm.DB, op, username, email string, exceptID uint) error {
	var taken []database.User
	err := tx.WithContext(ctx).
		Select("id", "username", "email").
		Where("(username = ? OR email = ?) AND id <> ?", username, email, exceptID).
		Find(&taken).Error
	if err != nil {
		return errcode.Internal(op, err)
	}
	for _, u := range taken {
		if u.Username == username {
			return errcode.Conflict(op, "username already taken")
		}
	}
	if len(taken) > 0 {
		return errcode.Conflict(op, "email already registered")
	}
	return nil
}

func uniqueReferralCode(ctx context.Context, tx *gorm.DB) (string, error) {
	for i := 0; i < referralCodeRetries; i++ {
		code, err := gonanoid.Generate(referralCharset, referralCodeLength)
		if err != nil {
			return "", err
		}
		var n int64
		if err := tx.WithContext(ctx).Model(&database.User{}).Where("referral_code = ?", code).Count(&n).Error; err != nil {
			return "", err
		}
		if n == 0 {
			return code, nil
		}
	}
	return "", errors.New("could not generate a unique referral code")
}
