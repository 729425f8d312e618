// Package feedback collects product feedback from users.
package feedback

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"pipeline/internal/database"
	"pipeline/internal/errcode"
)

var Categories = []string{"general", "bug", "feature_request", "job_listing", "other"}

const (
	StatusNew        = "new"
	maxCommentLength = 4000
)

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

func (s *Service) Submit(ctx context.Context, userID uint, rating int, category, comment string) (*database.Feedback, error) {
	const op = "feedback.Submit"
	if rating < 1 || rating > 5 {
		return nil, errcode.Validation(op, "rating must be between 1 and 5")
	}
	valid := false
	for _, c := range Categories {
		if c == category {
			valid = true
			break
		}
	}
	if !valid {
		return nil, errcode.Validation(op, "category must be one of "+strings.Join(Categories, ", "))
	}
	comment = strings.TrimSpace(comment)
	if len(comment) > maxCommentLength {
		return nil, errcode.Validation(op, "comment is too long")
	}

	row := database.Feedback{UserID: userID, Rating: rating, Category: category, Comment: comment, Status: StatusNew}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, errcode.Internal(op, err)
	}
	return &row, nil
}

// ListForUser returns the user's own feedback, newest first.
func (s *Service) ListForUser(ctx context.Context, userID uint) ([]database.Feedback, error) {
	var rows []database.Feedback
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, errcode.Internal("feedback.ListForUser", err)
	}
	return rows, nil
}

// ListAll is the admin view.
func (s *Service) ListAll(ctx context.Context) ([]database.Feedback, error) {
	var rows []database.Feedback
	if err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, errcode.Internal("feedback.ListAll", err)
	}
	return rows, nil
}
