// Package reports handles user reports about problematic job listings.
package reports

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"pipeline/internal/database"
	"pipeline/internal/errcode"
)

var (
	Reasons  = []string{"fraudulent", "expired", "duplicate", "misleading", "inappropriate", "other"}
	Statuses = []string{"pending", "reviewed", "resolved", "dismissed"}
)

const StatusPending = "pending"

type Service struct {
	db  *gorm.DB
	now func() time.Time
}

func NewService(db *gorm.DB, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{db: db, now: now}
}

// Create files a pending report against an existing job.
func (s *Service) Create(ctx context.Context, userID, jobID uint, reason, comments string) (*database.ReportedJob, error) {
	const op = "reports.Create"
	if !contains(Reasons, reason) {
		return nil, errcode.Validation(op, "reason must be one of "+strings.Join(Reasons, ", "))
	}
	var job database.Job
	if err := s.db.WithContext(ctx).Select("id").First(&job, jobID).Error; err != nil {
		return nil, errcode.FromDB(op, "job", err)
	}
	report := database.ReportedJob{
		JobID:    jobID,
		UserID:   userID,
		Reason:   reason,
		Comments: strings.TrimSpace(comments),
		Status:   StatusPending,
	}
	if err := s.db.WithContext(ctx).Create(&report).Error; err != nil {
		return nil, errcode.Internal(op, err)
	}
	return &report, nil
}

// List is the admin view; status filters when non-empty.
func (s *Service) List(ctx context.Context, status string) ([]database.ReportedJob, error) {
	const op = "reports.List"
	q := s.db.WithContext(ctx).Preload("Job").Order("created_at DESC, id DESC")
	if status != "" {
		if !contains(Statuses, status) {
			return nil, errcode.Validation(op, "unknown status "+status)
		}
		q = q.Where("status = ?", status)
	}
	var rows []database.ReportedJob
	if err := q.Find(&rows).Error; err != nil {
		return nil, errcode.Internal(op, err)
	}
	return rows, nil
}

func (s *Service) Get(ctx context.Context, id uint) (*database.ReportedJob, error) {
	var row database.ReportedJob
	if err := s.db.WithContext(ctx).Preload("Job").First(&row, id).Error; err != nil {
		return nil, errcode.FromDB("reports.Get", "report", err)
	}
	return &row, nil
}

// Review sets status and admin notes and stamps the reviewer.
func (s *Service) Review(ctx context.Context, reviewerID, id uint, status string, adminNotes *string) (*database.ReportedJob, error) {
	const op = "reports.Review"
	if status != "" && !contains(Statuses, status) {
		return nil, errcode.Validation(op, "status must be one of "+strings.Join(Statuses, ", "))
	}
	if status == "" && adminNotes == nil {
		return nil, errcode.Validation(op, "nothing to update")
	}

	row, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	reviewedAt := s.now().UTC()
	updates := map[string]any{"reviewed_by": reviewerID, "reviewed_at": reviewedAt}
	if status != "" {
		updates["status"] = status
		row.Status = status
	}
	if adminNotes != nil {
		row.AdminNotes = strings.TrimSpace(*adminNotes)
		updates["admin_notes"] = row.AdminNotes
	}
	if err := s.db.WithContext(ctx).Model(row).Updates(updates).Error; err != nil {
		return nil, errcode.Internal(op, err)
	}
	row.ReviewedBy = &reviewerID
	row.ReviewedAt = &reviewedAt
	return row, nil
}

func (s *Service) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&database.ReportedJob{}, id)
	if res.Error != nil {
		return errcode.Internal("reports.Delete", res.Error)
	}
	if res.RowsAffected == 0 {
		return errcode.NotFound("reports.Delete", "report not found")
	}
	return nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
