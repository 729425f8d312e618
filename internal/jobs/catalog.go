// Package jobs serves the job catalog: public search and admin maintenance.
package jobs

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"pipeline/internal/database"
	"pipeline/internal/errcode"
)

type Catalog struct {
	db  *gorm.DB
	now func() time.Time
}

func NewCatalog(db *gorm.DB, now func() time.Time) *Catalog {
	if now == nil {
		now = time.Now
	}
	return &Catalog{db: db, now: now}
}

// Query filters the listing. ActiveOnly is forced for public callers.
type Query struct {
	Search       string
	Type         string
	Location     string
	Company      string
	ActiveOnly   bool
	ArchivedOnly bool
	Page         int
	PageSize     int
}

// Page is one page of results.
type Page struct {
	Jobs     []database.Job `json:"jobs"`
	Total    int64          `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"pageSize"`
}

func (c *Catalog) List(ctx context.Context, q Query) (*Page, error) {
	const op = "jobs.List"

	tx := c.db.WithContext(ctx).Model(&database.Job{})
	switch {
	case q.ActiveOnly:
		tx = tx.Where("is_active = ?", true)
	case q.ArchivedOnly:
		tx = tx.Where("is_active = ?", false)
	}
	if s := strings.ToLower(strings.TrimSpace(q.Search)); s != "" {
		like := "%" + s + "%"
		tx = tx.Where("LOWER(title) LIKE ? OR LOWER(company) LIKE ? OR LOWER(description) LIKE ?", like, like, like)
	}
	if t := strings.TrimSpace(q.Type); t != "" {
		tx = tx.Where("LOWER(type) = ?", strings.ToLower(t))
	}
	if l := strings.ToLower(strings.TrimSpace(q.Location)); l != "" {
		tx = tx.Where("LOWER(location) LIKE ?", "%"+l+"%")
	}
	if co := strings.ToLower(strings.TrimSpace(q.Company)); co != "" {
		tx = tx.Where("LOWER(company) = ?", co)
	}
	tx = tx.Session(&gorm.Session{})

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, errcode.Internal(op, err)
	}

	page, size := q.Page, q.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}

	jobs := make([]database.Job, 0, size)
	if err := tx.Order("created_at DESC, id DESC").Offset((page - 1) * size).Limit(size).Find(&jobs).Error; err != nil {
		return nil, errcode.Internal(op, err)
	}
	return &Page{Jobs: jobs, Total: total, Page: page, PageSize: size}, nil
}

// Get returns a job. Inactive jobs are only visible when includeInactive is set.
func (c *Catalog) Get(ctx context.Context, id uint, includeInactive bool) (*database.Job, error) {
	var job database.Job
	if err := c.db.WithContext(ctx).First(&job, id).Error; err != nil {
		return nil, errcode.FromDB("jobs.Get", "job", err)
	}
	if !job.IsActive && !includeInactive {
		return nil, errcode.NotFound("jobs.Get", "job not found")
	}
	return &job, nil
}

// Patch is a partial admin edit. IsActive=false archives, true restores.
type Patch struct {
	Title        *string
	Company      *string
	Location     *string
	Salary       *string
	Type         *string
	Description  *string
	Requirements *string
	SourceURL    *string
	IsActive     *bool
}

func (c *Catalog) Update(ctx context.Context, id uint, p Patch) (*database.Job, error) {
	const op = "jobs.Update"

	var job database.Job
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&job, id).Error; err != nil {
			return errcode.FromDB(op, "job", err)
		}

		updates := map[string]any{}
		set := func(col string, v *string, required bool) error {
			if v == nil {
				return nil
			}
			s := strings.TrimSpace(*v)
			if required && s == "" {
				return errcode.Validation(op, col+" must not be empty")
			}
			updates[col] = s
			return nil
		}
		for _, f := range []struct {
			col      string
			v        *string
			required bool
		}{
			{"title", p.Title, true},
			{"company", p.Company, true},
			{"location", p.Location, false},
			{"salary", p.Salary, false},
			{"type", p.Type, false},
			{"description", p.Description, false},
			{"requirements", p.Requirements, false},
			{"source_url", p.SourceURL, false},
		} {
			if err := set(f.col, f.v, f.required); err != nil {
				return err
			}
		}

		if p.IsActive != nil && *p.IsActive != job.IsActive {
			updates["is_active"] = *p.IsActive
			if *p.IsActive {
				updates["deactivated_at"] = nil
			} else {
				updates["deactivated_at"] = c.now().UTC()
			}
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&job).Updates(updates).Error; err != nil {
			return errcode.FromDB(op, "job", err)
		}
		var fresh database.Job
		if err := tx.First(&fresh, id).Error; err != nil {
			return errcode.Internal(op, err)
		}
		job = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Delete removes the job with its applications, their messages, and its reports.
func (c *Catalog) Delete(ctx context.Context, id uint) error {
	const op = "jobs.Delete"
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job database.Job
		if err := tx.First(&job, id).Error; err != nil {
			return errcode.FromDB(op, "job", err)
		}
		appIDs := tx.Model(&database.Application{}).Select("id").Where("job_id = ?", id)
		if err := tx.Where("application_id IN (?)", appIDs).Delete(&database.Message{}).Error; err != nil {
			return errcode.Internal(op, err)
		}
		if err := tx.Where("job_id = ?", id).Delete(&database.Application{}).Error; err != nil {
			return errcode.Internal(op, err)
		}
		if err := tx.Where("job_id = ?", id).Delete(&database.ReportedJob{}).Error; err != nil {
			return errcode.Internal(op, err)
		}
		if err := tx.Delete(&job).Error; err != nil {
			return errcode.Internal(op, err)
		}
		return nil
	})
}
