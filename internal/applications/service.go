package applications

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pipeline/internal/credits"
	"pipeline/internal/database"
	"pipeline/internal/errcode"
	"pipeline/internal/metrics"
	"pipeline/internal/notify"
)

// Service owns every mutation of the applications table.
type Service struct {
	db       *gorm.DB
	ledger   *credits.Ledger
	notifier *notify.Notifier
	logger   *slog.Logger
}

func NewService(db *gorm.DB, ledger *credits.Ledger, notifier *notify.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, ledger: ledger, notifier: notifier, logger: logger}
}

// View is an application as returned to clients.
type View struct {
	database.Application
	JobArchived bool `json:"jobArchived"`
}

func newView(app database.Application, actor Actor) View {
	if !actor.IsAdmin {
		app.Notes = ""
	}
	archived := app.Job != nil && !app.Job.IsActive
	return View{Application: app, JobArchived: archived}
}

func refFor(app *database.Application, job *database.Job) notify.ApplicationRef {
	ref := notify.ApplicationRef{ApplicationID: app.ID, JobID: app.JobID}
	if job != nil {
		ref.JobTitle = job.Title
		ref.Company = job.Company
	}
	return ref
}

// Apply spends one credit and creates an Applied application in a single transaction.
// requesterTZ is the client's IANA zone, used when the user has none stored.
func (s *Service) Apply(ctx context.Context, userID, jobID uint, data database.ApplicationData, requesterTZ string) (*View, error) {
	const op = "applications.Apply"

	var (
		app    database.Application
		job    database.Job
		user   *database.User
		source credits.Source
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		user, err = credits.LockUser(ctx, tx, userID)
		if err != nil {
			return err
		}

		if err := tx.First(&job, jobID).Error; err != nil {
			return errcode.FromDB(op, "job", err)
		}
		if !job.IsActive {
			return errcode.Conflict(op, "job is no longer active")
		}

		active, err := hasActive(ctx, tx, userID, jobID)
		if err != nil {
			return err
		}
		if active {
			return errcode.Conflict(op, "already applied")
		}

		source, err = s.ledger.Spend(ctx, tx, user, s.ledger.Location(user, requesterTZ))
		if err != nil {
			return err
		}

		now := s.ledger.Now().UTC()
		app = database.Application{
			JobID:           jobID,
			UserID:          userID,
			Status:          string(Applied),
			AppliedAt:       now,
			CreditSource:    string(source),
			StatusHistory:   datatypes.JSONSlice[database.StatusEntry]{{Status: string(Applied), Date: now}},
			ApplicationData: datatypes.NewJSONType(cleanData(data)),
		}
		if err := tx.Create(&app).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errcode.Conflict(op, "already applied")
			}
			return errcode.Internal(op, err)
		}
		return nil
	})
	if err != nil {
		metrics.ApplyRejected.WithLabelValues(string(errcode.CodeOf(err))).Inc()
		return nil, err
	}
	metrics.ApplicationsCreated.WithLabelValues(string(source)).Inc()

	s.logger.Info("application created",
		slog.Uint64("application_id", uint64(app.ID)),
		slog.Uint64("user_id", uint64(userID)),
		slog.Uint64("job_id", uint64(jobID)),
		slog.String("credit_source", string(source)),
	)

	ref := refFor(&app, &job)
	s.notifier.Deliver(ctx, userID, notify.ApplicationConfirmation{ApplicationRef: ref, CreditSource: string(source)})
	s.notifier.DeliverAdmins(ctx, notify.ApplicationSubmitted{
		ApplicationRef:    ref,
		ApplicantID:       userID,
		ApplicantUsername: user.Username,
	}, userID)

	app.Job = &job
	view := newView(app, Actor{ID: userID})
	return &view, nil
}

// UpdateStatus records a transition. Owners may only withdraw; admins may set any status.
// Every call appends one history entry and sends one notification to the owner.
func (s *Service) UpdateStatus(ctx context.Context, actor Actor, appID uint, status Status) (*View, error) {
	const op = "applications.UpdateStatus"

	var (
		app       database.Application
		job       *database.Job
		oldStatus string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&app, appID).Error; err != nil {
			return errcode.FromDB(op, "application", err)
		}
		if !actor.IsAdmin {
			if app.UserID != actor.ID {
				return errcode.Forbidden(op, "not your application")
			}
			if status != Withdrawn {
				return errcode.Forbidden(op, "applicants may only withdraw")
			}
		}

		oldStatus = app.Status
		now := s.ledger.Now().UTC()
		app.Status = string(status)
		app.StatusHistory = append(app.StatusHistory, database.StatusEntry{Status: string(status), Date: now})

		err := tx.Model(&app).Updates(map[string]any{
			"status":         app.Status,
			"status_history": app.StatusHistory,
		}).Error
		if err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errcode.Conflict(op, "user already has an active application for this job")
			}
			return errcode.Internal(op, err)
		}

		job, err = loadJob(tx, app.JobID)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.StatusTransitions.WithLabelValues(app.Status).Inc()

	s.logger.Info("application status changed",
		slog.Uint64("application_id", uint64(app.ID)),
		slog.Uint64("actor_id", uint64(actor.ID)),
		slog.String("from", oldStatus),
		slog.String("to", app.Status),
	)
	s.notifier.Deliver(ctx, app.UserID, notify.StatusEvent(refFor(&app, job), oldStatus, app.Status))

	app.Job = job
	view := newView(app, actor)
	return &view, nil
}

// GuidanceInput is a partial update; nil fields are left as they are.
type GuidanceInput struct {
	Notes           *string
	NextStep        *string
	NextStepDueDate *time.Time
	ClearDueDate    bool
}

// UpdateGuidance sets admin notes and the next step. A next step appearing
// sends next_steps_added; a changed next step or due date sends next_steps_updated.
func (s *Service) UpdateGuidance(ctx context.Context, appID uint, in GuidanceInput) (*View, error) {
	const op = "applications.UpdateGuidance"

	var (
		app      database.Application
		job      *database.Job
		prevStep string
		prevDue  *time.Time
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&app, appID).Error; err != nil {
			return errcode.FromDB(op, "application", err)
		}
		prevStep, prevDue = app.NextStep, app.NextStepDueDate

		updates := map[string]any{}
		if in.Notes != nil {
			app.Notes = strings.TrimSpace(*in.Notes)
			updates["notes"] = app.Notes
		}
		if in.NextStep != nil {
			app.NextStep = strings.TrimSpace(*in.NextStep)
			updates["next_step"] = app.NextStep
		}
		switch {
		case in.ClearDueDate:
			app.NextStepDueDate = nil
			updates["next_step_due_date"] = nil
		case in.NextStepDueDate != nil:
			due := in.NextStepDueDate.UTC()
			app.NextStepDueDate = &due
			updates["next_step_due_date"] = due
		}
		if len(updates) == 0 {
			return errcode.Validation(op, "nothing to update")
		}
		if err := tx.Model(&app).Updates(updates).Error; err != nil {
			return errcode.Internal(op, err)
		}

		var err error
		job, err = loadJob(tx, app.JobID)
		return err
	})
	if err != nil {
		return nil, err
	}

	ref := refFor(&app, job)
	switch {
	case app.NextStep == "":
	case prevStep == "":
		s.notifier.Deliver(ctx, app.UserID, notify.NextStepsAdded{ApplicationRef: ref, NextStep: app.NextStep, DueDate: app.NextStepDueDate})
	case prevStep != app.NextStep || !sameTime(prevDue, app.NextStepDueDate):
		s.notifier.Deliver(ctx, app.UserID, notify.NextStepsUpdated{
			ApplicationRef: ref,
			PreviousStep:   prevStep,
			NextStep:       app.NextStep,
			DueDate:        app.NextStepDueDate,
		})
	}

	app.Job = job
	view := newView(app, Actor{IsAdmin: true})
	return &view, nil
}

// ScheduleInterview moves the application to Interviewing (appending history
// when the status changes), records the interview as the next step, and sends
// a single interview_scheduled notification.
func (s *Service) ScheduleInterview(ctx context.Context, appID uint, at time.Time, details string) (*View, error) {
	const op = "applications.ScheduleInterview"
	if at.IsZero() {
		return nil, errcode.Validation(op, "scheduledAt is required")
	}

	var (
		app database.Application
		job *database.Job
	)
	details = strings.TrimSpace(details)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&app, appID).Error; err != nil {
			return errcode.FromDB(op, "application", err)
		}
		if app.Status == string(Withdrawn) {
			return errcode.Conflict(op, "application was withdrawn")
		}

		when := at.UTC()
		step := "Interview"
		if details != "" {
			step += ": " + details
		}
		updates := map[string]any{"next_step": step, "next_step_due_date": when}
		if app.Status != string(Interviewing) {
			app.Status = string(Interviewing)
			app.StatusHistory = append(app.StatusHistory, database.StatusEntry{Status: app.Status, Date: s.ledger.Now().UTC()})
			updates["status"] = app.Status
			updates["status_history"] = app.StatusHistory
		}
		app.NextStep, app.NextStepDueDate = step, &when
		if err := tx.Model(&app).Updates(updates).Error; err != nil {
			return errcode.Internal(op, err)
		}

		var err error
		job, err = loadJob(tx, app.JobID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Deliver(ctx, app.UserID, notify.InterviewScheduled{
		ApplicationRef: refFor(&app, job),
		ScheduledAt:    *app.NextStepDueDate,
		Details:        details,
	})

	app.Job = job
	view := newView(app, Actor{IsAdmin: true})
	return &view, nil
}

// HasApplied reports whether userID holds a non-withdrawn application for jobID.
func (s *Service) HasApplied(ctx context.Context, userID, jobID uint) (bool, error) {
	return hasActive(ctx, s.db, userID, jobID)
}

// Get loads one application for its owner or an admin.
func (s *Service) Get(ctx context.Context, actor Actor, appID uint) (*View, error) {
	const op = "applications.Get"
	var app database.Application
	if err := s.db.WithContext(ctx).Preload("Job").First(&app, appID).Error; err != nil {
		return nil, errcode.FromDB(op, "application", err)
	}
	if !actor.CanSee(app.UserID) {
		return nil, errcode.Forbidden(op, "not your application")
	}
	view := newView(app, actor)
	return &view, nil
}

// ListForUser returns the user's applications, newest first, withdrawn ones included.
func (s *Service) ListForUser(ctx context.Context, userID uint) ([]View, error) {
	var apps []database.Application
	err := s.db.WithContext(ctx).
		Preload("Job").
		Where("user_id = ?", userID).
		Order("applied_at DESC, id DESC").
		Find(&apps).Error
	if err != nil {
		return nil, errcode.Internal("applications.ListForUser", err)
	}
	return views(apps, Actor{ID: userID}), nil
}

// Filter narrows ListAll.
type Filter struct {
	Status   string
	UserID   uint
	JobID    uint
	Page     int
	PageSize int
}

// ListAll is the admin listing with pagination.
func (s *Service) ListAll(ctx context.Context, f Filter) ([]View, int64, error) {
	const op = "applications.ListAll"

	q := s.db.WithContext(ctx).Model(&database.Application{})
	if f.Status != "" {
		status, err := ParseStatus(f.Status)
		if err != nil {
			return nil, 0, err
		}
		q = q.Where("status = ?", string(status))
	}
	if f.UserID != 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.JobID != 0 {
		q = q.Where("job_id = ?", f.JobID)
	}

	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, errcode.Internal(op, err)
	}

	page, size := normalizePage(f.Page, f.PageSize)
	var apps []database.Application
	err := q.Preload("Job").
		Order("applied_at DESC, id DESC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&apps).Error
	if err != nil {
		return nil, 0, errcode.Internal(op, err)
	}
	return views(apps, Actor{IsAdmin: true}), total, nil
}

func views(apps []database.Application, actor Actor) []View {
	out := make([]View, 0, len(apps))
	for _, app := range apps {
		out = append(out, newView(app, actor))
	}
	return out
}

func hasActive(ctx context.Context, db *gorm.DB, userID, jobID uint) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&database.Application{}).
		Where("user_id = ? AND job_id = ? AND status <> ?", userID, jobID, string(Withdrawn)).
		Count(&n).Error
	if err != nil {
		return false, errcode.Internal("applications.hasActive", err)
	}
	return n > 0, nil
}

func loadJob(tx *gorm.DB, jobID uint) (*database.Job, error) {
	var job database.Job
	err := tx.First(&job, jobID).Error
	switch {
	case err == nil:
		return &job, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	default:
		return nil, errcode.Internal("applications.loadJob", err)
	}
}

func cleanData(d database.ApplicationData) database.ApplicationData {
	d.CoverLetter = strings.TrimSpace(d.CoverLetter)
	d.ResumeURL = strings.TrimSpace(d.ResumeURL)
	return d
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case size <= 0:
		size = 20
	case size > 100:
		size = 100
	}
	return page, size
}
