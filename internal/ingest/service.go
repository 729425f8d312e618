package ingest

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"pipeline/internal/database"
	"pipeline/internal/errcode"
	"pipeline/internal/metrics"
)

// Service inserts normalized jobs. It does not deduplicate; a repeated
// jobIdentifier fails on the unique index.
type Service struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewService(db *gorm.DB, logger *slog.Logger, now func() time.Time) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Service{db: db, logger: logger, now: now}
}

// Result reports the outcome of one record in a batch.
type Result struct {
	Index         int    `json:"index"`
	JobID         uint   `json:"jobId,omitempty"`
	JobIdentifier string `json:"jobIdentifier,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Create inserts a single record.
func (s *Service) Create(ctx context.Context, rec Record) (*database.Job, error) {
	job, err := Normalize(rec, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		return nil, errcode.FromDB("ingest.Create", "job "+job.JobIdentifier, err)
	}
	metrics.JobsIngested.WithLabelValues(metrics.IngestSourceLabel(job.Source)).Inc()
	return &job, nil
}

// CreateBatch inserts each record independently so one bad record does not sink the rest.
func (s *Service) CreateBatch(ctx context.Context, recs []Record) []Result {
	results := make([]Result, 0, len(recs))
	for i, rec := range recs {
		job, err := s.Create(ctx, rec)
		if err != nil {
			s.logger.Warn("ingest record rejected",
				slog.Int("index", i),
				slog.String("job_identifier", rec.JobIdentifier),
				slog.Any("error", err),
			)
			results = append(results, Result{Index: i, JobIdentifier: rec.JobIdentifier, Error: errcode.PublicMessage(err)})
			continue
		}
		results = append(results, Result{Index: i, JobID: job.ID, JobIdentifier: job.JobIdentifier})
	}
	return results
}

// Failed counts results that carry an error.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Error != "" {
			n++
		}
	}
	return n
}
