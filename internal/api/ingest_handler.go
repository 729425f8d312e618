package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"pipeline/internal/api/middleware"
	"pipeline/internal/errcode"
	"pipeline/internal/ingest"
	"pipeline/internal/notify"
	"pipeline/internal/tasks"
)

const maxFeedRecords = 1000

// IngestHandler is the internal job feed used by the external scraper.
// With a queue the batch is handed to the worker; without one it is inserted inline.
type IngestHandler struct {
	ingest *ingest.Service
	queue  notify.Enqueuer
}

func NewIngestHandler(ingestSvc *ingest.Service, queue notify.Enqueuer) *IngestHandler {
	return &IngestHandler{ingest: ingestSvc, queue: queue}
}

type feedRequest struct {
	Jobs []ingest.Record `json:"jobs" binding:"required,min=1"`
}

// Feed POST /internal/jobs
func (h *IngestHandler) Feed(c *gin.Context) {
	var req feedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if len(req.Jobs) > maxFeedRecords {
		BadRequest(c, "too many records in one batch")
		return
	}
	ctx := c.Request.Context()
	logger := middleware.LoggerFromContext(c)

	if h.queue != nil {
		task, err := tasks.NewJobIngestTask(req.Jobs, tasks.CorrelationID(ctx))
		if err != nil {
			respondError(c, errcode.Internal("ingest.Feed", err))
			return
		}
		info, err := h.queue.EnqueueContext(ctx, task)
		if err != nil {
			respondError(c, errcode.Internal("ingest.Feed", err))
			return
		}
		logger.Info("job feed queued", slog.String("task_id", info.ID), slog.Int("records", len(req.Jobs)))
		c.JSON(http.StatusAccepted, gin.H{"taskId": info.ID, "records": len(req.Jobs)})
		return
	}

	results := h.ingest.CreateBatch(ctx, req.Jobs)
	failed := ingest.Failed(results)
	logger.Info("job feed ingested", slog.Int("records", len(results)), slog.Int("failed", failed))
	c.JSON(http.StatusOK, gin.H{"created": len(results) - failed, "failed": failed, "results": results})
}
