package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"pipeline/internal/ingest"
	"pipeline/internal/tasks"
)

// JobIngestHandler 消费外部抓取器投递的职位批次。
// 单条记录失败只记日志，批次本身不重试，避免重复插入已成功的记录。
type JobIngestHandler struct {
	ingest *ingest.Service
	logger *slog.Logger
}

func NewJobIngestHandler(ingestSvc *ingest.Service, logger *slog.Logger) *JobIngestHandler {
	return &JobIngestHandler{ingest: ingestSvc, logger: logger}
}

// ProcessTask 实现 asynq.Handler。
func (h *JobIngestHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload tasks.JobIngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal job ingest payload failed", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Int("records", len(payload.Records)),
	)
	if err := ctx.Err(); err != nil {
		return err
	}

	results := h.ingest.CreateBatch(tasks.WithCorrelationID(ctx, payload.CorrelationID), payload.Records)
	failed := ingest.Failed(results)
	log.Info("job feed ingested",
		slog.Int("created", len(results)-failed),
		slog.Int("failed", failed),
	)
	return nil
}
