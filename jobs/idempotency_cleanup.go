package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/order-engine/internal/jobs"
)

// TaskIdempotencyCleanup drops request keys past their retention.
const TaskIdempotencyCleanup = "maintenance:idempotency.cleanup"

// IdempotencyCleanupCron runs the cleanup daily at 03:10.
const IdempotencyCleanupCron = "10 3 * * *"

// DefaultIdempotencyRetention keeps keys long enough to absorb client retries.
const DefaultIdempotencyRetention = 7 * 24 * time.Hour

// KeyPruner removes idempotency keys older than the retention.
type KeyPruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// NewIdempotencyCleanupTask builds the cleanup task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil, asynq.Queue(QueueDefault))
}

// IdempotencyCleanupJob prunes the idempotency key table.
type IdempotencyCleanupJob struct {
	Keys      KeyPruner
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle processes TaskIdempotencyCleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Keys == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	retention := j.Retention
	if retention <= 0 {
		retention = DefaultIdempotencyRetention
	}
	tracker := metricsOrDefault(j.Metrics).Track(TaskIdempotencyCleanup)
	logger := loggerFor(j.Logger, TaskIdempotencyCleanup)
	if err := j.Keys.Cleanup(ctx, retention); err != nil {
		logger.Error("prune idempotency keys", slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("idempotency keys pruned", slog.Duration("retention", retention))
	return tracker.End(nil)
}
