package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/anesthmed/anesthmed/internal/jobs"
)

// DefaultIdempotencyRetention keeps submission keys long enough to absorb
// client retries of the previous day.
const DefaultIdempotencyRetention = 72 * time.Hour

// KeyCleaner deletes idempotency keys older than a retention window.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupJob purges old idempotency keys.
type IdempotencyCleanupJob struct {
	Store     KeyCleaner
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle processes TaskIdempotencyCleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	tracker := orDefault(j.Metrics).Track(TaskIdempotencyCleanup)
	defer func() {
		err = tracker.End(err)
	}()
	retention := j.Retention
	if retention <= 0 {
		retention = DefaultIdempotencyRetention
	}
	if err := j.Store.Cleanup(ctx, retention); err != nil {
		jobLogger(j.Logger, TaskIdempotencyCleanup).Error("purge idempotency keys", slog.Any("error", err))
		return err
	}
	jobLogger(j.Logger, TaskIdempotencyCleanup).Info("purged idempotency keys", slog.Duration("retention", retention))
	return nil
}
