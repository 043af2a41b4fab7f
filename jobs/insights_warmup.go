package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/anesthmed/anesthmed/internal/insights"
	jobmetrics "github.com/anesthmed/anesthmed/internal/jobs"
)

// InsightsService is the subset of insights.Service the warmup touches.
type InsightsService interface {
	Dashboard(ctx context.Context) (insights.Dashboard, error)
	Statistics(ctx context.Context, days int) (insights.Statistics, error)
	Consumption(ctx context.Context, by insights.Sort) ([]insights.ConsumptionRow, error)
}

// InsightsWarmupJob pre-populates the insights cache after a version bump.
type InsightsWarmupJob struct {
	Insights InsightsService
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewInsightsWarmupJob wires dependencies for the warmup handler.
func NewInsightsWarmupJob(svc InsightsService, logger *slog.Logger, metrics *jobmetrics.Metrics) *InsightsWarmupJob {
	return &InsightsWarmupJob{
		Insights: svc,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes insights warmup tasks.
func (j *InsightsWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload InsightsWarmupPayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}
	return j.Run(ctx, payload)
}

// Run warms the dashboard, the requested statistics windows and the
// consumption report.
func (j *InsightsWarmupJob) Run(ctx context.Context, payload InsightsWarmupPayload) (resultErr error) {
	if j == nil || j.Insights == nil {
		return errors.New("insights warmup: handler not configured")
	}
	tracker := orDefault(j.Metrics).Track(TaskInsightsWarmup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	windows := payload.Windows
	if len(windows) == 0 {
		windows = insights.StatisticsWindows
	}
	logger := jobLogger(j.Logger, TaskInsightsWarmup).With(slog.Any("windows", windows))
	logger.Info("starting insights warmup")
	start := j.now()

	warmCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	if _, err := j.Insights.Dashboard(warmCtx); err != nil {
		logger.Error("warm dashboard", slog.Any("error", err))
		return err
	}
	for _, days := range windows {
		if _, err := j.Insights.Statistics(warmCtx, days); err != nil {
			logger.Error("warm statistics", slog.Int("days", days), slog.Any("error", err))
			return err
		}
	}
	if _, err := j.Insights.Consumption(warmCtx, insights.SortName); err != nil {
		logger.Error("warm consumption", slog.Any("error", err))
		return err
	}

	logger.Info("completed insights warmup", slog.Duration("duration", j.now().Sub(start)))
	return nil
}

func (j *InsightsWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
