package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/anesthmed/anesthmed/internal/alerts"
	jobmetrics "github.com/anesthmed/anesthmed/internal/jobs"
	"github.com/anesthmed/anesthmed/internal/ledger"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// StockSource reads the catalog and the validated outflows.
type StockSource interface {
	ListMedications(ctx context.Context) ([]ledger.Medication, error)
	Outflows(ctx context.Context, from time.Time) ([]ledger.Transaction, error)
	Now() time.Time
}

// ConfigSource loads the alert configuration.
type ConfigSource interface {
	Load(ctx context.Context) (alerts.Config, error)
}

// AlertScanJob evaluates every medication and publishes the alert counts.
type AlertScanJob struct {
	Source  StockSource
	Config  ConfigSource
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAlertScanJob wires dependencies for the scan handler.
func NewAlertScanJob(source StockSource, config ConfigSource, logger *slog.Logger, metrics *jobmetrics.Metrics) *AlertScanJob {
	return &AlertScanJob{Source: source, Config: config, Logger: logger, Metrics: metrics}
}

// Handle processes TaskStockAlertScan tasks.
func (j *AlertScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Source == nil || j.Config == nil {
		return errors.New("alert scan: handler not configured")
	}
	var payload AlertScanPayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}
	_, err := j.Run(ctx, payload)
	return err
}

// Run evaluates the catalog once and returns the alert summary.
func (j *AlertScanJob) Run(ctx context.Context, payload AlertScanPayload) (summary alerts.Summary, err error) {
	metrics := orDefault(j.Metrics)
	tracker := metrics.Track(TaskStockAlertScan)
	defer func() {
		err = tracker.End(err)
	}()
	logger := jobLogger(j.Logger, TaskStockAlertScan)

	cfg, err := j.Config.Load(ctx)
	if err != nil {
		logger.Error("load alert config", slog.Any("error", err))
		return alerts.Summary{}, err
	}
	meds, err := j.Source.ListMedications(ctx)
	if err != nil {
		return alerts.Summary{}, err
	}
	now := j.Source.Now()
	outflows, err := j.Source.Outflows(ctx, alerts.WindowStart(now))
	if err != nil {
		return alerts.Summary{}, err
	}

	evals := alerts.Evaluate(cfg, meds, outflows, now)
	if !payload.Quiet {
		for _, e := range evals {
			attrs := []any{
				slog.String("med_id", e.Medication.ID.String()),
				slog.String("medication", e.Medication.Name),
				slog.Int("stock", e.Medication.Stock),
			}
			switch e.Stock {
			case alerts.StockCritical:
				logger.Warn("stock below critical threshold", append(attrs, slog.Int("critical", e.Thresholds.Critical))...)
			case alerts.StockLow:
				logger.Warn("stock below low threshold", append(attrs, slog.Int("low", e.Thresholds.Low))...)
			}
			if e.Expiry == alerts.ExpiryExpired || e.Expiry.Urgent() {
				logger.Warn("medication expiring", append(attrs, slog.String("expiry_status", string(e.Expiry)))...)
			}
		}
	}

	summary = alerts.Summarize(evals)
	metrics.SetStockAlerts(string(alerts.StockCritical), summary.Critical)
	metrics.SetStockAlerts(string(alerts.StockLow), summary.Low)
	metrics.SetStockAlerts("expiring", summary.Expiring)
	metrics.SetStockAlerts("expired", summary.Expired)
	logger.Info("stock alert scan completed",
		slog.Int("medications", len(evals)),
		slog.Int("critical", summary.Critical),
		slog.Int("low", summary.Low),
		slog.Int("expiring", summary.Expiring),
	)
	return summary, nil
}

func jobLogger(logger *slog.Logger, job string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", job))
}

func orDefault(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}
