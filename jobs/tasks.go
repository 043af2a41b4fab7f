package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStockAlertScan classifies every medication and logs the alerts.
	TaskStockAlertScan = "stock:alert-scan"
	// TaskLedgerIntegrity compares cached stock with the validated ledger.
	TaskLedgerIntegrity = "inventory:ledger-integrity"
	// TaskInsightsWarmup pre-populates the insights cache.
	TaskInsightsWarmup = "insights:warmup"
	// TaskIdempotencyCleanup purges expired submission keys.
	TaskIdempotencyCleanup = "maintenance:idempotency-cleanup"
)

// AlertScanPayload tunes one scan. Quiet suppresses the per-medication warnings.
type AlertScanPayload struct {
	Quiet bool `json:"quiet,omitempty"`
}

// InsightsWarmupPayload lists the statistics windows to warm. Empty means all.
type InsightsWarmupPayload struct {
	Windows []int `json:"windows,omitempty"`
}

// NewAlertScanTask constructs a stock alert scan task.
func NewAlertScanTask(payload AlertScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockAlertScan, data), nil
}

// NewLedgerIntegrityTask constructs a ledger integrity task.
func NewLedgerIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskLedgerIntegrity, nil)
}

// NewInsightsWarmupTask constructs an insights warmup task.
func NewInsightsWarmupTask(payload InsightsWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInsightsWarmup, data), nil
}

func decodePayload(t *asynq.Task, v any) error {
	if len(t.Payload()) == 0 {
		return nil
	}
	if err := json.Unmarshal(t.Payload(), v); err != nil {
		return asynq.SkipRetry
	}
	return nil
}
