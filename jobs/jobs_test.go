package jobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/anesthmed/anesthmed/internal/alerts"
	"github.com/anesthmed/anesthmed/internal/insights"
	"github.com/anesthmed/anesthmed/internal/inventory"
	jobmetrics "github.com/anesthmed/anesthmed/internal/jobs"
	"github.com/anesthmed/anesthmed/internal/ledger"
)

var scanNow = time.Date(2026, 5, 14, 9, 0, 0, 0, time.UTC)

type fakeStock struct {
	meds []ledger.Medication
	err  error
	from time.Time
}

func (f *fakeStock) ListMedications(context.Context) ([]ledger.Medication, error) {
	return f.meds, f.err
}

func (f *fakeStock) Outflows(_ context.Context, from time.Time) ([]ledger.Transaction, error) {
	f.from = from
	return nil, nil
}

func (f *fakeStock) Now() time.Time { return scanNow }

type staticConfig struct{ cfg alerts.Config }

func (s staticConfig) Load(context.Context) (alerts.Config, error) { return s.cfg, nil }

func gauge(t *testing.T, reg *prometheus.Registry, name, level string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if level == "" {
				return m.GetGauge().GetValue()
			}
			for _, l := range m.GetLabel() {
				if l.GetName() == "level" && l.GetValue() == level {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s{level=%q} not found", name, level)
	return 0
}

func med(name string, stock int, expiry *time.Time) ledger.Medication {
	return ledger.Medication{ID: uuid.New(), Name: name, Stock: stock, Expiry: expiry}
}

func TestAlertScanPublishesCounts(t *testing.T) {
	expired := scanNow.AddDate(0, 0, -1)
	soon := scanNow.AddDate(0, 0, 10)
	cfg := alerts.DefaultConfig()
	cfg.DynamicEnabled = false
	source := &fakeStock{meds: []ledger.Medication{
		med("Fentanyl", 3, nil),
		med("Propofol", 8, &soon),
		med("Atropine", 50, &expired),
	}}
	reg := prometheus.NewRegistry()
	job := NewAlertScanJob(source, staticConfig{cfg: cfg}, nil, jobmetrics.NewMetrics(reg))

	summary, err := job.Run(context.Background(), AlertScanPayload{})
	require.NoError(t, err)
	require.Equal(t, alerts.Summary{Critical: 1, Low: 1, Expiring: 1, Expired: 1}, summary)
	require.Equal(t, alerts.WindowStart(scanNow), source.from)

	require.Equal(t, 1.0, gauge(t, reg, "anesthmed_stock_alerts", "critical"))
	require.Equal(t, 1.0, gauge(t, reg, "anesthmed_stock_alerts", "low"))
	require.Equal(t, 1.0, gauge(t, reg, "anesthmed_stock_alerts", "expired"))
}

func TestAlertScanHandle(t *testing.T) {
	source := &fakeStock{err: errors.New("db down")}
	job := NewAlertScanJob(source, staticConfig{cfg: alerts.DefaultConfig()}, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	err := job.Handle(context.Background(), asynq.NewTask(TaskStockAlertScan, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	task, err := NewAlertScanTask(AlertScanPayload{Quiet: true})
	require.NoError(t, err)
	require.EqualError(t, job.Handle(context.Background(), task), "db down")

	var unset *AlertScanJob
	require.Error(t, unset.Handle(context.Background(), task))
}

type fakeVerifier struct {
	warnings []inventory.ConsistencyWarning
	err      error
}

func (f fakeVerifier) VerifyLedger(context.Context) ([]inventory.ConsistencyWarning, error) {
	return f.warnings, f.err
}

func TestLedgerIntegrity(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	drift := []inventory.ConsistencyWarning{{MedID: uuid.New(), MedName: "Ketamine", Expected: 10, Actual: 12}}

	job := NewLedgerIntegrityJob(fakeVerifier{warnings: drift}, nil, metrics)
	require.NoError(t, job.Handle(context.Background(), NewLedgerIntegrityTask()))
	require.Equal(t, 1.0, gauge(t, reg, "anesthmed_ledger_drift_medications", ""))

	clean := NewLedgerIntegrityJob(fakeVerifier{}, nil, metrics)
	warnings, err := clean.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, 0.0, gauge(t, reg, "anesthmed_ledger_drift_medications", ""))

	failing := NewLedgerIntegrityJob(fakeVerifier{err: errors.New("boom")}, nil, metrics)
	_, err = failing.Run(context.Background())
	require.EqualError(t, err, "boom")
}

type recordingInsights struct {
	windows []int
	sorts   []insights.Sort
	fail    error
}

func (r *recordingInsights) Dashboard(context.Context) (insights.Dashboard, error) {
	return insights.Dashboard{}, r.fail
}

func (r *recordingInsights) Statistics(_ context.Context, days int) (insights.Statistics, error) {
	r.windows = append(r.windows, days)
	return insights.Statistics{}, nil
}

func (r *recordingInsights) Consumption(_ context.Context, by insights.Sort) ([]insights.ConsumptionRow, error) {
	r.sorts = append(r.sorts, by)
	return nil, nil
}

func TestInsightsWarmup(t *testing.T) {
	svc := &recordingInsights{}
	job := NewInsightsWarmupJob(svc, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewInsightsWarmupTask(InsightsWarmupPayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, insights.StatisticsWindows, svc.windows)
	require.Equal(t, []insights.Sort{insights.SortName}, svc.sorts)

	svc.windows = nil
	require.NoError(t, job.Run(context.Background(), InsightsWarmupPayload{Windows: []int{7}}))
	require.Equal(t, []int{7}, svc.windows)

	svc.fail = errors.New("redis down")
	require.EqualError(t, job.Run(context.Background(), InsightsWarmupPayload{}), "redis down")
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"queue":"default","pending":0,"failed":0}`, rr.Body.String())
}

type fakeCleaner struct{ got time.Duration }

func (f *fakeCleaner) Cleanup(_ context.Context, olderThan time.Duration) error {
	f.got = olderThan
	return nil
}

func TestIdempotencyCleanupDefaultsRetention(t *testing.T) {
	cleaner := &fakeCleaner{}
	job := &IdempotencyCleanupJob{Store: cleaner, Metrics: jobmetrics.NewMetrics(prometheus.NewRegistry())}
	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	require.Equal(t, DefaultIdempotencyRetention, cleaner.got)

	var unset *IdempotencyCleanupJob
	require.Error(t, unset.Handle(context.Background(), nil))
}
