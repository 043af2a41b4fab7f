package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	stockAlerts *prometheus.GaugeVec
	ledgerDrift prometheus.Gauge
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// SetStockAlerts publishes how many medications the last scan found at level.
func (m *Metrics) SetStockAlerts(level string, count int) {
	if m == nil {
		return
	}
	m.stockAlerts.WithLabelValues(level).Set(float64(count))
}

// SetLedgerDrift publishes how many medications disagree with their ledger.
func (m *Metrics) SetLedgerDrift(count int) {
	if m == nil {
		return
	}
	m.ledgerDrift.Set(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "anesthmed_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "anesthmed_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "anesthmed_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	stockAlerts := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "anesthmed_stock_alerts",
		Help: "Medications per alert level found by the last stock scan.",
	}, []string{"level"})
	ledgerDrift := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "anesthmed_ledger_drift_medications",
		Help: "Medications whose stock disagrees with the validated ledger.",
	})
	registerer.MustRegister(runs, failures, duration, stockAlerts, ledgerDrift)
	return &Metrics{runs: runs, failures: failures, duration: duration, stockAlerts: stockAlerts, ledgerDrift: ledgerDrift}
}
