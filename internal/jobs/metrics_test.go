package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("stock:alert-scan").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("stock:alert-scan").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("stock:alert-scan", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("stock:alert-scan", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("stock:alert-scan")))
}

func TestGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.SetStockAlerts("critical", 3)
	m.SetStockAlerts("critical", 1)
	m.SetLedgerDrift(2)

	require.Equal(t, 1.0, testutil.ToFloat64(m.stockAlerts.WithLabelValues("critical")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.ledgerDrift))

	var nilMetrics *Metrics
	nilMetrics.SetStockAlerts("low", 1)
	require.NoError(t, nilMetrics.Track("x").End(nil))
}
