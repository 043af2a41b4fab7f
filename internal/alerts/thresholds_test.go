package alerts

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/anesthmed/anesthmed/internal/ledger"
)

var now = time.Date(2026, 5, 14, 10, 0, 0, 0, time.UTC)

func outflow(med uuid.UUID, qty int, at time.Time) ledger.Transaction {
	return ledger.Transaction{ID: uuid.New(), MedID: med, Type: ledger.TypeOut, Quantity: qty, Date: at, Status: ledger.StatusValidated, Category: ledger.CategoryNormal}
}

func fentanyl(age time.Duration) (ledger.Medication, []ledger.Transaction) {
	med := ledger.Medication{ID: uuid.New(), Name: "Fentanyl", Stock: 50, IsNarcotic: true, CreatedAt: now.Add(-age)}
	txs := []ledger.Transaction{
		outflow(med.ID, 10, now.AddDate(0, 0, -2)),
		outflow(med.ID, 8, now.AddDate(0, -1, 0)),
		outflow(med.ID, 6, now.AddDate(0, -2, 0)),
	}
	return med, txs
}

func TestDynamicThresholdsFentanylScenario(t *testing.T) {
	med, txs := fentanyl(120 * 24 * time.Hour)
	meds := ledger.Index([]ledger.Medication{med})

	th := DynamicThresholds(med.ID, txs, meds, DefaultCoefficients(), now)
	require.True(t, th.IsDynamic)
	require.InDelta(t, 8.6, th.CMM, 1e-9)
	require.Equal(t, 18, th.Normal)
	require.Equal(t, 13, th.Low)
	require.Equal(t, 9, th.Critical)
	require.Equal(t, StockNormal, StockStatus(med.Stock, th))
}

func TestDynamicThresholdsColdStart(t *testing.T) {
	med, txs := fentanyl(89 * 24 * time.Hour)
	meds := ledger.Index([]ledger.Medication{med})
	txs = append(txs, outflow(med.ID, 500, now.AddDate(0, 0, -1)))

	require.Equal(t, ColdStart(), DynamicThresholds(med.ID, txs, meds, DefaultCoefficients(), now))
	require.Equal(t, Thresholds{Normal: 20, Low: 10, Critical: 5}, ColdStart())
}

func TestDynamicThresholdsFallbacks(t *testing.T) {
	old := ledger.Medication{ID: uuid.New(), CreatedAt: now.AddDate(-1, 0, 0)}
	meds := ledger.Index([]ledger.Medication{old})

	require.Equal(t, ColdStart(), DynamicThresholds(uuid.New(), nil, meds, DefaultCoefficients(), now))
	require.Equal(t, ColdStart(), DynamicThresholds(old.ID, nil, meds, DefaultCoefficients(), now))

	stale := []ledger.Transaction{outflow(old.ID, 40, now.AddDate(0, -4, 0))}
	require.Equal(t, ColdStart(), DynamicThresholds(old.ID, stale, meds, DefaultCoefficients(), now))
}

func TestDynamicThresholdsAbsoluteFloor(t *testing.T) {
	med := ledger.Medication{ID: uuid.New(), CreatedAt: now.AddDate(-1, 0, 0)}
	meds := ledger.Index([]ledger.Medication{med})
	txs := []ledger.Transaction{outflow(med.ID, 1, now.AddDate(0, -2, 0))}

	th := DynamicThresholds(med.ID, txs, meds, DefaultCoefficients(), now)
	require.True(t, th.IsDynamic)
	require.InDelta(t, 0.2, th.CMM, 1e-9)
	require.Equal(t, 4, th.Normal)
	require.Equal(t, 3, th.Low)
	require.Equal(t, 2, th.Critical)
}

func TestThresholdsMonotonicInCoefficients(t *testing.T) {
	med, txs := fentanyl(200 * 24 * time.Hour)
	meds := ledger.Index([]ledger.Medication{med})
	base := DefaultCoefficients()
	prev := DynamicThresholds(med.ID, txs, meds, base, now)
	require.LessOrEqual(t, prev.Critical, prev.Low)
	require.LessOrEqual(t, prev.Low, prev.Normal)

	for step := 1; step <= 20; step++ {
		c := base
		c.Normal += float64(step) * 0.25
		c.Low += float64(step) * 0.25
		c.Critical += float64(step) * 0.25
		th := DynamicThresholds(med.ID, txs, meds, c, now)
		require.GreaterOrEqual(t, th.Normal, prev.Normal)
		require.GreaterOrEqual(t, th.Low, prev.Low)
		require.GreaterOrEqual(t, th.Critical, prev.Critical)
		prev = th
	}
}

func TestThresholdsForHonoursConfig(t *testing.T) {
	med, txs := fentanyl(120 * 24 * time.Hour)
	meds := ledger.Index([]ledger.Medication{med})

	cfg := DefaultConfig()
	cfg.DynamicEnabled = false
	cfg.Static = StaticThresholds{Low: 12, Critical: 4}
	require.Equal(t, Thresholds{Critical: 4, Low: 12, Normal: 24}, ThresholdsFor(cfg, med.ID, txs, meds, now))

	cfg.DynamicEnabled = true
	require.Equal(t, 18, ThresholdsFor(cfg, med.ID, txs, meds, now).Normal)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.Coefficients.Critical = 3
	require.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = DefaultConfig()
	bad.Static = StaticThresholds{Low: 2, Critical: 5}
	require.ErrorIs(t, bad.Validate(), ErrInvalidConfig)
}

func TestDecodeOverlaysDefaults(t *testing.T) {
	cfg, err := Decode(map[string][]byte{
		KeyStaticThresholds: []byte(`{"LOW":15,"CRITICAL":6}`),
		KeyDynamicEnabled:   []byte(`false`),
	})
	require.NoError(t, err)
	require.Equal(t, DefaultCoefficients(), cfg.Coefficients)
	require.Equal(t, StaticThresholds{Low: 15, Critical: 6}, cfg.Static)
	require.False(t, cfg.DynamicEnabled)

	_, err = Decode(map[string][]byte{KeyCoefficients: []byte(`{`)})
	require.Error(t, err)
}
