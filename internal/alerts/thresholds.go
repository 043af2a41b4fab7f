package alerts

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/anesthmed/anesthmed/internal/consumption"
	"github.com/anesthmed/anesthmed/internal/ledger"
)

// MinHistory is the catalog age below which consumption is not trusted.
const MinHistory = 90 * 24 * time.Hour

// cmmWeights apply to the current month first.
var cmmWeights = []decimal.Decimal{
	decimal.RequireFromString("0.5"),
	decimal.RequireFromString("0.3"),
	decimal.RequireFromString("0.2"),
}

// Thresholds are the three stock bands for one medication.
type Thresholds struct {
	Critical  int     `json:"critical"`
	Low       int     `json:"low"`
	Normal    int     `json:"normal"`
	IsDynamic bool    `json:"isDynamic"`
	CMM       float64 `json:"cmm"`
}

// ColdStart is returned while a medication lacks usable history.
func ColdStart() Thresholds {
	return Thresholds{Critical: 5, Low: 10, Normal: 20}
}

// CMM is the weighted average of the last three calendar months of
// validated outflow, current month weighted heaviest.
func CMM(monthly []consumption.MonthlyConsumption) decimal.Decimal {
	total := decimal.Zero
	for i, w := range cmmWeights {
		if i >= len(monthly) {
			break
		}
		total = total.Add(decimal.NewFromInt(int64(monthly[i].Quantity)).Mul(w))
	}
	return total
}

// DynamicThresholds derives thresholds for medID from its consumption.
// Unknown, recently created or unused medications get ColdStart.
func DynamicThresholds(medID uuid.UUID, txs []ledger.Transaction, meds map[uuid.UUID]ledger.Medication, coeff Coefficients, now time.Time) Thresholds {
	med, ok := meds[medID]
	if !ok || now.Sub(med.CreatedAt) < MinHistory {
		return ColdStart()
	}
	monthly := consumption.Monthly(medID, txs, consumption.DefaultLookback, now)
	if consumption.Total(monthly) == 0 {
		return ColdStart()
	}
	cmm := CMM(monthly)
	minAbs := int64(coeff.MinAbsolute)
	th := Thresholds{
		Normal:    int(max(ceilTimes(cmm, coeff.Normal), minAbs*2)),
		Low:       int(max(ceilTimes(cmm, coeff.Low), ceilTimes(decimal.NewFromInt(minAbs), 1.5))),
		Critical:  int(max(ceilTimes(cmm, coeff.Critical), minAbs)),
		IsDynamic: true,
	}
	th.CMM, _ = cmm.Float64()
	return th
}

func ceilTimes(v decimal.Decimal, factor float64) int64 {
	return v.Mul(decimal.NewFromFloat(factor)).Ceil().IntPart()
}

// Static returns the legacy thresholds; normal is twice LOW.
func Static(s StaticThresholds) Thresholds {
	return Thresholds{Critical: s.Critical, Low: s.Low, Normal: s.Low * 2}
}

// ThresholdsFor picks dynamic or static thresholds per cfg.
func ThresholdsFor(cfg Config, medID uuid.UUID, txs []ledger.Transaction, meds map[uuid.UUID]ledger.Medication, now time.Time) Thresholds {
	if !cfg.DynamicEnabled {
		return Static(cfg.Static)
	}
	return DynamicThresholds(medID, txs, meds, cfg.Coefficients, now)
}
