// Package consumption computes per-medication usage history from the
// stock ledger. Every function is a pure function of its inputs.
package consumption

import (
	"iter"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/anesthmed/anesthmed/internal/ledger"
)

// DefaultLookback is the number of calendar months used for CMM.
const DefaultLookback = 3

// MonthlyConsumption is the validated outflow of one calendar month.
type MonthlyConsumption struct {
	Month    time.Time `json:"month"`
	Label    string    `json:"label"`
	Quantity int       `json:"quantity"`
	Count    int       `json:"count"`
}

// Trend classifies the current month against the older baseline.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
	TrendUnknown    Trend = "unknown"
)

// TrendResult pairs a trend with its rounded percentage change.
type TrendResult struct {
	Trend      Trend `json:"trend"`
	Percentage int   `json:"percentage"`
}

// trendBand is the percentage change below which consumption is stable.
const trendBand = 10

// Months yields the consumption of medID for the n most recent calendar
// months, current month first. Month boundaries follow now's location.
// The sequence can be ranged over any number of times.
func Months(medID uuid.UUID, txs []ledger.Transaction, n int, now time.Time) iter.Seq[MonthlyConsumption] {
	return func(yield func(MonthlyConsumption) bool) {
		current := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		for i := 0; i < n; i++ {
			start := current.AddDate(0, -i, 0)
			if !yield(monthOf(medID, txs, start)) {
				return
			}
		}
	}
}

// Monthly collects Months into a slice.
func Monthly(medID uuid.UUID, txs []ledger.Transaction, n int, now time.Time) []MonthlyConsumption {
	if n <= 0 {
		return []MonthlyConsumption{}
	}
	return slices.Collect(Months(medID, txs, n, now))
}

func monthOf(medID uuid.UUID, txs []ledger.Transaction, start time.Time) MonthlyConsumption {
	end := start.AddDate(0, 1, 0)
	out := MonthlyConsumption{Month: start, Label: start.Format("2006-01")}
	for _, t := range txs {
		if !countsAsConsumption(t, medID) {
			continue
		}
		if t.Date.Before(start) || !t.Date.Before(end) {
			continue
		}
		out.Quantity += t.Quantity
		out.Count++
	}
	return out
}

func countsAsConsumption(t ledger.Transaction, medID uuid.UUID) bool {
	return t.MedID == medID && t.Type == ledger.TypeOut && t.Status == ledger.StatusValidated
}

// ComputeTrend compares the current month with the average of the two older
// months, or with the single older month when only two points exist.
func ComputeTrend(monthly []MonthlyConsumption) TrendResult {
	if len(monthly) < 2 {
		return TrendResult{Trend: TrendUnknown}
	}
	current := float64(monthly[0].Quantity)
	baseline := float64(monthly[1].Quantity)
	if len(monthly) >= 3 {
		baseline = (float64(monthly[1].Quantity) + float64(monthly[2].Quantity)) / 2
	}
	if baseline == 0 {
		return TrendResult{Trend: TrendStable}
	}
	// Half-up rounding, so -12.5 becomes -12.
	pct := int(math.Floor(100*(current-baseline)/baseline + 0.5))
	switch {
	case pct > trendBand:
		return TrendResult{Trend: TrendIncreasing, Percentage: pct}
	case pct < -trendBand:
		return TrendResult{Trend: TrendDecreasing, Percentage: pct}
	default:
		return TrendResult{Trend: TrendStable, Percentage: pct}
	}
}

// Total sums the quantities of a monthly series.
func Total(monthly []MonthlyConsumption) int {
	total := 0
	for _, m := range monthly {
		total += m.Quantity
	}
	return total
}
