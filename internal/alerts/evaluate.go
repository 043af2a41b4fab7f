package alerts

import (
	"time"

	"github.com/google/uuid"

	"github.com/anesthmed/anesthmed/internal/consumption"
	"github.com/anesthmed/anesthmed/internal/ledger"
)

// Evaluation is the derived alert state of one medication.
type Evaluation struct {
	Medication ledger.Medication `json:"medication"`
	Thresholds Thresholds        `json:"thresholds"`
	Stock      StockLevel        `json:"stockStatus"`
	Expiry     ExpiryLevel       `json:"expiryStatus,omitempty"`
}

// Evaluate classifies every medication under cfg. txs only needs the
// validated outflows of the lookback window.
func Evaluate(cfg Config, meds []ledger.Medication, txs []ledger.Transaction, now time.Time) []Evaluation {
	index := ledger.Index(meds)
	out := make([]Evaluation, 0, len(meds))
	for _, m := range meds {
		th := ThresholdsFor(cfg, m.ID, txs, index, now)
		out = append(out, Evaluation{
			Medication: m,
			Thresholds: th,
			Stock:      StockStatus(m.Stock, th),
			Expiry:     ExpirationStatus(m.Expiry, now),
		})
	}
	return out
}

// WindowStart is the first instant the CMM computation looks at.
func WindowStart(now time.Time) time.Time {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return first.AddDate(0, -(consumption.DefaultLookback - 1), 0)
}

// Summary counts evaluations per band.
type Summary struct {
	Critical int `json:"critical"`
	Low      int `json:"low"`
	Expiring int `json:"expiring"`
	Expired  int `json:"expired"`
}

// Summarize counts low, critical and expiring medications.
func Summarize(evals []Evaluation) Summary {
	var s Summary
	for _, e := range evals {
		switch e.Stock {
		case StockCritical:
			s.Critical++
		case StockLow:
			s.Low++
		}
		switch {
		case e.Expiry == ExpiryExpired:
			s.Expired++
		case e.Expiry.Urgent():
			s.Expiring++
		}
	}
	return s
}

// Lookup returns the evaluation of id, if present.
func Lookup(evals []Evaluation, id uuid.UUID) (Evaluation, bool) {
	for _, e := range evals {
		if e.Medication.ID == id {
			return e, true
		}
	}
	return Evaluation{}, false
}
