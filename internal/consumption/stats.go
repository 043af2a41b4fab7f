package consumption

import (
	"cmp"
	"slices"
	"time"

	"github.com/anesthmed/anesthmed/internal/ledger"
)

// NamedQuantity is one bar of a ranking chart.
type NamedQuantity struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// DailyPoint is one day of an evolution chart.
type DailyPoint struct {
	Day      string `json:"day"`
	Quantity int    `json:"quantity"`
}

// Outflows keeps validated OUT lines dated within [from, to].
func Outflows(txs []ledger.Transaction, from, to time.Time) []ledger.Transaction {
	f := ledger.Filter{Type: ledger.TypeOut, Status: ledger.StatusValidated, From: from, To: to}
	out := make([]ledger.Transaction, 0, len(txs))
	for _, t := range txs {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	return out
}

// TopConsumed ranks medications by quantity using the name snapshot stored
// on each line, highest first, keeping at most limit entries.
func TopConsumed(txs []ledger.Transaction, limit int) []NamedQuantity {
	totals := map[string]int{}
	for _, t := range txs {
		totals[t.MedName] += t.Quantity
	}
	out := make([]NamedQuantity, 0, len(totals))
	for name, qty := range totals {
		out = append(out, NamedQuantity{Name: name, Quantity: qty})
	}
	slices.SortFunc(out, func(a, b NamedQuantity) int {
		if c := cmp.Compare(b.Quantity, a.Quantity); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ByIntervention counts distinct exit batches per intervention type.
func ByIntervention(txs []ledger.Transaction) []NamedQuantity {
	seen := map[string]struct{}{}
	counts := map[string]int{}
	for _, t := range txs {
		if t.Category != ledger.CategoryNormal {
			continue
		}
		key := t.BatchID.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		kind := t.Details.Intervention
		if kind == "" {
			kind = "Autre"
		}
		counts[kind]++
	}
	out := make([]NamedQuantity, 0, len(counts))
	for name, n := range counts {
		out = append(out, NamedQuantity{Name: name, Quantity: n})
	}
	slices.SortFunc(out, func(a, b NamedQuantity) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// Daily buckets quantities per calendar day between from and to inclusive,
// emitting zero days so the series has no gaps.
func Daily(txs []ledger.Transaction, from, to time.Time) []DailyPoint {
	loc := to.Location()
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	end := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, loc)
	buckets := map[string]int{}
	for _, t := range txs {
		buckets[t.Date.In(loc).Format(time.DateOnly)] += t.Quantity
	}
	var out []DailyPoint
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		key := day.Format(time.DateOnly)
		out = append(out, DailyPoint{Day: key, Quantity: buckets[key]})
	}
	return out
}
