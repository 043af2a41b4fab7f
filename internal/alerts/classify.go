package alerts

import "time"

// StockLevel is the classification of a live quantity.
type StockLevel string

const (
	StockCritical StockLevel = "critical"
	StockLow      StockLevel = "low"
	StockNormal   StockLevel = "normal"
)

// StockStatus classifies quantity. A quantity equal to the critical
// threshold is low, not critical.
func StockStatus(quantity int, th Thresholds) StockLevel {
	switch {
	case quantity < th.Critical:
		return StockCritical
	case quantity <= th.Low:
		return StockLow
	default:
		return StockNormal
	}
}

// ExpiryLevel is the urgency band of an expiry date.
type ExpiryLevel string

const (
	ExpiryNone     ExpiryLevel = ""
	ExpiryExpired  ExpiryLevel = "expired"
	ExpiryCritical ExpiryLevel = "critical"
	ExpiryWarning  ExpiryLevel = "warning"
	ExpiryNotice   ExpiryLevel = "notice"
	ExpiryOK       ExpiryLevel = "ok"
)

// Urgent reports whether the level should surface on the dashboard.
func (l ExpiryLevel) Urgent() bool {
	return l == ExpiryCritical || l == ExpiryWarning
}

// ExpirationStatus classifies an expiry date relative to now. A nil date
// yields ExpiryNone.
func ExpirationStatus(expiry *time.Time, now time.Time) ExpiryLevel {
	if expiry == nil {
		return ExpiryNone
	}
	if expiry.Before(now) {
		return ExpiryExpired
	}
	months := wholeMonths(now, *expiry)
	switch {
	case months < 1:
		return ExpiryCritical
	case months <= 3:
		return ExpiryWarning
	case months <= 6:
		return ExpiryNotice
	default:
		return ExpiryOK
	}
}

// wholeMonths counts complete calendar months from a to b (b >= a). When a
// falls on a day b's month does not have, the month completes on b's last
// day: Jan 31 to Feb 28 is one month.
func wholeMonths(a, b time.Time) int {
	b = b.In(a.Location())
	months := (b.Year()-a.Year())*12 + int(b.Month()-a.Month())
	if months <= 0 {
		return 0
	}
	if b.Day() == daysIn(b.Year(), b.Month(), b.Location()) && a.Day() > b.Day() {
		return months
	}
	if addMonthsClamped(a, months).After(b) {
		months--
	}
	return months
}

// addMonthsClamped moves t by n months, keeping the day within the target
// month instead of overflowing into the next one.
func addMonthsClamped(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month()+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	day := min(t.Day(), daysIn(first.Year(), first.Month(), t.Location()))
	return first.AddDate(0, 0, day-1)
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
