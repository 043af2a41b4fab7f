package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStockStatusBoundaries(t *testing.T) {
	th := Thresholds{Critical: 9, Low: 13, Normal: 18}
	require.Equal(t, StockLow, StockStatus(th.Critical, th))
	require.Equal(t, StockCritical, StockStatus(th.Critical-1, th))
	require.Equal(t, StockLow, StockStatus(th.Low, th))
	require.Equal(t, StockNormal, StockStatus(th.Low+1, th))
	require.Equal(t, StockCritical, StockStatus(0, th))
}

func TestExpirationStatus(t *testing.T) {
	at := func(y int, m time.Month, d int) *time.Time {
		v := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		return &v
	}
	cases := []struct {
		name   string
		expiry *time.Time
		want   ExpiryLevel
	}{
		{"unset", nil, ExpiryNone},
		{"past", at(2026, 5, 1), ExpiryExpired},
		{"under a month", at(2026, 6, 10), ExpiryCritical},
		{"one full month", at(2026, 6, 15), ExpiryWarning},
		{"three months", at(2026, 8, 20), ExpiryWarning},
		{"four months", at(2026, 9, 20), ExpiryNotice},
		{"six months", at(2026, 11, 20), ExpiryNotice},
		{"far", at(2027, 3, 1), ExpiryOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ExpirationStatus(tc.expiry, now))
		})
	}
	require.True(t, ExpiryCritical.Urgent())
	require.False(t, ExpiryNotice.Urgent())
}

func TestExpirationStatusMonthEnd(t *testing.T) {
	endOfJanuary := time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC)
	at := func(m time.Month, d int) *time.Time {
		v := time.Date(2026, m, d, 0, 0, 0, 0, time.UTC)
		return &v
	}
	require.Equal(t, ExpiryWarning, ExpirationStatus(at(2, 28), endOfJanuary))
	require.Equal(t, ExpiryCritical, ExpirationStatus(at(2, 27), endOfJanuary))
	require.Equal(t, ExpiryWarning, ExpirationStatus(at(4, 30), endOfJanuary))
	require.Equal(t, ExpiryNotice, ExpirationStatus(at(6, 30), endOfJanuary))
	require.Equal(t, 1, wholeMonths(time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC), time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, 0, wholeMonths(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), time.Date(2026, 4, 14, 0, 0, 0, 0, time.UTC)))
}
