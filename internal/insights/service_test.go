package insights

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/anesthmed/anesthmed/internal/alerts"
	"github.com/anesthmed/anesthmed/internal/inventory"
	"github.com/anesthmed/anesthmed/internal/ledger"
	"github.com/anesthmed/anesthmed/internal/shared"
)

var now = time.Date(2026, 5, 14, 10, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu    sync.Mutex
	meds  []ledger.Medication
	txs   []ledger.Transaction
	calls int
}

func (f *fakeSource) ListMedications(context.Context) ([]ledger.Medication, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return append([]ledger.Medication(nil), f.meds...), nil
}

func (f *fakeSource) ListTransactions(_ context.Context, filter ledger.Filter) ([]ledger.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ledger.Transaction
	for _, t := range f.txs {
		if filter.Match(t) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeSource) Now() time.Time { return now }

type staticConfig struct{}

func (staticConfig) Load(context.Context) (alerts.Config, error) {
	return alerts.DefaultConfig(), nil
}

func med(name string, stock int, expiry *time.Time) ledger.Medication {
	return ledger.Medication{ID: uuid.New(), Name: name, Stock: stock, Expiry: expiry, CreatedAt: now.AddDate(0, 0, -10)}
}

func line(m ledger.Medication, typ ledger.TransactionType, qty int, at time.Time, status ledger.Status, cat ledger.Category, batch uuid.UUID) ledger.Transaction {
	return ledger.Transaction{ID: uuid.New(), MedID: m.ID, MedName: m.Name, Type: typ, Quantity: qty, Date: at,
		Status: status, Category: cat, BatchID: batch}
}

func newTestService(t *testing.T, src *fakeSource) (*Service, *Cache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewCache(client, time.Minute)
	return NewService(src, staticConfig{}, cache, nil), cache
}

func TestDashboard(t *testing.T) {
	soon := now.AddDate(0, 0, 20)
	atropine := med("Atropine", 3, &soon)
	ketamine := med("Ketamine", 8, nil)
	propofol := med("Propofol", 50, nil)
	reception := uuid.New()
	src := &fakeSource{
		meds: []ledger.Medication{atropine, ketamine, propofol},
		txs: []ledger.Transaction{
			line(propofol, ledger.TypeIn, 10, now.Add(-time.Hour), ledger.StatusPending, ledger.CategoryNormal, reception),
			line(ketamine, ledger.TypeIn, 5, now.Add(-time.Hour), ledger.StatusPending, ledger.CategoryNormal, reception),
			line(atropine, ledger.TypeIn, 5, now.Add(-2*time.Hour), ledger.StatusPending, ledger.CategoryNormal, uuid.New()),
			line(ketamine, ledger.TypeOut, 1, now.Add(-3*time.Hour), ledger.StatusPending, ledger.CategoryIncident, uuid.New()),
			line(propofol, ledger.TypeOut, 2, now.Add(-4*time.Hour), ledger.StatusValidated, ledger.CategoryNormal, uuid.New()),
			line(propofol, ledger.TypeOut, 2, now.Add(-5*time.Hour), ledger.StatusValidated, ledger.CategoryNormal, uuid.New()),
		},
	}
	svc, _ := newTestService(t, src)

	d, err := svc.Dashboard(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, d.TotalMedications)
	require.Equal(t, 61, d.TotalUnits)
	require.Equal(t, alerts.Summary{Critical: 1, Low: 1, Expiring: 1}, d.Alerts)
	require.Len(t, d.CriticalStock, 1)
	require.Equal(t, "Atropine", d.CriticalStock[0].Name)
	require.Equal(t, "Ketamine", d.LowStock[0].Name)
	require.Equal(t, alerts.ExpiryCritical, d.Expiring[0].Expiry)
	require.Equal(t, 2, d.PendingReceptions)
	require.Equal(t, 1, d.PendingIncidents)
	require.Len(t, d.Recent, 5)
	require.True(t, d.Recent[0].Date.Equal(now.Add(-time.Hour)))
}

func TestDashboardCachedUntilStockChanges(t *testing.T) {
	src := &fakeSource{meds: []ledger.Medication{med("Propofol", 50, nil)}}
	svc, cache := newTestService(t, src)
	ctx := context.Background()

	first, err := svc.Dashboard(ctx)
	require.NoError(t, err)
	require.Equal(t, 50, first.TotalUnits)

	src.mu.Lock()
	src.meds[0].Stock = 20
	src.mu.Unlock()
	cachedView, err := svc.Dashboard(ctx)
	require.NoError(t, err)
	require.Equal(t, 50, cachedView.TotalUnits)
	require.Equal(t, 1, src.calls)

	require.NoError(t, cache.HandleStockChanged(ctx, inventory.StockChangedEvent{Op: inventory.OpExitCreate}))
	fresh, err := svc.Dashboard(ctx)
	require.NoError(t, err)
	require.Equal(t, 20, fresh.TotalUnits)
}

func TestDashboardWithoutCache(t *testing.T) {
	src := &fakeSource{meds: []ledger.Medication{med("Propofol", 50, nil)}}
	svc := NewService(src, staticConfig{}, nil, nil)
	for range 2 {
		_, err := svc.Dashboard(context.Background())
		require.NoError(t, err)
	}
	require.Equal(t, 2, src.calls)
}

func TestStatistics(t *testing.T) {
	propofol := med("Propofol", 50, nil)
	ketamine := med("Ketamine", 50, nil)
	exit := uuid.New()
	withIntervention := func(tx ledger.Transaction, kind string) ledger.Transaction {
		tx.Details.Intervention = kind
		return tx
	}
	src := &fakeSource{
		meds: []ledger.Medication{propofol, ketamine},
		txs: []ledger.Transaction{
			withIntervention(line(propofol, ledger.TypeOut, 3, now.Add(-24*time.Hour), ledger.StatusValidated, ledger.CategoryNormal, exit), "Cesarean"),
			withIntervention(line(ketamine, ledger.TypeOut, 1, now.Add(-24*time.Hour), ledger.StatusValidated, ledger.CategoryNormal, exit), "Cesarean"),
			line(propofol, ledger.TypeOut, 2, now.Add(-2*24*time.Hour), ledger.StatusValidated, ledger.CategoryNormal, uuid.New()),
			line(propofol, ledger.TypeOut, 9, now.Add(-2*24*time.Hour), ledger.StatusPending, ledger.CategoryIncident, uuid.New()),
			line(ketamine, ledger.TypeOut, 7, now.Add(-20*24*time.Hour), ledger.StatusValidated, ledger.CategoryNormal, uuid.New()),
		},
	}
	svc, _ := newTestService(t, src)

	_, err := svc.Statistics(context.Background(), 14)
	require.ErrorIs(t, err, shared.ErrValidation)

	st, err := svc.Statistics(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, 6, st.TotalUnits)
	require.Equal(t, 3, st.TotalLines)
	require.Equal(t, "Propofol", st.TopConsumed[0].Name)
	require.Equal(t, 5, st.TopConsumed[0].Quantity)
	require.Len(t, st.ByIntervention, 2)
	require.Len(t, st.Daily, 8)

	month, err := svc.Statistics(context.Background(), 30)
	require.NoError(t, err)
	require.Equal(t, 13, month.TotalUnits)
	require.Equal(t, "Ketamine", month.TopConsumed[0].Name)
}

func TestConsumptionSorting(t *testing.T) {
	old := now.AddDate(-1, 0, 0)
	ephedrine := med("Éphédrine", 40, nil)
	atropine := med("atropine", 40, nil)
	fentanyl := med("Fentanyl", 40, nil)
	for _, m := range []*ledger.Medication{&ephedrine, &atropine, &fentanyl} {
		m.CreatedAt = old
	}
	thisMonth := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	lastMonth := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	out := func(m ledger.Medication, qty int, at time.Time) ledger.Transaction {
		return line(m, ledger.TypeOut, qty, at, ledger.StatusValidated, ledger.CategoryNormal, uuid.New())
	}
	src := &fakeSource{
		meds: []ledger.Medication{atropine, ephedrine, fentanyl},
		txs: []ledger.Transaction{
			out(fentanyl, 10, thisMonth),
			out(fentanyl, 10, lastMonth),
			out(ephedrine, 4, thisMonth),
			out(ephedrine, 2, lastMonth),
			out(atropine, 1, thisMonth),
			out(atropine, 8, lastMonth),
		},
	}
	svc, _ := newTestService(t, src)
	ctx := context.Background()

	names := func(rows []ConsumptionRow) []string {
		var out []string
		for _, r := range rows {
			out = append(out, r.Name)
		}
		return out
	}

	rows, err := svc.Consumption(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"atropine", "Éphédrine", "Fentanyl"}, names(rows))
	require.Equal(t, 8.0, rows[2].CMM)
	require.True(t, rows[2].Thresholds.IsDynamic)

	rows, err = svc.Consumption(ctx, SortCMM)
	require.NoError(t, err)
	require.Equal(t, []string{"Fentanyl", "atropine", "Éphédrine"}, names(rows))

	rows, err = svc.Consumption(ctx, SortTrend)
	require.NoError(t, err)
	require.Equal(t, "Éphédrine", rows[0].Name)
	require.Equal(t, "atropine", rows[2].Name)

	_, err = svc.Consumption(ctx, "stock")
	require.ErrorIs(t, err, ErrInvalidSort)
}

func TestExport(t *testing.T) {
	m := med("Propofol", 50, nil)
	src := &fakeSource{
		meds: []ledger.Medication{m},
		txs:  []ledger.Transaction{line(m, ledger.TypeIn, 50, now.Add(-time.Hour), ledger.StatusValidated, ledger.CategoryNormal, uuid.New())},
	}
	svc, _ := newTestService(t, src)
	b, err := svc.Export(context.Background())
	require.NoError(t, err)
	require.Equal(t, "1.0", b.Version)
	require.Equal(t, now, b.ExportDate)
	require.Len(t, b.Medications, 1)
	require.Len(t, b.Transactions, 1)
}
