// Package insights builds the read-only views over the stock ledger:
// dashboard, usage statistics, consumption report and the JSON backup.
package insights

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/anesthmed/anesthmed/internal/alerts"
	"github.com/anesthmed/anesthmed/internal/consumption"
	"github.com/anesthmed/anesthmed/internal/ledger"
	"github.com/anesthmed/anesthmed/internal/shared"
)

// Source reads the catalog and ledger.
type Source interface {
	ListMedications(ctx context.Context) ([]ledger.Medication, error)
	ListTransactions(ctx context.Context, filter ledger.Filter) ([]ledger.Transaction, error)
	Now() time.Time
}

// ConfigSource loads the alert configuration.
type ConfigSource interface {
	Load(ctx context.Context) (alerts.Config, error)
}

const (
	recentCount   = 5
	topCount      = 10
	backupVersion = "1.0"
)

// StatisticsWindows lists the accepted statistics windows in days.
var StatisticsWindows = []int{7, 30, 90}

// Sort orders the consumption report.
type Sort string

const (
	SortName  Sort = "name"
	SortCMM   Sort = "cmm"
	SortTrend Sort = "trend"
)

// MedicationRef names one medication in a dashboard list.
type MedicationRef struct {
	ID     uuid.UUID          `json:"id"`
	Name   string             `json:"name"`
	Stock  int                `json:"stock"`
	Level  alerts.StockLevel  `json:"stockStatus"`
	Expiry alerts.ExpiryLevel `json:"expiryStatus,omitempty"`
}

// Dashboard is the landing page summary.
type Dashboard struct {
	GeneratedAt       time.Time            `json:"generatedAt"`
	TotalMedications  int                  `json:"totalMedications"`
	TotalUnits        int                  `json:"totalUnits"`
	Alerts            alerts.Summary       `json:"alerts"`
	LowStock          []MedicationRef      `json:"lowStock"`
	CriticalStock     []MedicationRef      `json:"criticalStock"`
	Expiring          []MedicationRef      `json:"expiring"`
	PendingReceptions int                  `json:"pendingReceptions"`
	PendingIncidents  int                  `json:"pendingIncidents"`
	Recent            []ledger.Transaction `json:"recent"`
}

// Statistics summarises validated outflows over a rolling window.
type Statistics struct {
	Days           int                         `json:"days"`
	From           time.Time                   `json:"from"`
	To             time.Time                   `json:"to"`
	TotalUnits     int                         `json:"totalUnits"`
	TotalLines     int                         `json:"totalLines"`
	TopConsumed    []consumption.NamedQuantity `json:"topConsumed"`
	ByIntervention []consumption.NamedQuantity `json:"byIntervention"`
	Daily          []consumption.DailyPoint    `json:"daily"`
}

// ConsumptionRow is one medication of the consumption report.
type ConsumptionRow struct {
	MedID      uuid.UUID                        `json:"medId"`
	Name       string                           `json:"name"`
	Stock      int                              `json:"stock"`
	CMM        float64                          `json:"cmm"`
	Monthly    []consumption.MonthlyConsumption `json:"monthly"`
	Trend      consumption.TrendResult          `json:"trend"`
	Thresholds alerts.Thresholds                `json:"thresholds"`
	Level      alerts.StockLevel                `json:"stockStatus"`
}

// Backup is the full JSON export of the dataset.
type Backup struct {
	Medications  []ledger.Medication  `json:"medications"`
	Transactions []ledger.Transaction `json:"transactions"`
	ExportDate   time.Time            `json:"exportDate"`
	Version      string               `json:"version"`
}

// Service coordinates insights data preparation.
type Service struct {
	source Source
	config ConfigSource
	cache  *Cache
	group  singleflight.Group
	logger *slog.Logger
}

// NewService constructs a Service instance. A nil cache disables caching.
func NewService(source Source, config ConfigSource, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{source: source, config: config, cache: cache, logger: logger}
}

// cached serves key from the versioned cache, collapsing concurrent misses
// into one build. Callers must not mutate the returned value in place.
func cached[T any](ctx context.Context, s *Service, build func(context.Context) (T, error), parts ...string) (T, error) {
	key, err := s.cache.BuildKey(ctx, parts...)
	if err != nil {
		s.logger.Warn("insights cache unavailable", slog.Any("error", err))
		return build(ctx)
	}
	value, err, _ := s.group.Do(key, func() (any, error) {
		var out T
		err := s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
			return build(ctx)
		})
		return out, err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return value.(T), nil
}

// evaluate loads the catalog with the outflows of the CMM window.
func (s *Service) evaluate(ctx context.Context, now time.Time) ([]ledger.Medication, []ledger.Transaction, []alerts.Evaluation, error) {
	var (
		cfg  alerts.Config
		meds []ledger.Medication
		txs  []ledger.Transaction
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		cfg, err = s.config.Load(gctx)
		return err
	})
	g.Go(func() (err error) {
		meds, err = s.source.ListMedications(gctx)
		return err
	})
	g.Go(func() (err error) {
		txs, err = s.source.ListTransactions(gctx, ledger.Filter{
			Type:   ledger.TypeOut,
			Status: ledger.StatusValidated,
			From:   alerts.WindowStart(now),
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}
	return meds, txs, alerts.Evaluate(cfg, meds, txs, now), nil
}

// Dashboard returns the landing page summary.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	return cached(ctx, s, s.buildDashboard, "dashboard")
}

func (s *Service) buildDashboard(ctx context.Context) (Dashboard, error) {
	now := s.source.Now()
	var (
		evals   []alerts.Evaluation
		pending []ledger.Transaction
		recent  []ledger.Transaction
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		_, _, evals, err = s.evaluate(gctx, now)
		return err
	})
	g.Go(func() (err error) {
		pending, err = s.source.ListTransactions(gctx, ledger.Filter{Status: ledger.StatusPending})
		return err
	})
	g.Go(func() (err error) {
		recent, err = s.source.ListTransactions(gctx, ledger.Filter{Limit: recentCount})
		return err
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}
	d := Dashboard{
		GeneratedAt:      now,
		TotalMedications: len(evals),
		Alerts:           alerts.Summarize(evals),
		LowStock:         []MedicationRef{},
		CriticalStock:    []MedicationRef{},
		Expiring:         []MedicationRef{},
		Recent:           recent,
	}
	for _, e := range evals {
		d.TotalUnits += e.Medication.Stock
		ref := MedicationRef{ID: e.Medication.ID, Name: e.Medication.Name, Stock: e.Medication.Stock, Level: e.Stock, Expiry: e.Expiry}
		switch e.Stock {
		case alerts.StockCritical:
			d.CriticalStock = append(d.CriticalStock, ref)
		case alerts.StockLow:
			d.LowStock = append(d.LowStock, ref)
		}
		if e.Expiry.Urgent() {
			d.Expiring = append(d.Expiring, ref)
		}
	}
	batches := map[uuid.UUID]struct{}{}
	for _, t := range pending {
		switch {
		case t.Category == ledger.CategoryIncident:
			d.PendingIncidents++
		case t.Type == ledger.TypeIn:
			batches[t.BatchID] = struct{}{}
		}
	}
	d.PendingReceptions = len(batches)
	if d.Recent == nil {
		d.Recent = []ledger.Transaction{}
	}
	return d, nil
}

// ErrInvalidWindow rejects unsupported statistics windows.
var ErrInvalidWindow = fmt.Errorf("insights: window must be 7, 30 or 90 days: %w", shared.ErrValidation)

// Statistics summarises validated outflows of the last days.
func (s *Service) Statistics(ctx context.Context, days int) (Statistics, error) {
	if !slices.Contains(StatisticsWindows, days) {
		return Statistics{}, ErrInvalidWindow
	}
	return cached(ctx, s, func(ctx context.Context) (Statistics, error) {
		return s.buildStatistics(ctx, days)
	}, "statistics", strconv.Itoa(days))
}

func (s *Service) buildStatistics(ctx context.Context, days int) (Statistics, error) {
	now := s.source.Now()
	from := now.AddDate(0, 0, -days)
	txs, err := s.source.ListTransactions(ctx, ledger.Filter{Type: ledger.TypeOut, Status: ledger.StatusValidated, From: from})
	if err != nil {
		return Statistics{}, err
	}
	lines := consumption.Outflows(txs, from, now)
	st := Statistics{
		Days:           days,
		From:           from,
		To:             now,
		TotalLines:     len(lines),
		TopConsumed:    consumption.TopConsumed(lines, topCount),
		ByIntervention: consumption.ByIntervention(lines),
		Daily:          consumption.Daily(lines, from, now),
	}
	for _, t := range lines {
		st.TotalUnits += t.Quantity
	}
	return st, nil
}

// ErrInvalidSort rejects unknown report orderings.
var ErrInvalidSort = fmt.Errorf("insights: sort must be name, cmm or trend: %w", shared.ErrValidation)

// Consumption returns the per-medication consumption report.
func (s *Service) Consumption(ctx context.Context, by Sort) ([]ConsumptionRow, error) {
	if by == "" {
		by = SortName
	}
	if by != SortName && by != SortCMM && by != SortTrend {
		return nil, ErrInvalidSort
	}
	base, err := cached(ctx, s, s.buildConsumption, "consumption")
	if err != nil {
		return nil, err
	}
	rows := slices.Clone(base)
	SortRows(rows, by)
	return rows, nil
}

func (s *Service) buildConsumption(ctx context.Context) ([]ConsumptionRow, error) {
	now := s.source.Now()
	meds, txs, evals, err := s.evaluate(ctx, now)
	if err != nil {
		return nil, err
	}
	rows := make([]ConsumptionRow, 0, len(meds))
	for i, m := range meds {
		monthly := consumption.Monthly(m.ID, txs, consumption.DefaultLookback, now)
		cmm, _ := alerts.CMM(monthly).Round(2).Float64()
		rows = append(rows, ConsumptionRow{
			MedID:      m.ID,
			Name:       m.Name,
			Stock:      m.Stock,
			CMM:        cmm,
			Monthly:    monthly,
			Trend:      consumption.ComputeTrend(monthly),
			Thresholds: evals[i].Thresholds,
			Level:      evals[i].Stock,
		})
	}
	return rows, nil
}

// SortRows orders the report. Names use French collation so accented
// names sort next to their base letter.
func SortRows(rows []ConsumptionRow, by Sort) {
	col := collate.New(language.French, collate.IgnoreCase)
	byName := func(a, b ConsumptionRow) int { return col.CompareString(a.Name, b.Name) }
	switch by {
	case SortCMM:
		slices.SortStableFunc(rows, func(a, b ConsumptionRow) int {
			if c := cmp.Compare(b.CMM, a.CMM); c != 0 {
				return c
			}
			return byName(a, b)
		})
	case SortTrend:
		slices.SortStableFunc(rows, func(a, b ConsumptionRow) int {
			if c := cmp.Compare(b.Trend.Percentage, a.Trend.Percentage); c != 0 {
				return c
			}
			return byName(a, b)
		})
	default:
		slices.SortStableFunc(rows, byName)
	}
}

// Export returns the whole dataset. It is never cached.
func (s *Service) Export(ctx context.Context) (Backup, error) {
	var b Backup
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		b.Medications, err = s.source.ListMedications(gctx)
		return err
	})
	g.Go(func() (err error) {
		b.Transactions, err = s.source.ListTransactions(gctx, ledger.Filter{})
		return err
	})
	if err := g.Wait(); err != nil {
		return Backup{}, err
	}
	b.ExportDate = s.source.Now()
	b.Version = backupVersion
	return b, nil
}
