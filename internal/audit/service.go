package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/anesthmed/anesthmed/internal/ledger"
	"github.com/anesthmed/anesthmed/internal/shared"
)

// Catalog reads the current stock together with the ledger lines matching
// filter, both as of the same instant.
type Catalog interface {
	Snapshot(ctx context.Context, filter ledger.Filter) ([]ledger.Medication, []ledger.Transaction, error)
}

// DraftStore keeps audit sessions in progress.
type DraftStore interface {
	Save(ctx context.Context, draft Draft) error
	Get(ctx context.Context, id uuid.UUID) (Draft, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Store persists committed audits.
type Store interface {
	Insert(ctx context.Context, a Audit) error
	LastAuditAt(ctx context.Context) (time.Time, bool, error)
	List(ctx context.Context, limit int) ([]Audit, error)
	Get(ctx context.Context, id uuid.UUID) (Audit, error)
}

// AuditLogPort writes the audit trail.
type AuditLogPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// LockPort serialises commits of one draft.
type LockPort interface {
	Obtain(ctx context.Context, key string) (func(), error)
}

// MetricsPort observes workflow results.
type MetricsPort interface {
	ObserveWorkflow(op, result string)
}

// Dependencies groups the optional collaborators of Service.
type Dependencies struct {
	AuditLog AuditLogPort
	Locks    LockPort
	Metrics  MetricsPort
	Logger   *slog.Logger
	Now      func() time.Time
}

const (
	opCommit    = "audit.commit"
	historySize = 50
)

// Service runs stock reconciliation sessions.
type Service struct {
	catalog Catalog
	drafts  DraftStore
	store   Store
	deps    Dependencies
}

// NewService builds Service.
func NewService(catalog Catalog, drafts DraftStore, store Store, deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{catalog: catalog, drafts: drafts, store: store, deps: deps}
}

// Start snapshots the catalog into a new draft owned by actor. Physical
// counts default to the theoretical stock. Stock and expected empty vials
// come from one consistent read.
func (s *Service) Start(ctx context.Context, actor shared.Actor) (Draft, error) {
	now := s.deps.Now()
	since, err := s.vialsFrom(ctx, now)
	if err != nil {
		return Draft{}, err
	}
	meds, txs, err := s.catalog.Snapshot(ctx, ledger.Filter{
		Type:     ledger.TypeOut,
		Status:   ledger.StatusValidated,
		Category: ledger.CategoryNormal,
		From:     since,
	})
	if err != nil {
		return Draft{}, fmt.Errorf("audit: read catalog: %w", err)
	}
	if len(meds) == 0 {
		return Draft{}, ErrEmptyCatalog
	}
	used := make(map[uuid.UUID]int)
	for _, t := range txs {
		used[t.MedID] += t.Quantity
	}
	draft := Draft{
		ID:        uuid.New(),
		UserID:    actor.ID,
		StartedAt: now,
		VialsFrom: since,
		Items:     make([]Item, 0, len(meds)),
	}
	for _, med := range meds {
		item := Item{
			MedID:            med.ID,
			MedName:          med.Name,
			IsNarcotic:       med.IsNarcotic,
			TheoreticalStock: med.Stock,
			PhysicalStock:    med.Stock,
		}
		if med.IsNarcotic {
			expected := used[med.ID]
			item.ExpectedEmptyVials = &expected
		}
		draft.Items = append(draft.Items, item)
	}
	if err := s.drafts.Save(ctx, draft); err != nil {
		return Draft{}, fmt.Errorf("audit: save draft: %w", err)
	}
	s.deps.Logger.Info("audit started", slog.String("draft_id", draft.ID.String()),
		slog.String("actor", actor.ID), slog.Int("items", len(draft.Items)))
	return draft, nil
}

func (s *Service) vialsFrom(ctx context.Context, now time.Time) (time.Time, error) {
	last, ok, err := s.store.LastAuditAt(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("audit: last audit: %w", err)
	}
	if ok {
		return last, nil
	}
	return now.Add(-VialLookback), nil
}

// Draft loads a draft of actor.
func (s *Service) Draft(ctx context.Context, actor shared.Actor, id uuid.UUID) (Draft, error) {
	draft, err := s.drafts.Get(ctx, id)
	if err != nil {
		return Draft{}, err
	}
	if draft.UserID != actor.ID {
		return Draft{}, ErrNotDraftOwner
	}
	return draft, nil
}

// UpdateItem edits one row of a draft and stores it again.
func (s *Service) UpdateItem(ctx context.Context, actor shared.Actor, id, medID uuid.UUID, u ItemUpdate) (Item, error) {
	draft, err := s.Draft(ctx, actor, id)
	if err != nil {
		return Item{}, err
	}
	if err := draft.Apply(medID, u); err != nil {
		return Item{}, err
	}
	if err := s.drafts.Save(ctx, draft); err != nil {
		return Item{}, fmt.Errorf("audit: save draft: %w", err)
	}
	return draft.Items[draft.index(medID)], nil
}

// Discard drops a draft without recording anything.
func (s *Service) Discard(ctx context.Context, actor shared.Actor, id uuid.UUID) error {
	if _, err := s.Draft(ctx, actor, id); err != nil {
		return err
	}
	return s.drafts.Delete(ctx, id)
}

// Commit persists the draft as a read-only audit. Medication stock is left
// untouched.
func (s *Service) Commit(ctx context.Context, actor shared.Actor, id uuid.UUID) (Audit, error) {
	release := func() {}
	if s.deps.Locks != nil {
		var err error
		release, err = s.deps.Locks.Obtain(ctx, shared.AuditDraftLockKey(id.String()))
		if err != nil {
			s.observe("rejected")
			return Audit{}, err
		}
	}
	defer release()

	draft, err := s.Draft(ctx, actor, id)
	if err != nil {
		s.observe("rejected")
		return Audit{}, err
	}
	items := append([]Item(nil), draft.Items...)
	a := Audit{
		ID:        draft.ID,
		UserID:    draft.UserID,
		Status:    StatusCompleted,
		CreatedAt: s.deps.Now(),
		Summary:   Summarize(items),
		Items:     items,
	}
	if err := s.store.Insert(ctx, a); err != nil {
		s.observe("error")
		return Audit{}, fmt.Errorf("audit: save %s: %w", a.ID, err)
	}
	logger := s.deps.Logger.With(slog.String("audit_id", a.ID.String()))
	if err := s.drafts.Delete(ctx, id); err != nil {
		logger.Warn("delete committed draft", slog.Any("error", err))
	}
	if s.deps.AuditLog != nil {
		err := s.deps.AuditLog.Record(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Role:     actor.Role,
			Action:   "stock:" + opCommit,
			Entity:   "stock_audit",
			EntityID: a.ID.String(),
			Meta: map[string]any{
				"total_items":            a.TotalItems,
				"discrepancy_count":      a.DiscrepancyCount,
				"vial_discrepancy_count": a.VialDiscrepancyCount,
			},
		})
		if err != nil {
			logger.Warn("audit log", slog.Any("error", err))
		}
	}
	s.observe("ok")
	logger.Info("audit committed", slog.String("actor", actor.ID),
		slog.Int("discrepancies", a.DiscrepancyCount), slog.Int("vial_discrepancies", a.VialDiscrepancyCount))
	return a, nil
}

// List returns committed audits, newest first, without items.
func (s *Service) List(ctx context.Context, limit int) ([]Audit, error) {
	if limit <= 0 || limit > historySize {
		limit = historySize
	}
	return s.store.List(ctx, limit)
}

// Get returns one committed audit with its items.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Audit, error) {
	a, err := s.store.Get(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return Audit{}, ErrAuditNotFound
	}
	return a, err
}

func (s *Service) observe(result string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveWorkflow(opCommit, result)
	}
}
