package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anesthmed/anesthmed/internal/ledger"
	"github.com/anesthmed/anesthmed/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	// Transactional reports whether WithTx rolls back on error. When it
	// does not, interrupted batches surface as PartialApplicationError.
	Transactional() bool
	ListMedications(ctx context.Context) ([]ledger.Medication, error)
	GetMedication(ctx context.Context, id uuid.UUID) (ledger.Medication, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (ledger.Transaction, error)
	ListTransactions(ctx context.Context, filter ledger.Filter) ([]ledger.Transaction, error)
	Snapshot(ctx context.Context, filter ledger.Filter) ([]ledger.Medication, []ledger.Transaction, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort records pharmacist decisions.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// IdempotencyPort guards against replayed submissions.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// LockPort serialises work on one reception, incident or medication.
type LockPort interface {
	Obtain(ctx context.Context, key string) (func(), error)
}

// MetricsPort observes workflow results.
type MetricsPort interface {
	ObserveWorkflow(op, result string)
}

// Dependencies groups the optional collaborators of Service.
type Dependencies struct {
	Audit       AuditPort
	Approvals   ApprovalPort
	Idempotency IdempotencyPort
	Locks       LockPort
	Changes     ChangeHandler
	Metrics     MetricsPort
	Logger      *slog.Logger
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// Now overrides the clock. Defaults to time.Now in Location.
	Now      func() time.Time
	Location *time.Location
}

// Service coordinates the catalog and the stock workflow.
type Service struct {
	repo RepositoryPort
	deps Dependencies
	now  func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, deps Dependencies, cfg ServiceConfig) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		loc := cfg.Location
		if loc == nil {
			loc = time.UTC
		}
		now = func() time.Time { return time.Now().In(loc) }
	}
	return &Service{repo: repo, deps: deps, now: now}
}

// Now exposes the service clock to callers computing derived views.
func (s *Service) Now() time.Time {
	return s.now()
}

// ListMedications returns the catalog sorted by name.
func (s *Service) ListMedications(ctx context.Context) ([]ledger.Medication, error) {
	return s.repo.ListMedications(ctx)
}

// GetMedication loads one medication.
func (s *Service) GetMedication(ctx context.Context, id uuid.UUID) (ledger.Medication, error) {
	return s.repo.GetMedication(ctx, id)
}

// ListTransactions returns the ledger lines matching filter.
func (s *Service) ListTransactions(ctx context.Context, filter ledger.Filter) ([]ledger.Transaction, error) {
	return s.repo.ListTransactions(ctx, filter)
}

// Snapshot returns the catalog and the ledger lines matching filter as of
// one instant.
func (s *Service) Snapshot(ctx context.Context, filter ledger.Filter) ([]ledger.Medication, []ledger.Transaction, error) {
	return s.repo.Snapshot(ctx, filter)
}

// Outflows returns the validated OUT lines dated on or after from.
func (s *Service) Outflows(ctx context.Context, from time.Time) ([]ledger.Transaction, error) {
	return s.repo.ListTransactions(ctx, ledger.Filter{Type: ledger.TypeOut, Status: ledger.StatusValidated, From: from})
}

// CreateMedication adds a catalog entry. Opening stock is recorded as a
// validated IN line so stock stays equal to the ledger sum.
func (s *Service) CreateMedication(ctx context.Context, actor shared.Actor, in MedicationInput) (ledger.Medication, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return ledger.Medication{}, invalid("name", "medication name is required")
	}
	if in.Stock < 0 {
		return ledger.Medication{}, invalid("stock", "opening stock cannot be negative")
	}
	at := s.now()
	med := ledger.Medication{
		ID:         uuid.New(),
		Name:       name,
		Stock:      in.Stock,
		IsNarcotic: in.IsNarcotic,
		Expiry:     in.Expiry,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
	batchID := uuid.New()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertMedication(ctx, med); err != nil {
			return err
		}
		if med.Stock == 0 {
			return nil
		}
		return tx.InsertTransactions(ctx, []ledger.Transaction{{
			ID:        uuid.New(),
			MedID:     med.ID,
			MedName:   med.Name,
			Type:      ledger.TypeIn,
			Quantity:  med.Stock,
			Date:      at,
			Status:    ledger.StatusValidated,
			Category:  ledger.CategoryNormal,
			BatchID:   batchID,
			Details:   ledger.Details{Comment: "opening stock", ExpiryDate: med.Expiry},
			CreatedBy: actor.ID,
		}})
	})
	if err != nil {
		s.observe(OpMedicationCreate, "error")
		return ledger.Medication{}, fmt.Errorf("inventory: create medication: %w", err)
	}
	s.committed(ctx, actor, OpMedicationCreate, batchID, med.ID.String(), []uuid.UUID{med.ID}, map[string]any{
		"name":        med.Name,
		"is_narcotic": med.IsNarcotic,
		"stock":       med.Stock,
	}, nil)
	return med, nil
}

// UpdateMedication edits name, narcotic flag or expiry.
func (s *Service) UpdateMedication(ctx context.Context, actor shared.Actor, id uuid.UUID, patch MedicationPatch) (ledger.Medication, error) {
	var med ledger.Medication
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetMedicationForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" {
				return invalid("name", "medication name cannot be empty")
			}
			current.Name = name
		}
		if patch.IsNarcotic != nil {
			current.IsNarcotic = *patch.IsNarcotic
		}
		switch {
		case patch.ClearExpiry:
			current.Expiry = nil
		case patch.Expiry != nil:
			current.Expiry = patch.Expiry
		}
		current.UpdatedAt = s.now()
		med = current
		return tx.UpdateMedication(ctx, current)
	})
	if err != nil {
		s.observe(OpMedicationUpdate, "error")
		return ledger.Medication{}, err
	}
	s.committed(ctx, actor, OpMedicationUpdate, uuid.Nil, id.String(), []uuid.UUID{id}, map[string]any{"name": med.Name}, nil)
	return med, nil
}

// AddStockBatch records a delivery as PENDING IN lines sharing one batch id.
// Stock is untouched until a pharmacist validates the reception.
func (s *Service) AddStockBatch(ctx context.Context, actor shared.Actor, req ReceptionRequest) (uuid.UUID, error) {
	meds, err := s.repo.ListMedications(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	batchID := uuid.New()
	lines, err := PlanNewReception(ledger.Index(meds), req.Items, req.Details, batchID, s.now(), actor.ID)
	if err != nil {
		s.observe(OpReceptionCreate, "rejected")
		return uuid.Nil, err
	}
	release, err := s.claim(ctx, req.IdempotencyKey, OpReceptionCreate)
	if err != nil {
		return uuid.Nil, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertTransactions(ctx, lines)
	})
	if err != nil {
		release()
		s.observe(OpReceptionCreate, "error")
		return uuid.Nil, fmt.Errorf("inventory: record reception: %w", err)
	}
	s.committed(ctx, actor, OpReceptionCreate, batchID, batchID.String(), nil, map[string]any{
		"lines":    len(lines),
		"supplier": req.Details.Supplier,
	}, &shared.ApprovalLog{Module: shared.ApprovalModuleReception, RefID: batchID, Action: shared.ApprovalSubmit})
	return batchID, nil
}

// ValidateReception credits stock for every PENDING line of the batch and
// marks them VALIDATED. A batch with no pending line left is a no-op.
func (s *Service) ValidateReception(ctx context.Context, actor shared.Actor, batchID uuid.UUID) (Outcome, error) {
	release, err := s.lock(ctx, shared.ReceptionLockKey(batchID.String()))
	if err != nil {
		return Outcome{}, err
	}
	defer release()
	lines, err := s.repo.ListTransactions(ctx, ledger.Filter{BatchID: batchID, Status: ledger.StatusPending})
	if err != nil {
		return Outcome{}, err
	}
	unlock, err := s.lockStock(ctx, medIDs(lines))
	if err != nil {
		s.observe(OpReceptionValidate, "rejected")
		return Outcome{}, err
	}
	defer unlock()

	at := s.now()
	out := Outcome{BatchID: batchID, Status: ledger.StatusValidated}
	var (
		plan ReceptionPlan
		p    progress
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pending, status, err := pendingReception(ctx, tx, batchID)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			out.NoOp, out.Status = true, status
			return nil
		}
		plan, err = PlanReception(batchID, pending)
		if err != nil {
			return err
		}
		out.Lines = len(plan.TxIDs)
		out.Stock, err = applyReception(ctx, tx, plan, at, actor.ID, &p)
		return err
	})
	if err != nil {
		return Outcome{}, s.fail(OpReceptionValidate, batchID, &p, plan.Writes(), err)
	}
	if out.NoOp {
		s.observe(OpReceptionValidate, "noop")
		return out, nil
	}
	s.committed(ctx, actor, OpReceptionValidate, batchID, batchID.String(), plan.Order, map[string]any{
		"lines": out.Lines,
	}, &shared.ApprovalLog{Module: shared.ApprovalModuleReception, RefID: batchID, Action: shared.ApprovalApprove})
	return out, nil
}

// InvalidateReception marks every PENDING line of the batch REJECTED. Stock
// is untouched and the lines stay in the ledger.
func (s *Service) InvalidateReception(ctx context.Context, actor shared.Actor, batchID uuid.UUID, reason string) (Outcome, error) {
	release, err := s.lock(ctx, shared.ReceptionLockKey(batchID.String()))
	if err != nil {
		return Outcome{}, err
	}
	defer release()

	out := Outcome{BatchID: batchID, Status: ledger.StatusRejected}
	var p progress
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pending, status, err := pendingReception(ctx, tx, batchID)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			out.NoOp, out.Status = true, status
			return nil
		}
		ids := make([]uuid.UUID, len(pending))
		for i, t := range pending {
			ids[i] = t.ID
		}
		n, err := tx.UpdateStatus(ctx, ids, ledger.StatusRejected, StatusChange{By: actor.ID, At: s.now(), Note: strings.TrimSpace(reason)})
		if err != nil {
			return err
		}
		if int(n) != len(ids) {
			return ErrStatusChanged
		}
		p.applied++
		out.Lines = len(ids)
		return nil
	})
	if err != nil {
		return Outcome{}, s.fail(OpReceptionReject, batchID, &p, 1, err)
	}
	if out.NoOp {
		s.observe(OpReceptionReject, "noop")
		return out, nil
	}
	s.committed(ctx, actor, OpReceptionReject, batchID, batchID.String(), nil, map[string]any{
		"lines":  out.Lines,
		"reason": reason,
	}, &shared.ApprovalLog{Module: shared.ApprovalModuleReception, RefID: batchID, Action: shared.ApprovalReject, Note: reason})
	return out, nil
}

// pendingReception loads the batch and returns its pending lines together
// with the status the batch settled in.
func pendingReception(ctx context.Context, tx TxRepository, batchID uuid.UUID) ([]ledger.Transaction, ledger.Status, error) {
	rows, err := tx.TransactionsByBatch(ctx, batchID)
	if err != nil {
		return nil, "", err
	}
	if len(rows) == 0 {
		return nil, "", ErrReceptionNotFound
	}
	pending := make([]ledger.Transaction, 0, len(rows))
	for _, t := range rows {
		if t.Type != ledger.TypeIn || t.Category != ledger.CategoryNormal {
			return nil, "", invalid("batchId", "batch %s is not a reception", batchID)
		}
		if t.Status == ledger.StatusPending {
			pending = append(pending, t)
		}
	}
	return pending, rows[0].Status, nil
}

// RemoveStockBatch debits stock for an intervention. Every line is checked
// against the running stock before anything is written; one failing line
// rejects the batch.
func (s *Service) RemoveStockBatch(ctx context.Context, actor shared.Actor, req ExitRequest) (Outcome, error) {
	meds, err := s.repo.ListMedications(ctx)
	if err != nil {
		return Outcome{}, err
	}
	batchID := uuid.New()
	at := s.now()
	plan, err := PlanExit(ledger.Index(meds), req.Items, req.Patient, batchID, at, actor.ID)
	if err != nil {
		s.observe(OpExitCreate, "rejected")
		return Outcome{}, err
	}
	release, err := s.claim(ctx, req.IdempotencyKey, OpExitCreate)
	if err != nil {
		return Outcome{}, err
	}
	unlock, err := s.lockStock(ctx, plan.Order)
	if err != nil {
		release()
		s.observe(OpExitCreate, "rejected")
		return Outcome{}, err
	}
	defer unlock()
	out := Outcome{BatchID: batchID, Status: ledger.StatusValidated, Lines: len(plan.Lines)}
	var p progress
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		stock, err := applyExit(ctx, tx, plan, at, &p)
		out.Stock = stock
		return err
	})
	if err != nil {
		if p.applied == 0 || s.repo.Transactional() {
			release()
		}
		return Outcome{}, s.fail(OpExitCreate, batchID, &p, plan.Writes(), err)
	}
	s.committed(ctx, actor, OpExitCreate, batchID, batchID.String(), plan.Order, map[string]any{
		"lines":        out.Lines,
		"intervention": req.Patient.Intervention,
	}, nil)
	return out, nil
}

// ReportIncident records a PENDING incident. Stock moves only once a
// pharmacist validates it.
func (s *Service) ReportIncident(ctx context.Context, actor shared.Actor, in IncidentInput) (ledger.Transaction, error) {
	if in.Quantity <= 0 {
		return ledger.Transaction{}, invalid("quantity", "incident quantity must be greater than zero")
	}
	switch in.Reason {
	case ledger.ReasonBreakage, ledger.ReasonExpiry, ledger.ReasonLoss, ledger.ReasonOther:
	default:
		return ledger.Transaction{}, invalid("reason", "unknown incident reason %q", in.Reason)
	}
	med, err := s.repo.GetMedication(ctx, in.MedID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	t := ledger.Transaction{
		ID:        uuid.New(),
		MedID:     med.ID,
		MedName:   med.Name,
		Type:      ledger.TypeOut,
		Quantity:  in.Quantity,
		Date:      s.now(),
		Status:    ledger.StatusPending,
		Category:  ledger.CategoryIncident,
		BatchID:   uuid.New(),
		Details:   ledger.Details{Reason: in.Reason, Comment: strings.TrimSpace(in.Comment)},
		CreatedBy: actor.ID,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertTransactions(ctx, []ledger.Transaction{t})
	})
	if err != nil {
		s.observe(OpIncidentReport, "error")
		return ledger.Transaction{}, fmt.Errorf("inventory: record incident: %w", err)
	}
	s.committed(ctx, actor, OpIncidentReport, t.BatchID, t.ID.String(), nil, map[string]any{
		"med_id":   med.ID.String(),
		"quantity": t.Quantity,
		"reason":   string(t.Details.Reason),
	}, &shared.ApprovalLog{Module: shared.ApprovalModuleIncident, RefID: t.ID, Action: shared.ApprovalSubmit})
	return t, nil
}

// ValidateIncident resolves a pending incident. VALIDATE debits stock and is
// refused when stock would go negative. Resolving an already settled
// incident is a no-op.
func (s *Service) ValidateIncident(ctx context.Context, actor shared.Actor, txID uuid.UUID, action Resolution, note string) (Outcome, error) {
	if action != ResolveValidate && action != ResolveReject {
		return Outcome{}, invalid("action", "unknown incident action %q", action)
	}
	release, err := s.lock(ctx, shared.IncidentLockKey(txID.String()))
	if err != nil {
		return Outcome{}, err
	}
	defer release()
	current, err := s.repo.GetTransaction(ctx, txID)
	if err != nil {
		return Outcome{}, err
	}
	var debited []uuid.UUID
	if action == ResolveValidate && current.Status == ledger.StatusPending {
		debited = []uuid.UUID{current.MedID}
	}
	unlock, err := s.lockStock(ctx, debited)
	if err != nil {
		s.observe(OpIncidentResolve, "rejected")
		return Outcome{}, err
	}
	defer unlock()

	change := StatusChange{By: actor.ID, At: s.now(), Note: strings.TrimSpace(note)}
	var (
		out  Outcome
		plan IncidentPlan
		p    progress
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.GetTransactionForUpdate(ctx, txID)
		if err != nil {
			return err
		}
		out = Outcome{BatchID: t.BatchID, Status: t.Status, Lines: 1}
		if t.Category != ledger.CategoryIncident {
			return invalid("id", "transaction %s is not an incident", t.ID)
		}
		if t.Status.Terminal() {
			out.NoOp = true
			return nil
		}
		med, err := tx.GetMedicationForUpdate(ctx, t.MedID)
		if err != nil {
			return err
		}
		plan, err = PlanIncident(t, med, action)
		if err != nil {
			return err
		}
		if err := applyIncident(ctx, tx, plan, change, med.Expiry, &p); err != nil {
			return err
		}
		out.Status = plan.Target
		out.Stock = map[uuid.UUID]int{med.ID: plan.NewStock}
		return nil
	})
	if err != nil {
		total := 1
		if plan.Debits() {
			total = 2
		}
		return Outcome{}, s.fail(OpIncidentResolve, txID, &p, total, err)
	}
	if out.NoOp {
		s.observe(OpIncidentResolve, "noop")
		return out, nil
	}
	approval := shared.ApprovalApprove
	if plan.Target == ledger.StatusRejected {
		approval = shared.ApprovalReject
	}
	var touched []uuid.UUID
	if plan.Debits() {
		touched = []uuid.UUID{plan.Tx.MedID}
	}
	s.committed(ctx, actor, OpIncidentResolve, plan.Tx.BatchID, txID.String(), touched, map[string]any{
		"action":   string(action),
		"med_id":   plan.Tx.MedID.String(),
		"quantity": plan.Tx.Quantity,
	}, &shared.ApprovalLog{Module: shared.ApprovalModuleIncident, RefID: txID, Action: approval, Note: change.Note})
	return out, nil
}

// PendingReceptions lists deliveries awaiting validation, oldest first.
func (s *Service) PendingReceptions(ctx context.Context) ([]PendingReception, error) {
	txs, err := s.repo.ListTransactions(ctx, ledger.Filter{Type: ledger.TypeIn, Status: ledger.StatusPending})
	if err != nil {
		return nil, err
	}
	byBatch := map[uuid.UUID]*PendingReception{}
	var out []*PendingReception
	for _, t := range txs {
		r, ok := byBatch[t.BatchID]
		if !ok {
			r = &PendingReception{BatchID: t.BatchID, Date: t.Date, Supplier: t.Details.Supplier, CreatedBy: t.CreatedBy}
			byBatch[t.BatchID] = r
			out = append(out, r)
		}
		if t.Date.Before(r.Date) {
			r.Date = t.Date
		}
		r.Lines = append(r.Lines, t)
	}
	result := make([]PendingReception, 0, len(out))
	for _, r := range out {
		slices.SortFunc(r.Lines, func(a, b ledger.Transaction) int { return strings.Compare(a.MedName, b.MedName) })
		result = append(result, *r)
	}
	slices.SortStableFunc(result, func(a, b PendingReception) int { return a.Date.Compare(b.Date) })
	return result, nil
}

// PendingIncidents lists incidents awaiting a decision, oldest first.
func (s *Service) PendingIncidents(ctx context.Context) ([]ledger.Transaction, error) {
	txs, err := s.repo.ListTransactions(ctx, ledger.Filter{Category: ledger.CategoryIncident, Status: ledger.StatusPending})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(txs, func(a, b ledger.Transaction) int { return a.Date.Compare(b.Date) })
	return txs, nil
}

// ExitHistory returns the most recent exit batches, newest first.
func (s *Service) ExitHistory(ctx context.Context, limit int) ([]ExitBatch, error) {
	if limit <= 0 || limit > ExitHistoryLimit {
		limit = ExitHistoryLimit
	}
	txs, err := s.repo.ListTransactions(ctx, ledger.Filter{Type: ledger.TypeOut, Category: ledger.CategoryNormal})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(txs, func(a, b ledger.Transaction) int { return b.Date.Compare(a.Date) })
	byBatch := map[uuid.UUID]int{}
	var out []ExitBatch
	for _, t := range txs {
		idx, ok := byBatch[t.BatchID]
		if !ok {
			if len(out) == limit {
				continue
			}
			idx = len(out)
			byBatch[t.BatchID] = idx
			out = append(out, ExitBatch{
				BatchID: t.BatchID,
				Date:    t.Date,
				Patient: Patient{
					Initials:       t.Details.PatientInitials,
					Age:            t.Details.PatientAge,
					Intervention:   t.Details.Intervention,
					InterventionAt: t.Details.InterventionAt,
				},
			})
		}
		out[idx].Lines = append(out[idx].Lines, t)
	}
	return out, nil
}

// ApprovalTrail lists the submit and review decisions of one reception
// batch or incident, oldest first.
func (s *Service) ApprovalTrail(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error) {
	if s.deps.Approvals == nil {
		return []shared.ApprovalLog{}, nil
	}
	logs, err := s.deps.Approvals.List(ctx, module, ref)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []shared.ApprovalLog{}
	}
	return logs, nil
}

// VerifyLedger compares every cached stock with the sum of its validated
// ledger lines. Mismatches are logged and returned as warnings.
func (s *Service) VerifyLedger(ctx context.Context) ([]ConsistencyWarning, error) {
	meds, err := s.repo.ListMedications(ctx)
	if err != nil {
		return nil, err
	}
	txs, err := s.repo.ListTransactions(ctx, ledger.Filter{Status: ledger.StatusValidated})
	if err != nil {
		return nil, err
	}
	sums := ledger.Recompute(txs)
	var warnings []ConsistencyWarning
	for _, m := range meds {
		if expected := sums[m.ID]; expected != m.Stock {
			w := ConsistencyWarning{MedID: m.ID, MedName: m.Name, Expected: expected, Actual: m.Stock}
			s.deps.Logger.Warn("ledger consistency", slog.String("med_id", m.ID.String()),
				slog.Int("expected", expected), slog.Int("actual", m.Stock), slog.String("detail", w.String()))
			warnings = append(warnings, w)
		}
	}
	return warnings, nil
}

func (s *Service) lock(ctx context.Context, key string) (func(), error) {
	if s.deps.Locks == nil {
		return func() {}, nil
	}
	return s.deps.Locks.Obtain(ctx, key)
}

// lockStock obtains the lock of every medication in key order so two
// batches sharing medications cannot wait on each other.
func (s *Service) lockStock(ctx context.Context, ids []uuid.UUID) (func(), error) {
	if s.deps.Locks == nil || len(ids) == 0 {
		return func() {}, nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, shared.MedicationLockKey(id.String()))
	}
	slices.Sort(keys)
	keys = slices.Compact(keys)
	releases := make([]func(), 0, len(keys))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, key := range keys {
		release, err := s.deps.Locks.Obtain(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

func medIDs(txs []ledger.Transaction) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(txs))
	for _, t := range txs {
		ids = append(ids, t.MedID)
	}
	return ids
}

// claim reserves an idempotency key and returns the function undoing it.
func (s *Service) claim(ctx context.Context, key, module string) (func(), error) {
	if s.deps.Idempotency == nil || key == "" {
		return func() {}, nil
	}
	if err := s.deps.Idempotency.CheckAndInsert(ctx, key, module); err != nil {
		return nil, err
	}
	return func() { _ = s.deps.Idempotency.Delete(ctx, key) }, nil
}

// fail classifies an error raised inside a workflow transaction.
func (s *Service) fail(op string, ref uuid.UUID, p *progress, total int, err error) error {
	if shared.IsRetryableTxError(err) && (p.applied == 0 || s.repo.Transactional()) {
		s.observe(op, "conflict")
		s.deps.Logger.Warn("concurrent stock update", slog.String("op", op), slog.String("ref", ref.String()), slog.Any("error", err))
		return fmt.Errorf("%s %s: %w", op, ref, ErrConcurrentStock)
	}
	if p.applied == 0 {
		if isValidation(err) || errors.Is(err, shared.ErrNotFound) || errors.Is(err, shared.ErrConflict) {
			s.observe(op, "rejected")
			return err
		}
		s.observe(op, "error")
		return fmt.Errorf("inventory: %s %s: %w", op, ref, err)
	}
	if s.repo.Transactional() {
		s.observe(op, "error")
		return fmt.Errorf("inventory: %s %s rolled back: %w", op, ref, err)
	}
	s.observe(op, "partial")
	perr := &PartialApplicationError{Op: op, BatchID: ref, Applied: p.applied, Total: total, Cause: err}
	s.deps.Logger.Error("batch partially applied", slog.String("op", op), slog.String("ref", ref.String()),
		slog.Int("applied", p.applied), slog.Int("total", total), slog.Any("error", err))
	return perr
}

func (s *Service) observe(op, result string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveWorkflow(op, result)
	}
}

// committed runs the post-commit side effects. Their failures are logged
// and never undo the committed write.
func (s *Service) committed(ctx context.Context, actor shared.Actor, op string, batchID uuid.UUID, entityID string, touched []uuid.UUID, meta map[string]any, approval *shared.ApprovalLog) {
	s.observe(op, "ok")
	logger := s.deps.Logger.With(slog.String("op", op), slog.String("entity_id", entityID))
	if s.deps.Audit != nil {
		err := s.deps.Audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Role:     actor.Role,
			Action:   "stock:" + op,
			Entity:   entityOf(op),
			EntityID: entityID,
			Meta:     meta,
		})
		if err != nil {
			logger.Warn("audit log", slog.Any("error", err))
		}
	}
	if approval != nil && s.deps.Approvals != nil {
		approval.ActorID = actor.ID
		if err := s.deps.Approvals.Record(ctx, *approval); err != nil {
			logger.Warn("approval log", slog.Any("error", err))
		}
	}
	if s.deps.Changes != nil {
		evt := StockChangedEvent{Op: op, BatchID: batchID, MedIDs: touched, At: s.now()}
		if err := s.deps.Changes.HandleStockChanged(ctx, evt); err != nil {
			logger.Warn("stock change handler", slog.Any("error", err))
		}
	}
	logger.Info("stock workflow", slog.String("actor", actor.ID), slog.String("batch_id", batchID.String()))
}

func entityOf(op string) string {
	switch {
	case strings.HasPrefix(op, "medication."):
		return "medication"
	case strings.HasPrefix(op, "incident."):
		return "stock_incident"
	case strings.HasPrefix(op, "exit."):
		return "stock_exit"
	default:
		return "stock_reception"
	}
}
