package inventory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anesthmed/anesthmed/internal/ledger"
)

// Plans are computed without side effects. Apply functions take the plan,
// re-read every medication they touch with FOR UPDATE, re-validate, and only
// then write. A write failure inside apply is reported by the service as a
// rollback or as a PartialApplicationError depending on the store.

// ReceptionPlan credits the medications of one pending delivery.
type ReceptionPlan struct {
	BatchID uuid.UUID
	TxIDs   []uuid.UUID
	Order   []uuid.UUID
	Credits map[uuid.UUID]int
	Expiry  map[uuid.UUID]time.Time
}

// Writes is the number of store writes the plan performs.
func (p ReceptionPlan) Writes() int {
	return len(p.Order) + 1
}

// PlanNewReception builds the PENDING lines of a delivery. All lines share
// batchID and at; medication names are snapshotted.
func PlanNewReception(meds map[uuid.UUID]ledger.Medication, items []ReceptionLine, details ReceptionDetails, batchID uuid.UUID, at time.Time, createdBy string) ([]ledger.Transaction, error) {
	if len(items) == 0 {
		return nil, invalid("items", "a reception needs at least one line")
	}
	lines := make([]ledger.Transaction, 0, len(items))
	for i, item := range items {
		if item.Quantity <= 0 {
			return nil, invalid(fmt.Sprintf("items[%d].quantity", i), "line %d: quantity must be greater than zero", i+1)
		}
		med, ok := meds[item.MedID]
		if !ok {
			return nil, fmt.Errorf("line %d: %w", i+1, ErrMedicationNotFound)
		}
		lines = append(lines, ledger.Transaction{
			ID:       uuid.New(),
			MedID:    med.ID,
			MedName:  med.Name,
			Type:     ledger.TypeIn,
			Quantity: item.Quantity,
			Date:     at,
			Status:   ledger.StatusPending,
			Category: ledger.CategoryNormal,
			BatchID:  batchID,
			Details: ledger.Details{
				ExpiryDate:   item.ExpiryDate,
				Supplier:     strings.TrimSpace(details.Supplier),
				DeliveryNote: strings.TrimSpace(details.DeliveryNote),
				Comment:      strings.TrimSpace(details.Comment),
			},
			CreatedBy: createdBy,
		})
	}
	return lines, nil
}

// PlanReception aggregates the pending IN lines of a batch. When several
// lines carry an expiry for the same medication the last one wins.
func PlanReception(batchID uuid.UUID, pending []ledger.Transaction) (ReceptionPlan, error) {
	plan := ReceptionPlan{
		BatchID: batchID,
		Credits: make(map[uuid.UUID]int),
		Expiry:  make(map[uuid.UUID]time.Time),
	}
	for _, t := range pending {
		if t.BatchID != batchID || t.Type != ledger.TypeIn || t.Status != ledger.StatusPending {
			return ReceptionPlan{}, invalid("batchId", "transaction %s is not a pending reception line of %s", t.ID, batchID)
		}
		if t.Quantity <= 0 {
			return ReceptionPlan{}, invalid("quantity", "transaction %s has a non positive quantity", t.ID)
		}
		if _, seen := plan.Credits[t.MedID]; !seen {
			plan.Order = append(plan.Order, t.MedID)
		}
		plan.Credits[t.MedID] += t.Quantity
		if t.Details.ExpiryDate != nil {
			plan.Expiry[t.MedID] = *t.Details.ExpiryDate
		}
		plan.TxIDs = append(plan.TxIDs, t.ID)
	}
	return plan, nil
}

// ExitPlan debits the medications of one intervention.
type ExitPlan struct {
	BatchID uuid.UUID
	Lines   []ledger.Transaction
	Order   []uuid.UUID
	Debits  map[uuid.UUID]int
}

// Writes is the number of store writes the plan performs.
func (p ExitPlan) Writes() int {
	return len(p.Order) + 1
}

// PlanExit validates every line against the running stock left by the
// previous lines, so two lines cannot spend the same units. Any failing line
// rejects the whole batch.
func PlanExit(meds map[uuid.UUID]ledger.Medication, items []ExitLine, patient Patient, batchID uuid.UUID, at time.Time, createdBy string) (ExitPlan, error) {
	initials := strings.TrimSpace(patient.Initials)
	if initials == "" {
		return ExitPlan{}, invalid("patientInitials", "patient initials are required for a stock exit")
	}
	if len(items) == 0 {
		return ExitPlan{}, invalid("items", "a stock exit needs at least one line")
	}
	plan := ExitPlan{BatchID: batchID, Debits: make(map[uuid.UUID]int)}
	remaining := make(map[uuid.UUID]int)
	for i, item := range items {
		if item.Quantity <= 0 {
			return ExitPlan{}, invalid(fmt.Sprintf("items[%d].quantity", i), "line %d: quantity must be greater than zero", i+1)
		}
		med, ok := meds[item.MedID]
		if !ok {
			return ExitPlan{}, fmt.Errorf("line %d: %w", i+1, ErrMedicationNotFound)
		}
		left, seen := remaining[med.ID]
		if !seen {
			left = med.Stock
			plan.Order = append(plan.Order, med.ID)
		}
		if left < item.Quantity {
			return ExitPlan{}, insufficient(med, item.Quantity, left)
		}
		remaining[med.ID] = left - item.Quantity
		plan.Debits[med.ID] += item.Quantity
		plan.Lines = append(plan.Lines, ledger.Transaction{
			ID:       uuid.New(),
			MedID:    med.ID,
			MedName:  med.Name,
			Type:     ledger.TypeOut,
			Quantity: item.Quantity,
			Date:     at,
			Status:   ledger.StatusValidated,
			Category: ledger.CategoryNormal,
			BatchID:  batchID,
			Details: ledger.Details{
				PatientInitials: initials,
				PatientAge:      patient.Age,
				Intervention:    strings.TrimSpace(patient.Intervention),
				InterventionAt:  patient.InterventionAt,
			},
			CreatedBy: createdBy,
		})
	}
	return plan, nil
}

// IncidentPlan resolves one pending incident.
type IncidentPlan struct {
	Tx       ledger.Transaction
	Target   ledger.Status
	NewStock int
}

// Debits reports whether applying the plan touches stock.
func (p IncidentPlan) Debits() bool {
	return p.Target == ledger.StatusValidated
}

// PlanIncident decides the transition of a pending incident. Validating an
// incident never drives stock below zero.
func PlanIncident(t ledger.Transaction, med ledger.Medication, action Resolution) (IncidentPlan, error) {
	if t.Category != ledger.CategoryIncident || t.Type != ledger.TypeOut {
		return IncidentPlan{}, invalid("id", "transaction %s is not an incident", t.ID)
	}
	if t.Status != ledger.StatusPending {
		return IncidentPlan{}, invalid("id", "incident %s is already %s", t.ID, t.Status)
	}
	switch action {
	case ResolveReject:
		return IncidentPlan{Tx: t, Target: ledger.StatusRejected, NewStock: med.Stock}, nil
	case ResolveValidate:
		if med.Stock < t.Quantity {
			return IncidentPlan{}, insufficient(med, t.Quantity, med.Stock)
		}
		return IncidentPlan{Tx: t, Target: ledger.StatusValidated, NewStock: med.Stock - t.Quantity}, nil
	default:
		return IncidentPlan{}, invalid("action", "unknown incident action %q", action)
	}
}

// progress counts the writes an apply function has issued.
type progress struct {
	applied int
}

// lockMedications reads every id with FOR UPDATE before anything is written.
// Ids are locked in a stable order so concurrent batches cannot deadlock.
func lockMedications(ctx context.Context, tx TxRepository, ids []uuid.UUID) (map[uuid.UUID]ledger.Medication, error) {
	sorted := slices.Clone(ids)
	slices.SortFunc(sorted, func(a, b uuid.UUID) int { return strings.Compare(a.String(), b.String()) })
	fresh := make(map[uuid.UUID]ledger.Medication, len(sorted))
	for _, id := range sorted {
		med, err := tx.GetMedicationForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		fresh[id] = med
	}
	return fresh, nil
}

func applyReception(ctx context.Context, tx TxRepository, plan ReceptionPlan, at time.Time, actor string, p *progress) (map[uuid.UUID]int, error) {
	fresh, err := lockMedications(ctx, tx, plan.Order)
	if err != nil {
		return nil, err
	}
	stock := make(map[uuid.UUID]int, len(plan.Order))
	for _, id := range plan.Order {
		med := fresh[id]
		expiry := med.Expiry
		if e, ok := plan.Expiry[id]; ok {
			expiry = &e
		}
		newStock := med.Stock + plan.Credits[id]
		if err := tx.SetStock(ctx, id, newStock, expiry, at); err != nil {
			return nil, err
		}
		p.applied++
		stock[id] = newStock
	}
	n, err := tx.UpdateStatus(ctx, plan.TxIDs, ledger.StatusValidated, StatusChange{By: actor, At: at})
	if err != nil {
		return nil, err
	}
	if int(n) != len(plan.TxIDs) {
		return nil, ErrStatusChanged
	}
	p.applied++
	return stock, nil
}

func applyExit(ctx context.Context, tx TxRepository, plan ExitPlan, at time.Time, p *progress) (map[uuid.UUID]int, error) {
	fresh, err := lockMedications(ctx, tx, plan.Order)
	if err != nil {
		return nil, err
	}
	for _, id := range plan.Order {
		if med := fresh[id]; med.Stock < plan.Debits[id] {
			return nil, insufficient(med, plan.Debits[id], med.Stock)
		}
	}
	if err := tx.InsertTransactions(ctx, plan.Lines); err != nil {
		return nil, err
	}
	p.applied++
	stock := make(map[uuid.UUID]int, len(plan.Order))
	for _, id := range plan.Order {
		med := fresh[id]
		newStock := med.Stock - plan.Debits[id]
		if err := tx.SetStock(ctx, id, newStock, med.Expiry, at); err != nil {
			return nil, err
		}
		p.applied++
		stock[id] = newStock
	}
	return stock, nil
}

func applyIncident(ctx context.Context, tx TxRepository, plan IncidentPlan, change StatusChange, expiry *time.Time, p *progress) error {
	if plan.Debits() {
		if err := tx.SetStock(ctx, plan.Tx.MedID, plan.NewStock, expiry, change.At); err != nil {
			return err
		}
		p.applied++
	}
	n, err := tx.UpdateStatus(ctx, []uuid.UUID{plan.Tx.ID}, plan.Target, change)
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrStatusChanged
	}
	p.applied++
	return nil
}

// isValidation reports whether err was raised before any write.
func isValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
