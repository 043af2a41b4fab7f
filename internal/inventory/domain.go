package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/anesthmed/anesthmed/internal/ledger"
	"github.com/anesthmed/anesthmed/internal/shared"
)

// ReceptionLine is one delivered item awaiting pharmacist validation.
type ReceptionLine struct {
	MedID      uuid.UUID  `json:"medId" validate:"required"`
	Quantity   int        `json:"quantity" validate:"gt=0"`
	ExpiryDate *time.Time `json:"expiryDate,omitempty"`
}

// ReceptionDetails describes the delivery as a whole.
type ReceptionDetails struct {
	Supplier     string `json:"supplier,omitempty" validate:"max=200"`
	DeliveryNote string `json:"deliveryNote,omitempty" validate:"max=200"`
	Comment      string `json:"comment,omitempty" validate:"max=1000"`
}

// ExitLine is one medication administered during an intervention.
type ExitLine struct {
	MedID    uuid.UUID `json:"medId" validate:"required"`
	Quantity int       `json:"quantity" validate:"gt=0"`
}

// Patient identifies the intervention an exit batch belongs to.
type Patient struct {
	Initials       string     `json:"patientInitials" validate:"max=10"`
	Age            int        `json:"patientAge,omitempty" validate:"gte=0,lte=130"`
	Intervention   string     `json:"intervention,omitempty" validate:"max=200"`
	InterventionAt *time.Time `json:"interventionAt,omitempty"`
}

// IncidentInput reports a loss awaiting pharmacist decision.
type IncidentInput struct {
	MedID    uuid.UUID             `json:"medId" validate:"required"`
	Quantity int                   `json:"quantity" validate:"gt=0"`
	Reason   ledger.IncidentReason `json:"reason" validate:"required,oneof=BREAKAGE EXPIRY LOSS OTHER"`
	Comment  string                `json:"comment,omitempty" validate:"max=1000"`
}

// Resolution is the pharmacist decision on an incident.
type Resolution string

const (
	ResolveValidate Resolution = "VALIDATE"
	ResolveReject   Resolution = "REJECT"
)

// MedicationInput creates a catalog entry.
type MedicationInput struct {
	Name       string     `json:"name" validate:"required,max=200"`
	IsNarcotic bool       `json:"isNarcotic"`
	Expiry     *time.Time `json:"expiry,omitempty"`
	Stock      int        `json:"stock" validate:"gte=0"`
}

// MedicationPatch edits catalog metadata. Stock is never edited directly.
type MedicationPatch struct {
	Name        *string    `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	IsNarcotic  *bool      `json:"isNarcotic,omitempty"`
	Expiry      *time.Time `json:"expiry,omitempty"`
	ClearExpiry bool       `json:"clearExpiry,omitempty"`
}

// Outcome reports the effect of a workflow transition.
type Outcome struct {
	BatchID uuid.UUID         `json:"batchId"`
	Status  ledger.Status     `json:"status"`
	Lines   int               `json:"lines"`
	NoOp    bool              `json:"noOp"`
	Stock   map[uuid.UUID]int `json:"stock,omitempty"`
}

// PendingReception groups the pending lines of one delivery.
type PendingReception struct {
	BatchID   uuid.UUID            `json:"batchId"`
	Date      time.Time            `json:"date"`
	Supplier  string               `json:"supplier,omitempty"`
	CreatedBy string               `json:"createdBy,omitempty"`
	Lines     []ledger.Transaction `json:"lines"`
}

// ExitBatch groups the lines of one intervention.
type ExitBatch struct {
	BatchID uuid.UUID            `json:"batchId"`
	Date    time.Time            `json:"date"`
	Patient Patient              `json:"patient"`
	Lines   []ledger.Transaction `json:"lines"`
}

// ExitHistoryLimit bounds the exit history listing.
const ExitHistoryLimit = 20

var (
	// ErrMedicationNotFound indicates an unknown catalog id.
	ErrMedicationNotFound = fmt.Errorf("inventory: medication %w", shared.ErrNotFound)
	// ErrReceptionNotFound indicates no transaction carries the batch id.
	ErrReceptionNotFound = fmt.Errorf("inventory: reception %w", shared.ErrNotFound)
	// ErrTransactionNotFound indicates an unknown transaction id.
	ErrTransactionNotFound = fmt.Errorf("inventory: transaction %w", shared.ErrNotFound)
	// ErrStatusChanged indicates a concurrent transition on the same lines.
	ErrStatusChanged = fmt.Errorf("inventory: transaction status changed concurrently: %w", shared.ErrConflict)
	// ErrConcurrentStock indicates the store aborted the transaction because
	// another write touched the same rows. Nothing was applied.
	ErrConcurrentStock = fmt.Errorf("stock changed concurrently and nothing was applied, retry: %w", shared.ErrConflict)
)

// ValidationError rejects a whole operation before any write.
type ValidationError struct {
	Field  string
	MedID  uuid.UUID
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Unwrap ties ValidationError to the shared validation sentinel.
func (e *ValidationError) Unwrap() error {
	return shared.ErrValidation
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func insufficient(med ledger.Medication, required, available int) *ValidationError {
	return &ValidationError{
		Field:  "quantity",
		MedID:  med.ID,
		Reason: fmt.Sprintf("insufficient stock for %s: required %d, available %d", med.Name, required, available),
	}
}

// PartialApplicationError reports a batch interrupted after some writes
// reached a store that cannot roll them back. The operator must reconcile.
type PartialApplicationError struct {
	Op      string
	BatchID uuid.UUID
	Applied int
	Total   int
	Cause   error
}

func (e *PartialApplicationError) Error() string {
	return fmt.Sprintf("%s %s stopped after %d of %d writes and needs manual reconciliation: %v",
		e.Op, e.BatchID, e.Applied, e.Total, e.Cause)
}

// Unwrap exposes both the partial-application sentinel and the cause.
func (e *PartialApplicationError) Unwrap() []error {
	return []error{shared.ErrPartialApplication, e.Cause}
}

// IsPartial reports whether err carries a PartialApplicationError.
func IsPartial(err error) bool {
	var pe *PartialApplicationError
	return errors.As(err, &pe)
}

// ConsistencyWarning flags a medication whose cached stock disagrees with
// its validated ledger. It is logged, never returned as a failure.
type ConsistencyWarning struct {
	MedID    uuid.UUID `json:"medId"`
	MedName  string    `json:"medName"`
	Expected int       `json:"expected"`
	Actual   int       `json:"actual"`
}

func (w ConsistencyWarning) String() string {
	return fmt.Sprintf("stock of %s is %d but the validated ledger sums to %d", w.MedName, w.Actual, w.Expected)
}

// ReceptionRequest records a delivery as pending lines.
type ReceptionRequest struct {
	Items          []ReceptionLine  `json:"items" validate:"required,min=1,dive"`
	Details        ReceptionDetails `json:"details"`
	IdempotencyKey string           `json:"-"`
}

// ExitRequest debits stock for one intervention.
type ExitRequest struct {
	Items          []ExitLine `json:"items" validate:"required,min=1,dive"`
	Patient        Patient    `json:"patient"`
	IdempotencyKey string     `json:"-"`
}
