// Package ledger holds the medication catalog and stock transaction model
// shared by the workflow, analysis and reconciliation packages.
package ledger

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType enumerates stock movement directions.
type TransactionType string

const (
	// TypeIn increases stock once validated.
	TypeIn TransactionType = "IN"
	// TypeOut decreases stock once validated.
	TypeOut TransactionType = "OUT"
)

// Status is the approval state of a transaction.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusValidated Status = "VALIDATED"
	StatusRejected  Status = "REJECTED"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusValidated || s == StatusRejected
}

// Category separates ordinary movements from reported incidents.
type Category string

const (
	CategoryNormal   Category = "NORMAL"
	CategoryIncident Category = "INCIDENT"
)

// IncidentReason classifies a reported loss.
type IncidentReason string

const (
	ReasonBreakage IncidentReason = "BREAKAGE"
	ReasonExpiry   IncidentReason = "EXPIRY"
	ReasonLoss     IncidentReason = "LOSS"
	ReasonOther    IncidentReason = "OTHER"
)

// Medication is a catalog entry. Stock is a materialized view over the
// validated transactions recorded for it.
type Medication struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	Stock      int        `json:"stock"`
	IsNarcotic bool       `json:"isNarcotic"`
	Expiry     *time.Time `json:"expiry,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Details carries the free-form context captured with a transaction.
type Details struct {
	ExpiryDate      *time.Time     `json:"expiryDate,omitempty"`
	Supplier        string         `json:"supplier,omitempty"`
	DeliveryNote    string         `json:"deliveryNote,omitempty"`
	PatientInitials string         `json:"patientInitials,omitempty"`
	PatientAge      int            `json:"patientAge,omitempty"`
	Intervention    string         `json:"intervention,omitempty"`
	InterventionAt  *time.Time     `json:"interventionAt,omitempty"`
	Reason          IncidentReason `json:"reason,omitempty"`
	Comment         string         `json:"comment,omitempty"`
	Resolution      string         `json:"resolution,omitempty"`
}

// Transaction is one immutable ledger line; only Status moves after insert.
// MedName is a snapshot of the medication name at event time.
type Transaction struct {
	ID        uuid.UUID       `json:"id"`
	MedID     uuid.UUID       `json:"medId"`
	MedName   string          `json:"medName"`
	Type      TransactionType `json:"type"`
	Quantity  int             `json:"quantity"`
	Date      time.Time       `json:"date"`
	Status    Status          `json:"status"`
	Category  Category        `json:"category"`
	BatchID   uuid.UUID       `json:"batchId"`
	Details   Details         `json:"details"`
	CreatedBy string          `json:"createdBy,omitempty"`
}

// Effect returns the signed stock impact of the line once validated.
func (t Transaction) Effect() int {
	if t.Status != StatusValidated {
		return 0
	}
	if t.Type == TypeOut {
		return -t.Quantity
	}
	return t.Quantity
}

// Filter narrows ledger listings. Zero values are ignored.
type Filter struct {
	MedID    uuid.UUID
	BatchID  uuid.UUID
	Type     TransactionType
	Status   Status
	Category Category
	From     time.Time
	To       time.Time
	Limit    int
}

// Match reports whether t satisfies the filter, ignoring Limit.
func (f Filter) Match(t Transaction) bool {
	if f.MedID != uuid.Nil && t.MedID != f.MedID {
		return false
	}
	if f.BatchID != uuid.Nil && t.BatchID != f.BatchID {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Category != "" && t.Category != f.Category {
		return false
	}
	if !f.From.IsZero() && t.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && t.Date.After(f.To) {
		return false
	}
	return true
}

// Index maps medications by id.
func Index(meds []Medication) map[uuid.UUID]Medication {
	out := make(map[uuid.UUID]Medication, len(meds))
	for _, m := range meds {
		out[m.ID] = m
	}
	return out
}

// Recompute derives every medication stock from validated ledger lines.
func Recompute(txs []Transaction) map[uuid.UUID]int {
	out := make(map[uuid.UUID]int)
	for _, t := range txs {
		if eff := t.Effect(); eff != 0 {
			out[t.MedID] += eff
		}
	}
	return out
}
