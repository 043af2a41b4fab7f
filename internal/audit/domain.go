package audit

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/anesthmed/anesthmed/internal/shared"
)

// StatusCompleted is the only persisted audit status.
const StatusCompleted = "COMPLETED"

// VialLookback applies when no earlier audit exists.
const VialLookback = 30 * 24 * time.Hour

// Item is one medication row of an audit. Gap is always physical minus
// theoretical and is recomputed on every change.
type Item struct {
	MedID              uuid.UUID `json:"medId"`
	MedName            string    `json:"medName"`
	IsNarcotic         bool      `json:"isNarcotic"`
	TheoreticalStock   int       `json:"theoreticalStock"`
	PhysicalStock      int       `json:"physicalStock"`
	Gap                int       `json:"gap"`
	Comment            string    `json:"comment,omitempty"`
	ExpectedEmptyVials *int      `json:"expectedEmptyVials,omitempty"`
	PhysicalEmptyVials *int      `json:"physicalEmptyVials"`
}

func (i *Item) recompute() {
	i.Gap = i.PhysicalStock - i.TheoreticalStock
}

// VialGap is counted minus expected empty vials. It is nil until the
// auditor enters a count.
func (i Item) VialGap() *int {
	if !i.IsNarcotic || i.PhysicalEmptyVials == nil {
		return nil
	}
	expected := 0
	if i.ExpectedEmptyVials != nil {
		expected = *i.ExpectedEmptyVials
	}
	gap := *i.PhysicalEmptyVials - expected
	return &gap
}

// Draft is an audit session in progress.
type Draft struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"userId"`
	StartedAt time.Time `json:"startedAt"`
	VialsFrom time.Time `json:"vialsFrom"`
	Items     []Item    `json:"items"`
}

// ItemUpdate edits one draft row. Nil fields are left unchanged.
type ItemUpdate struct {
	PhysicalStock   *int    `json:"physicalStock,omitempty" validate:"omitempty,gte=0"`
	EmptyVials      *int    `json:"physicalEmptyVials,omitempty" validate:"omitempty,gte=0"`
	ClearEmptyVials bool    `json:"clearEmptyVials,omitempty"`
	Comment         *string `json:"comment,omitempty" validate:"omitempty,max=1000"`
}

// Apply edits the row of medID.
func (d *Draft) Apply(medID uuid.UUID, u ItemUpdate) error {
	idx := d.index(medID)
	if idx < 0 {
		return fmt.Errorf("audit: medication %s is not part of draft %s: %w", medID, d.ID, shared.ErrNotFound)
	}
	item := &d.Items[idx]
	if u.PhysicalStock != nil {
		if *u.PhysicalStock < 0 {
			return fmt.Errorf("audit: physical stock of %s cannot be negative: %w", item.MedName, shared.ErrValidation)
		}
		item.PhysicalStock = *u.PhysicalStock
	}
	switch {
	case u.ClearEmptyVials:
		item.PhysicalEmptyVials = nil
	case u.EmptyVials != nil:
		if !item.IsNarcotic {
			return fmt.Errorf("audit: %s is not a narcotic, empty vials are not tracked: %w", item.MedName, shared.ErrValidation)
		}
		if *u.EmptyVials < 0 {
			return fmt.Errorf("audit: empty vial count of %s cannot be negative: %w", item.MedName, shared.ErrValidation)
		}
		v := *u.EmptyVials
		item.PhysicalEmptyVials = &v
	}
	if u.Comment != nil {
		item.Comment = *u.Comment
	}
	item.recompute()
	return nil
}

func (d *Draft) index(medID uuid.UUID) int {
	for i, item := range d.Items {
		if item.MedID == medID {
			return i
		}
	}
	return -1
}

// Summary counts rows and discrepancies.
type Summary struct {
	TotalItems           int `json:"totalItems"`
	DiscrepancyCount     int `json:"discrepancyCount"`
	VialDiscrepancyCount int `json:"vialDiscrepancyCount"`
}

// Summarize recomputes every gap and counts the discrepancies.
func Summarize(items []Item) Summary {
	s := Summary{TotalItems: len(items)}
	for i := range items {
		items[i].recompute()
		if items[i].Gap != 0 {
			s.DiscrepancyCount++
		}
		if g := items[i].VialGap(); g != nil && *g != 0 {
			s.VialDiscrepancyCount++
		}
	}
	return s
}

// Audit is a committed, read-only reconciliation.
type Audit struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"userId"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	Summary
	Items []Item `json:"items,omitempty"`
}

var (
	// ErrDraftNotFound indicates an unknown or expired draft.
	ErrDraftNotFound = fmt.Errorf("audit: draft %w", shared.ErrNotFound)
	// ErrAuditNotFound indicates an unknown audit id.
	ErrAuditNotFound = fmt.Errorf("audit: audit %w", shared.ErrNotFound)
	// ErrNotDraftOwner rejects edits by anyone but the auditor.
	ErrNotDraftOwner = fmt.Errorf("audit: draft belongs to another user: %w", shared.ErrForbidden)
	// ErrEmptyCatalog rejects an audit of nothing.
	ErrEmptyCatalog = fmt.Errorf("audit: catalog is empty: %w", shared.ErrValidation)
)
