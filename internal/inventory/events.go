package inventory

import (
	"time"

	"github.com/google/uuid"
)

// Workflow operation names used in logs, metrics and audit entries.
const (
	OpMedicationCreate  = "medication.create"
	OpMedicationUpdate  = "medication.update"
	OpReceptionCreate   = "reception.create"
	OpReceptionValidate = "reception.validate"
	OpReceptionReject   = "reception.reject"
	OpExitCreate        = "exit.create"
	OpIncidentReport    = "incident.report"
	OpIncidentResolve   = "incident.resolve"
)

// StockChangedEvent is emitted after a workflow write committed.
type StockChangedEvent struct {
	Op      string
	BatchID uuid.UUID
	MedIDs  []uuid.UUID
	At      time.Time
}
