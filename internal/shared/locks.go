package shared

import "fmt"

// ReceptionLockKey builds redis keys guarding reception validation.
func ReceptionLockKey(batchID string) string {
	return fmt.Sprintf("stock:reception:%s:lock", batchID)
}

// IncidentLockKey builds redis keys guarding incident resolution.
func IncidentLockKey(txID string) string {
	return fmt.Sprintf("stock:incident:%s:lock", txID)
}

// AuditDraftLockKey builds redis keys guarding audit commits.
func AuditDraftLockKey(draftID string) string {
	return fmt.Sprintf("stock:audit:%s:lock", draftID)
}

// MedicationLockKey builds redis keys guarding stock writes on one medication.
func MedicationLockKey(medID string) string {
	return fmt.Sprintf("stock:medication:%s:lock", medID)
}
