package shared

// Inventory permissions.
const (
	PermStockView       = "stock.view"
	PermCatalogEdit     = "stock.catalog.edit"
	PermReceptionCreate = "stock.reception.create"
	PermReceptionReview = "stock.reception.review"
	PermExitCreate      = "stock.exit.create"
	PermIncidentReport  = "stock.incident.report"
	PermIncidentReview  = "stock.incident.review"
	PermAuditRun        = "stock.audit.run"
	PermSettingsEdit    = "stock.settings.edit"
)

// AnesthetistScopes lists permissions granted to anesthetists.
func AnesthetistScopes() []string {
	return []string{
		PermStockView,
		PermReceptionCreate,
		PermExitCreate,
		PermIncidentReport,
		PermAuditRun,
	}
}

// PharmacistScopes lists permissions granted to pharmacists.
func PharmacistScopes() []string {
	return append(AnesthetistScopes(),
		PermCatalogEdit,
		PermReceptionReview,
		PermIncidentReview,
		PermSettingsEdit,
	)
}

// ScopesFor resolves the permissions of a role.
func ScopesFor(role Role) []string {
	switch role {
	case RolePharmacist:
		return PharmacistScopes()
	case RoleAnesthetist:
		return AnesthetistScopes()
	default:
		return nil
	}
}
