package insightshttp

import (
	"github.com/go-chi/chi/v5"

	"github.com/anesthmed/anesthmed/internal/shared"
)

// MountRoutes registers the insights endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermStockView))
		r.Get("/insights/dashboard", h.dashboard)
		r.Get("/insights/statistics", h.statistics)
		r.Get("/insights/consumption", h.consumption)
		r.Get("/insights/export", h.export)
	})
}
