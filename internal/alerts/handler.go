package alerts

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/anesthmed/anesthmed/internal/platform/httpx"
	"github.com/anesthmed/anesthmed/internal/rbac"
	"github.com/anesthmed/anesthmed/internal/shared"
)

// ConfigStore loads and persists the alert configuration.
type ConfigStore interface {
	Load(ctx context.Context) (Config, error)
	Save(ctx context.Context, cfg Config) error
}

// Invalidator drops views derived from the previous configuration.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// AuditPort writes the audit trail.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// SettingsHandler serves the alert configuration.
type SettingsHandler struct {
	logger      *slog.Logger
	store       ConfigStore
	invalidator Invalidator
	audit       AuditPort
	rbac        rbac.Middleware
}

// NewSettingsHandler builds SettingsHandler. invalidator and audit may be nil.
func NewSettingsHandler(logger *slog.Logger, store ConfigStore, invalidator Invalidator, audit AuditPort, rbac rbac.Middleware) *SettingsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsHandler{logger: logger, store: store, invalidator: invalidator, audit: audit, rbac: rbac}
}

// MountRoutes registers the settings routes.
func (h *SettingsHandler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.PermStockView)).Get("/settings/alerts", h.get)
	r.With(h.rbac.RequireAll(shared.PermSettingsEdit)).Put("/settings/alerts", h.put)
}

func (h *SettingsHandler) get(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.store.Load(r.Context())
	if err != nil {
		h.logger.Error("load alert settings", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cfg)
}

func (h *SettingsHandler) put(w http.ResponseWriter, r *http.Request) {
	var cfg Config
	if !httpx.Bind(w, r, &cfg) {
		return
	}
	ctx := r.Context()
	if err := h.store.Save(ctx, cfg); err != nil {
		h.logger.Debug("save alert settings", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if h.invalidator != nil {
		if err := h.invalidator.Bump(ctx); err != nil {
			h.logger.Warn("invalidate insights", slog.Any("error", err))
		}
	}
	actor, _ := shared.ActorFromContext(ctx)
	if h.audit != nil {
		err := h.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Role:     actor.Role,
			Action:   "settings:alerts.update",
			Entity:   "settings",
			EntityID: "alerts",
			Meta: map[string]any{
				"coefficients":      cfg.Coefficients,
				"static_thresholds": cfg.Static,
				"dynamic_enabled":   cfg.DynamicEnabled,
			},
		})
		if err != nil {
			h.logger.Warn("audit log", slog.Any("error", err))
		}
	}
	h.logger.Info("alert settings updated", slog.String("actor", actor.ID), slog.Bool("dynamic", cfg.DynamicEnabled))
	httpx.JSON(w, http.StatusOK, cfg)
}
