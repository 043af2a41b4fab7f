package insightshttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/anesthmed/anesthmed/internal/insights"
	"github.com/anesthmed/anesthmed/internal/platform/httpx"
	"github.com/anesthmed/anesthmed/internal/rbac"
)

const (
	requestTimeout = 5 * time.Second
	defaultDays    = 30
)

// Service exposes the insights views required by the handler.
type Service interface {
	Dashboard(ctx context.Context) (insights.Dashboard, error)
	Statistics(ctx context.Context, days int) (insights.Statistics, error)
	Consumption(ctx context.Context, by insights.Sort) ([]insights.ConsumptionRow, error)
	Export(ctx context.Context) (insights.Backup, error)
}

// Handler serves the insights endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
	rbac    rbac.Middleware
}

// NewHandler builds the insights handler.
func NewHandler(logger *slog.Logger, service Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	d, err := h.service.Dashboard(ctx)
	if err != nil {
		h.fail(w, "load dashboard", err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) statistics(w http.ResponseWriter, r *http.Request) {
	days := defaultDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			httpx.FieldProblem(w, map[string]string{"days": "must be 7, 30 or 90"})
			return
		}
		days = v
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	st, err := h.service.Statistics(ctx, days)
	if err != nil {
		h.fail(w, "load statistics", err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) consumption(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	rows, err := h.service.Consumption(ctx, insights.Sort(r.URL.Query().Get("sort")))
	if err != nil {
		h.fail(w, "load consumption", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.Export(r.Context())
	if err != nil {
		h.fail(w, "export", err)
		return
	}
	name := fmt.Sprintf("anesthmed-backup-%s.json", b.ExportDate.Format(time.DateOnly))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
