package inventory

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/anesthmed/anesthmed/internal/alerts"
	"github.com/anesthmed/anesthmed/internal/consumption"
	"github.com/anesthmed/anesthmed/internal/ledger"
	"github.com/anesthmed/anesthmed/internal/platform/httpx"
	"github.com/anesthmed/anesthmed/internal/rbac"
	"github.com/anesthmed/anesthmed/internal/shared"
)

// ConfigSource loads the alert configuration for one request.
type ConfigSource interface {
	Load(ctx context.Context) (alerts.Config, error)
}

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger  *slog.Logger
	service *Service
	config  ConfigSource
	rbac    rbac.Middleware
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service, config ConfigSource, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, config: config, rbac: rbac}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermStockView))
		r.Get("/medications", h.listMedications)
		r.Get("/medications/{id}", h.getMedication)
		r.Get("/medications/{id}/consumption", h.medicationConsumption)
		r.Get("/transactions", h.listTransactions)
		r.Get("/exits", h.exitHistory)
		r.Get("/receptions/{id}/approvals", h.approvalTrail(shared.ApprovalModuleReception))
		r.Get("/incidents/{id}/approvals", h.approvalTrail(shared.ApprovalModuleIncident))
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermCatalogEdit))
		r.Post("/medications", h.createMedication)
		r.Patch("/medications/{id}", h.updateMedication)
	})
	r.With(h.rbac.RequireAll(shared.PermReceptionCreate)).Post("/receptions", h.createReception)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermReceptionReview))
		r.Get("/receptions/pending", h.pendingReceptions)
		r.Post("/receptions/{id}/validate", h.validateReception)
		r.Post("/receptions/{id}/reject", h.rejectReception)
	})
	r.With(h.rbac.RequireAll(shared.PermExitCreate)).Post("/exits", h.createExit)
	r.With(h.rbac.RequireAll(shared.PermIncidentReport)).Post("/incidents", h.reportIncident)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermIncidentReview))
		r.Get("/incidents/pending", h.pendingIncidents)
		r.Post("/incidents/{id}/resolve", h.resolveIncident)
	})
}

type consumptionView struct {
	Medication ledger.Medication                `json:"medication"`
	Monthly    []consumption.MonthlyConsumption `json:"monthly"`
	Trend      consumption.TrendResult          `json:"trend"`
	Thresholds alerts.Thresholds                `json:"thresholds"`
	Stock      alerts.StockLevel                `json:"stockStatus"`
	Expiry     alerts.ExpiryLevel               `json:"expiryStatus,omitempty"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

type resolveRequest struct {
	Action Resolution `json:"action" validate:"required,oneof=VALIDATE REJECT"`
	Note   string     `json:"note" validate:"max=1000"`
}

func (h *Handler) evaluate(ctx context.Context) ([]alerts.Evaluation, error) {
	cfg, err := h.config.Load(ctx)
	if err != nil {
		return nil, err
	}
	now := h.service.Now()
	meds, err := h.service.ListMedications(ctx)
	if err != nil {
		return nil, err
	}
	txs, err := h.service.Outflows(ctx, alerts.WindowStart(now))
	if err != nil {
		return nil, err
	}
	return alerts.Evaluate(cfg, meds, txs, now), nil
}

func (h *Handler) listMedications(w http.ResponseWriter, r *http.Request) {
	evals, err := h.evaluate(r.Context())
	if err != nil {
		h.fail(w, "list medications", err)
		return
	}
	if status := alerts.StockLevel(r.URL.Query().Get("status")); status != "" {
		filtered := evals[:0]
		for _, e := range evals {
			if e.Stock == status {
				filtered = append(filtered, e)
			}
		}
		evals = filtered
	}
	httpx.JSON(w, http.StatusOK, evals)
}

func (h *Handler) getMedication(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	med, err := h.service.GetMedication(r.Context(), id)
	if err != nil {
		h.fail(w, "get medication", err)
		return
	}
	httpx.JSON(w, http.StatusOK, med)
}

func (h *Handler) medicationConsumption(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	med, err := h.service.GetMedication(ctx, id)
	if err != nil {
		h.fail(w, "medication consumption", err)
		return
	}
	months := consumption.DefaultLookback
	if raw := r.URL.Query().Get("months"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 24 {
			httpx.FieldProblem(w, map[string]string{"months": "must be between 1 and 24"})
			return
		}
		months = n
	}
	cfg, err := h.config.Load(ctx)
	if err != nil {
		h.fail(w, "medication consumption", err)
		return
	}
	now := h.service.Now()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -(max(months, consumption.DefaultLookback) - 1), 0)
	txs, err := h.service.Outflows(ctx, from)
	if err != nil {
		h.fail(w, "medication consumption", err)
		return
	}
	monthly := consumption.Monthly(id, txs, months, now)
	th := alerts.ThresholdsFor(cfg, id, txs, ledger.Index([]ledger.Medication{med}), now)
	httpx.JSON(w, http.StatusOK, consumptionView{
		Medication: med,
		Monthly:    monthly,
		Trend:      consumption.ComputeTrend(monthly),
		Thresholds: th,
		Stock:      alerts.StockStatus(med.Stock, th),
		Expiry:     alerts.ExpirationStatus(med.Expiry, now),
	})
}

func (h *Handler) createMedication(w http.ResponseWriter, r *http.Request) {
	var req MedicationInput
	if !httpx.Bind(w, r, &req) {
		return
	}
	med, err := h.service.CreateMedication(r.Context(), actorOf(r), req)
	if err != nil {
		h.fail(w, "create medication", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, med)
}

func (h *Handler) updateMedication(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req MedicationPatch
	if !httpx.Bind(w, r, &req) {
		return
	}
	med, err := h.service.UpdateMedication(r.Context(), actorOf(r), id, req)
	if err != nil {
		h.fail(w, "update medication", err)
		return
	}
	httpx.JSON(w, http.StatusOK, med)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	filter, problems := parseFilter(r, h.service.Now().Location())
	if len(problems) > 0 {
		httpx.FieldProblem(w, problems)
		return
	}
	txs, err := h.service.ListTransactions(r.Context(), filter)
	if err != nil {
		h.fail(w, "list transactions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, txs)
}

func (h *Handler) createReception(w http.ResponseWriter, r *http.Request) {
	var req ReceptionRequest
	if !httpx.Bind(w, r, &req) {
		return
	}
	req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	batchID, err := h.service.AddStockBatch(r.Context(), actorOf(r), req)
	if err != nil {
		h.fail(w, "create reception", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"batchId": batchID, "status": ledger.StatusPending})
}

func (h *Handler) pendingReceptions(w http.ResponseWriter, r *http.Request) {
	pending, err := h.service.PendingReceptions(r.Context())
	if err != nil {
		h.fail(w, "pending receptions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, pending)
}

func (h *Handler) validateReception(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	out, err := h.service.ValidateReception(r.Context(), actorOf(r), id)
	if err != nil {
		h.fail(w, "validate reception", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) rejectReception(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req rejectRequest
	if r.ContentLength != 0 && !httpx.Bind(w, r, &req) {
		return
	}
	out, err := h.service.InvalidateReception(r.Context(), actorOf(r), id, req.Reason)
	if err != nil {
		h.fail(w, "reject reception", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) createExit(w http.ResponseWriter, r *http.Request) {
	var req ExitRequest
	if !httpx.Bind(w, r, &req) {
		return
	}
	req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	out, err := h.service.RemoveStockBatch(r.Context(), actorOf(r), req)
	if err != nil {
		h.fail(w, "create exit", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) exitHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	history, err := h.service.ExitHistory(r.Context(), limit)
	if err != nil {
		h.fail(w, "exit history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, history)
}

func (h *Handler) reportIncident(w http.ResponseWriter, r *http.Request) {
	var req IncidentInput
	if !httpx.Bind(w, r, &req) {
		return
	}
	t, err := h.service.ReportIncident(r.Context(), actorOf(r), req)
	if err != nil {
		h.fail(w, "report incident", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, t)
}

func (h *Handler) approvalTrail(module string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		logs, err := h.service.ApprovalTrail(r.Context(), module, id)
		if err != nil {
			h.fail(w, "approval trail", err)
			return
		}
		httpx.JSON(w, http.StatusOK, logs)
	}
}

func (h *Handler) pendingIncidents(w http.ResponseWriter, r *http.Request) {
	pending, err := h.service.PendingIncidents(r.Context())
	if err != nil {
		h.fail(w, "pending incidents", err)
		return
	}
	httpx.JSON(w, http.StatusOK, pending)
}

func (h *Handler) resolveIncident(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if !httpx.Bind(w, r, &req) {
		return
	}
	out, err := h.service.ValidateIncident(r.Context(), actorOf(r), id, req.Action, req.Note)
	if err != nil {
		h.fail(w, "resolve incident", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if IsPartial(err) {
		h.logger.Error(op, slog.Any("error", err))
	} else {
		h.logger.Debug(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func actorOf(r *http.Request) shared.Actor {
	actor, _ := shared.ActorFromContext(r.Context())
	return actor
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.FieldProblem(w, map[string]string{"id": "must be a valid identifier"})
		return uuid.Nil, false
	}
	return id, true
}

// parseFilter reads the ledger query. Dates are whole days in loc.
func parseFilter(r *http.Request, loc *time.Location) (ledger.Filter, map[string]string) {
	q := r.URL.Query()
	problems := map[string]string{}
	var f ledger.Filter
	parseID := func(key string) uuid.UUID {
		raw := q.Get(key)
		if raw == "" {
			return uuid.Nil
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			problems[key] = "must be a valid identifier"
		}
		return id
	}
	parseDate := func(key string, endOfDay bool) time.Time {
		raw := q.Get(key)
		if raw == "" {
			return time.Time{}
		}
		d, err := time.ParseInLocation("2006-01-02", raw, loc)
		if err != nil {
			problems[key] = "must be a date (YYYY-MM-DD)"
			return time.Time{}
		}
		if endOfDay {
			d = d.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		return d
	}
	f.MedID = parseID("medId")
	f.BatchID = parseID("batchId")
	f.From = parseDate("from", false)
	f.To = parseDate("to", true)
	if v := strings.ToUpper(q.Get("type")); v != "" {
		if v != string(ledger.TypeIn) && v != string(ledger.TypeOut) {
			problems["type"] = "must be IN or OUT"
		}
		f.Type = ledger.TransactionType(v)
	}
	if v := strings.ToUpper(q.Get("status")); v != "" {
		switch ledger.Status(v) {
		case ledger.StatusPending, ledger.StatusValidated, ledger.StatusRejected:
		default:
			problems["status"] = "must be PENDING, VALIDATED or REJECTED"
		}
		f.Status = ledger.Status(v)
	}
	if v := strings.ToUpper(q.Get("category")); v != "" {
		if v != string(ledger.CategoryNormal) && v != string(ledger.CategoryIncident) {
			problems["category"] = "must be NORMAL or INCIDENT"
		}
		f.Category = ledger.Category(v)
	}
	f.Limit = 200
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			problems["limit"] = "must be between 1 and 1000"
		}
		f.Limit = n
	}
	return f, problems
}
