package audithttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/anesthmed/anesthmed/internal/audit"
	"github.com/anesthmed/anesthmed/internal/platform/httpx"
	"github.com/anesthmed/anesthmed/internal/rbac"
	"github.com/anesthmed/anesthmed/internal/shared"
)

// Service defines the business contract behind the audit endpoints.
type Service interface {
	Start(ctx context.Context, actor shared.Actor) (audit.Draft, error)
	Draft(ctx context.Context, actor shared.Actor, id uuid.UUID) (audit.Draft, error)
	UpdateItem(ctx context.Context, actor shared.Actor, id, medID uuid.UUID, u audit.ItemUpdate) (audit.Item, error)
	Discard(ctx context.Context, actor shared.Actor, id uuid.UUID) error
	Commit(ctx context.Context, actor shared.Actor, id uuid.UUID) (audit.Audit, error)
	List(ctx context.Context, limit int) ([]audit.Audit, error)
	Get(ctx context.Context, id uuid.UUID) (audit.Audit, error)
}

// Handler serves stock audit requests.
type Handler struct {
	logger  *slog.Logger
	service Service
	rbac    rbac.Middleware
}

// NewHandler builds the audit handler.
func NewHandler(logger *slog.Logger, service Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	draft, err := h.service.Start(r.Context(), actorOf(r))
	if err != nil {
		h.fail(w, "start audit", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, draft)
}

func (h *Handler) draft(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	draft, err := h.service.Draft(r.Context(), actorOf(r), id)
	if err != nil {
		h.fail(w, "get draft", err)
		return
	}
	httpx.JSON(w, http.StatusOK, draft)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	medID, ok := pathID(w, r, "medId")
	if !ok {
		return
	}
	var req audit.ItemUpdate
	if !httpx.Bind(w, r, &req) {
		return
	}
	item, err := h.service.UpdateItem(r.Context(), actorOf(r), id, medID, req)
	if err != nil {
		h.fail(w, "update audit item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) discard(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.Discard(r.Context(), actorOf(r), id); err != nil {
		h.fail(w, "discard draft", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) commit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	a, err := h.service.Commit(r.Context(), actorOf(r), id)
	if err != nil {
		h.fail(w, "commit audit", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, a)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			httpx.FieldProblem(w, map[string]string{"limit": "must be a positive integer"})
			return
		}
		limit = v
	}
	audits, err := h.service.List(r.Context(), limit)
	if err != nil {
		h.fail(w, "list audits", err)
		return
	}
	if audits == nil {
		audits = []audit.Audit{}
	}
	httpx.JSON(w, http.StatusOK, audits)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	a, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get audit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Debug(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func actorOf(r *http.Request) shared.Actor {
	actor, _ := shared.ActorFromContext(r.Context())
	return actor
}

func pathID(w http.ResponseWriter, r *http.Request, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, key))
	if err != nil {
		httpx.FieldProblem(w, map[string]string{key: "must be a valid identifier"})
		return uuid.Nil, false
	}
	return id, true
}
