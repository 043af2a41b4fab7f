package audithttp

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/anesthmed/anesthmed/internal/platform/httpx"
	"github.com/anesthmed/anesthmed/internal/shared"
)

const rateLimit = 10
const rateWindow = time.Minute

// MountRoutes registers the audit session and history endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(rateLimit, rateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "too many audit submissions, retry in a minute")
		}),
	)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermAuditRun))
		r.Get("/audits", h.list)
		r.Get("/audits/{id}", h.get)
		r.Get("/audits/drafts/{id}", h.draft)
		r.Put("/audits/drafts/{id}/items/{medId}", h.updateItem)
		r.Delete("/audits/drafts/{id}", h.discard)
		r.Group(func(gr chi.Router) {
			gr.Use(limiter)
			gr.Post("/audits", h.start)
			gr.Post("/audits/drafts/{id}/commit", h.commit)
		})
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if actor, ok := shared.ActorFromContext(r.Context()); ok {
		if user := strings.TrimSpace(actor.ID); user != "" {
			return "user:" + user, nil
		}
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
