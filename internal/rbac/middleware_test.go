package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/anesthmed/anesthmed/internal/shared"
)

func newRouter() http.Handler {
	mw := NewMiddleware(NewService(), nil)
	r := chi.NewRouter()
	r.Use(mw.Identify)
	r.With(mw.RequireAny(shared.PermStockView)).Get("/stock", func(w http.ResponseWriter, r *http.Request) {
		actor, _ := shared.ActorFromContext(r.Context())
		_, _ = w.Write([]byte(actor.ID))
	})
	r.With(mw.RequireAll(shared.PermReceptionReview, shared.PermStockView)).Post("/validate", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Route("/me", NewPermissionsHandler(NewService()).MountRoutes)
	return r
}

func do(h http.Handler, method, path, user, role string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	if role != "" {
		req.Header.Set(HeaderUserRole, role)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIdentifyRequiresHeaders(t *testing.T) {
	h := newRouter()
	require.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/stock", "", "").Code)
	require.Equal(t, http.StatusForbidden, do(h, http.MethodGet, "/stock", "u1", "surgeon").Code)

	rec := do(h, http.MethodGet, "/stock", "u1", "Anesthetist")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "u1", rec.Body.String())
}

func TestRoleGuards(t *testing.T) {
	h := newRouter()
	require.Equal(t, http.StatusForbidden, do(h, http.MethodPost, "/validate", "u1", "anesthetist").Code)
	require.Equal(t, http.StatusNoContent, do(h, http.MethodPost, "/validate", "u2", "pharmacist").Code)
}

func TestPermissionsEndpoint(t *testing.T) {
	rec := do(newRouter(), http.MethodGet, "/me/", "u2", "pharmacist")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), shared.PermReceptionReview)
	require.Contains(t, rec.Body.String(), `"role":"pharmacist"`)
}
