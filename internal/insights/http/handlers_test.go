package insightshttp

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/anesthmed/anesthmed/internal/insights"
	"github.com/anesthmed/anesthmed/internal/rbac"
	"github.com/anesthmed/anesthmed/internal/shared"
)

type stubService struct {
	lastDays int
	lastSort insights.Sort
}

func (s *stubService) Dashboard(context.Context) (insights.Dashboard, error) {
	return insights.Dashboard{TotalMedications: 3}, nil
}

func (s *stubService) Statistics(_ context.Context, days int) (insights.Statistics, error) {
	s.lastDays = days
	if days != 7 && days != 30 && days != 90 {
		return insights.Statistics{}, insights.ErrInvalidWindow
	}
	return insights.Statistics{Days: days}, nil
}

func (s *stubService) Consumption(_ context.Context, by insights.Sort) ([]insights.ConsumptionRow, error) {
	s.lastSort = by
	return []insights.ConsumptionRow{}, nil
}

func (s *stubService) Export(context.Context) (insights.Backup, error) {
	return insights.Backup{Version: "1.0", ExportDate: time.Date(2026, 5, 14, 8, 0, 0, 0, time.UTC)}, nil
}

func newRouter(svc Service) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mw := rbac.NewMiddleware(rbac.NewService(), logger)
	r := chi.NewRouter()
	r.Use(mw.Identify)
	NewHandler(logger, svc, mw).MountRoutes(r)
	return r
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set(rbac.HeaderUserID, "u-1")
	req.Header.Set(rbac.HeaderUserRole, string(shared.RoleAnesthetist))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestInsightsEndpoints(t *testing.T) {
	svc := &stubService{}
	h := newRouter(svc)

	rec := get(h, "/insights/dashboard")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"totalMedications":3`)

	rec = get(h, "/insights/statistics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 30, svc.lastDays)

	rec = get(h, "/insights/statistics?days=14")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = get(h, "/insights/statistics?days=week")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(h, "/insights/consumption?sort=cmm")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, insights.SortCMM, svc.lastSort)

	rec = get(h, "/insights/export")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, `attachment; filename="anesthmed-backup-2026-05-14.json"`, rec.Header().Get("Content-Disposition"))
	require.Contains(t, rec.Body.String(), `"version":"1.0"`)
}

func TestInsightsRequireIdentity(t *testing.T) {
	h := newRouter(&stubService{})
	req := httptest.NewRequest(http.MethodGet, "/insights/dashboard", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
