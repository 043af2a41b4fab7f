package alerts

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/anesthmed/anesthmed/internal/rbac"
	"github.com/anesthmed/anesthmed/internal/shared"
)

type memoryConfig struct {
	cfg   Config
	bumps int
	logs  []shared.AuditLog
}

func (m *memoryConfig) Load(context.Context) (Config, error) { return m.cfg, nil }

func (m *memoryConfig) Save(_ context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.cfg = cfg
	return nil
}

func (m *memoryConfig) Bump(context.Context) error {
	m.bumps++
	return nil
}

func (m *memoryConfig) Record(_ context.Context, log shared.AuditLog) error {
	m.logs = append(m.logs, log)
	return nil
}

func settingsRouter(store *memoryConfig) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mw := rbac.NewMiddleware(rbac.NewService(), logger)
	r := chi.NewRouter()
	r.Use(mw.Identify)
	NewSettingsHandler(logger, store, store, store, mw).MountRoutes(r)
	return r
}

func settingsCall(h http.Handler, method string, role shared.Role, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/settings/alerts", strings.NewReader(body))
	req.Header.Set(rbac.HeaderUserID, "u-"+string(role))
	req.Header.Set(rbac.HeaderUserRole, string(role))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSettingsHandler(t *testing.T) {
	store := &memoryConfig{cfg: DefaultConfig()}
	h := settingsRouter(store)

	rec := settingsCall(h, http.MethodGet, shared.RoleAnesthetist, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"coefficients":{"normal":2,"low":1.5,"critical":1,"minAbsolute":2},"staticThresholds":{"LOW":10,"CRITICAL":5},"dynamicEnabled":true}`, rec.Body.String())

	update := `{"coefficients":{"normal":3,"low":2,"critical":1,"minAbsolute":1},"staticThresholds":{"LOW":12,"CRITICAL":4},"dynamicEnabled":false}`
	rec = settingsCall(h, http.MethodPut, shared.RoleAnesthetist, update)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = settingsCall(h, http.MethodPut, shared.RolePharmacist, update)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.False(t, store.cfg.DynamicEnabled)
	require.Equal(t, 12, store.cfg.Static.Low)
	require.Equal(t, 1, store.bumps)
	require.Len(t, store.logs, 1)
	require.Equal(t, "settings:alerts.update", store.logs[0].Action)

	bad := `{"coefficients":{"normal":1,"low":2,"critical":1,"minAbsolute":1},"staticThresholds":{"LOW":12,"CRITICAL":4},"dynamicEnabled":true}`
	rec = settingsCall(h, http.MethodPut, shared.RolePharmacist, bad)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "critical <= low <= normal")
	require.Equal(t, 1, store.bumps)
}
