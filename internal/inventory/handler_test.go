package inventory

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/anesthmed/anesthmed/internal/alerts"
	"github.com/anesthmed/anesthmed/internal/ledger"
	"github.com/anesthmed/anesthmed/internal/rbac"
)

type staticConfig struct{ cfg alerts.Config }

func (s staticConfig) Load(context.Context) (alerts.Config, error) {
	return s.cfg, nil
}

func newTestRouter(repo *memoryRepo) http.Handler {
	svc, _ := newTestService(repo)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mw := rbac.NewMiddleware(rbac.NewService(), logger)
	r := chi.NewRouter()
	r.Use(mw.Identify)
	NewHandler(logger, svc, staticConfig{cfg: alerts.DefaultConfig()}, mw).MountRoutes(r)
	return r
}

func call(t *testing.T, h http.Handler, method, path, role, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(rbac.HeaderUserID, "user-"+role)
	req.Header.Set(rbac.HeaderUserRole, role)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerReceptionFlow(t *testing.T) {
	repo := newMemoryRepo()
	a := repo.seed("Propofol", 4, false, base.AddDate(-1, 0, 0))
	h := newTestRouter(repo)

	rec := call(t, h, http.MethodPost, "/receptions", "anesthetist", `{"items":[{"medId":"`+a.ID.String()+`","quantity":20}],"details":{"supplier":"PUI"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		BatchID uuid.UUID `json:"batchId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = call(t, h, http.MethodPost, "/receptions/"+created.BatchID.String()+"/validate", "anesthetist", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(t, h, http.MethodPost, "/receptions/"+created.BatchID.String()+"/validate", "pharmacist", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 24, repo.stock(a.ID))

	rec = call(t, h, http.MethodPost, "/receptions/"+uuid.NewString()+"/validate", "pharmacist", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestHandlerExitErrors(t *testing.T) {
	repo := newMemoryRepo()
	a := repo.seed("A", 5, false, base.AddDate(-1, 0, 0))
	h := newTestRouter(repo)
	items := `"items":[{"medId":"` + a.ID.String() + `","quantity":3},{"medId":"` + a.ID.String() + `","quantity":4}]`

	rec := call(t, h, http.MethodPost, "/exits", "anesthetist", `{`+items+`,"patient":{"patientInitials":"AB"}}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "insufficient stock for A: required 4, available 2")

	rec = call(t, h, http.MethodPost, "/exits", "anesthetist", `{"items":[{"medId":"`+a.ID.String()+`","quantity":0}],"patient":{"patientInitials":"AB"}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "items[0].quantity")

	rec = call(t, h, http.MethodPost, "/exits", "anesthetist", `{"items":[],"unknown":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, 5, repo.stock(a.ID))
}

func TestHandlerListsClassifiedMedications(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed("Low", 8, false, base.AddDate(-1, 0, 0))
	repo.seed("Plenty", 80, false, base.AddDate(-1, 0, 0))
	h := newTestRouter(repo)

	rec := call(t, h, http.MethodGet, "/medications?status=low", "anesthetist", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var evals []alerts.Evaluation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &evals))
	require.Len(t, evals, 1)
	require.Equal(t, "Low", evals[0].Medication.Name)
	require.Equal(t, alerts.ColdStart(), evals[0].Thresholds)

	rec = call(t, h, http.MethodGet, "/transactions?status=bogus", "anesthetist", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseFilterUsesServiceLocation(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodGet, "/transactions?from=2026-03-29&to=2026-03-29&type=out", nil)

	f, problems := parseFilter(r, paris)
	require.Empty(t, problems)
	require.Equal(t, ledger.TypeOut, f.Type)
	require.True(t, f.From.Equal(time.Date(2026, 3, 29, 0, 0, 0, 0, paris)))
	require.True(t, f.To.Equal(time.Date(2026, 3, 30, 0, 0, 0, 0, paris).Add(-time.Nanosecond)))
	require.Equal(t, 23*time.Hour, f.To.Sub(f.From)+time.Nanosecond)

	r = httptest.NewRequest(http.MethodGet, "/transactions?from=29/03/2026", nil)
	_, problems = parseFilter(r, paris)
	require.Contains(t, problems, "from")
}
