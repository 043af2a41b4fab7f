package audithttp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/anesthmed/anesthmed/internal/audit"
	"github.com/anesthmed/anesthmed/internal/rbac"
	"github.com/anesthmed/anesthmed/internal/shared"
)

type stubService struct {
	draft      audit.Draft
	lastActor  shared.Actor
	lastUpdate audit.ItemUpdate
	lastLimit  int
	commits    int
}

func (s *stubService) Start(_ context.Context, actor shared.Actor) (audit.Draft, error) {
	s.lastActor = actor
	s.draft.UserID = actor.ID
	return s.draft, nil
}

func (s *stubService) Draft(_ context.Context, actor shared.Actor, id uuid.UUID) (audit.Draft, error) {
	if id != s.draft.ID {
		return audit.Draft{}, audit.ErrDraftNotFound
	}
	if actor.ID != s.draft.UserID {
		return audit.Draft{}, audit.ErrNotDraftOwner
	}
	return s.draft, nil
}

func (s *stubService) UpdateItem(ctx context.Context, actor shared.Actor, id, medID uuid.UUID, u audit.ItemUpdate) (audit.Item, error) {
	d, err := s.Draft(ctx, actor, id)
	if err != nil {
		return audit.Item{}, err
	}
	s.lastUpdate = u
	if err := d.Apply(medID, u); err != nil {
		return audit.Item{}, err
	}
	return d.Items[0], nil
}

func (s *stubService) Discard(ctx context.Context, actor shared.Actor, id uuid.UUID) error {
	_, err := s.Draft(ctx, actor, id)
	return err
}

func (s *stubService) Commit(ctx context.Context, actor shared.Actor, id uuid.UUID) (audit.Audit, error) {
	d, err := s.Draft(ctx, actor, id)
	if err != nil {
		return audit.Audit{}, err
	}
	s.commits++
	return audit.Audit{ID: d.ID, UserID: d.UserID, Status: audit.StatusCompleted, Summary: audit.Summarize(d.Items), Items: d.Items}, nil
}

func (s *stubService) List(_ context.Context, limit int) ([]audit.Audit, error) {
	s.lastLimit = limit
	return nil, nil
}

func (s *stubService) Get(_ context.Context, id uuid.UUID) (audit.Audit, error) {
	return audit.Audit{}, audit.ErrAuditNotFound
}

func newTestRouter(svc *stubService) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mw := rbac.NewMiddleware(rbac.NewService(), logger)
	r := chi.NewRouter()
	r.Use(mw.Identify)
	NewHandler(logger, svc, mw).MountRoutes(r)
	return r
}

func call(h http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(rbac.HeaderUserID, user)
	req.Header.Set(rbac.HeaderUserRole, string(shared.RoleAnesthetist))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func newStub() *stubService {
	medID := uuid.New()
	return &stubService{draft: audit.Draft{
		ID: uuid.New(),
		Items: []audit.Item{{
			MedID: medID, MedName: "Fentanyl", IsNarcotic: true,
			TheoreticalStock: 30, PhysicalStock: 30, ExpectedEmptyVials: new(int),
		}},
	}}
}

func TestAuditSessionFlow(t *testing.T) {
	svc := newStub()
	h := newTestRouter(svc)

	rec := call(h, http.MethodPost, "/audits", "u-1", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, "u-1", svc.lastActor.ID)

	base := "/audits/drafts/" + svc.draft.ID.String()
	itemPath := base + "/items/" + svc.draft.Items[0].MedID.String()
	rec = call(h, http.MethodPut, itemPath, "u-1", `{"physicalStock":27,"physicalEmptyVials":0}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var item audit.Item
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	require.Equal(t, -3, item.Gap)
	require.NotNil(t, item.PhysicalEmptyVials)
	require.Zero(t, *item.PhysicalEmptyVials)

	rec = call(h, http.MethodGet, base, "u-2", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(h, http.MethodPost, base+"/commit", "u-1", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var committed audit.Audit
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &committed))
	require.Equal(t, audit.StatusCompleted, committed.Status)
}

func TestAuditRequestErrors(t *testing.T) {
	svc := newStub()
	h := newTestRouter(svc)

	rec := call(h, http.MethodPut, "/audits/drafts/nope/items/"+uuid.NewString(), "u-1", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), `"id"`)

	svc.draft.UserID = "u-1"
	itemPath := "/audits/drafts/" + svc.draft.ID.String() + "/items/" + svc.draft.Items[0].MedID.String()
	rec = call(h, http.MethodPut, itemPath, "u-1", `{"physicalStock":-2}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(h, http.MethodGet, "/audits/"+uuid.NewString(), "u-1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	rec = call(h, http.MethodGet, "/audits?limit=0", "u-1", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(h, http.MethodGet, "/audits?limit=5", "u-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())
	require.Equal(t, 5, svc.lastLimit)
}

func TestAuditCommitRateLimited(t *testing.T) {
	svc := newStub()
	h := newTestRouter(svc)
	svc.draft.UserID = "u-1"
	path := "/audits/drafts/" + svc.draft.ID.String() + "/commit"
	for i := 0; i < rateLimit; i++ {
		rec := call(h, http.MethodPost, path, "u-1", "")
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec := call(h, http.MethodPost, path, "u-1", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, rateLimit, svc.commits)

	rec = call(h, http.MethodGet, "/audits", "u-1", "")
	require.Equal(t, http.StatusOK, rec.Code, "reads are not limited")
}
