package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/trendpress/internal/domain"
	"github.com/TobiSchelling/trendpress/internal/jobs"
	"github.com/TobiSchelling/trendpress/internal/scheduler"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeService struct {
	tick      scheduler.TickStatus
	refresh   scheduler.RefreshResult
	refreshEr error
	status    *scheduler.StatusReport
	statusErr error
	resetErr  error
	resetPos  int
}

func (f *fakeService) Tick(context.Context) scheduler.TickStatus        { return f.tick }
func (f *fakeService) ProcessNext(context.Context) scheduler.TickStatus { return f.tick }
func (f *fakeService) Refresh(context.Context) (scheduler.RefreshResult, error) {
	return f.refresh, f.refreshEr
}
func (f *fakeService) ResetFailedJobs(context.Context) (scheduler.ResetResult, error) {
	return scheduler.ResetResult{Date: "2026-10-16", Reset: []int{2}, Exhausted: []int{}}, nil
}
func (f *fakeService) ResetStuckJob(_ context.Context, position int) (*domain.Job, error) {
	f.resetPos = position
	if f.resetErr != nil {
		return nil, f.resetErr
	}
	return &domain.Job{ID: "j", Position: position, Status: domain.StatusPending}, nil
}
func (f *fakeService) Status(context.Context) (*scheduler.StatusReport, error) {
	return f.status, f.statusErr
}
func (f *fakeService) Cleanup(context.Context) (scheduler.CleanupResult, error) {
	return scheduler.CleanupResult{TrendsDeleted: 4}, nil
}

func do(t *testing.T, srv *Server, method, path string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	rec := do(t, New(&fakeService{}, "secret"), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestAPIKeyRequired(t *testing.T) {
	srv := New(&fakeService{status: &scheduler.StatusReport{Date: "2026-10-16"}}, "secret")

	assert.Equal(t, http.StatusUnauthorized, do(t, srv, http.MethodGet, "/api/status", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, srv, http.MethodGet, "/api/status", map[string]string{apiKeyHeader: "wrong"}).Code)

	rec := do(t, srv, http.MethodGet, "/api/status", map[string]string{apiKeyHeader: "secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2026-10-16", decode(t, rec)["date"])
}

func TestTickOutcomes(t *testing.T) {
	svc := &fakeService{tick: scheduler.TickStatus{Outcome: scheduler.OutcomeNoJobDue}}
	srv := New(svc, "")

	rec := do(t, srv, http.MethodPost, "/api/tick", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no_job_due", decode(t, rec)["outcome"])

	svc.tick = scheduler.TickStatus{Outcome: scheduler.OutcomePlanUnavailable, Error: "database is locked"}
	rec = do(t, srv, http.MethodPost, "/api/jobs/process-next", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "database is locked", decode(t, rec)["error"])
}

func TestResetJobValidation(t *testing.T) {
	svc := &fakeService{}
	srv := New(svc, "")

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/api/jobs/abc/reset", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/api/jobs/0/reset", nil).Code)

	rec := do(t, srv, http.MethodPost, "/api/jobs/5/reset", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, svc.resetPos)
	assert.Equal(t, "pending", decode(t, rec)["status"])

	for _, err := range []error{
		fmt.Errorf("position 99: %w", scheduler.ErrInvalidPosition),
		fmt.Errorf("completed: %w", scheduler.ErrNotResettable),
		fmt.Errorf("job x: %w", jobs.ErrRetryLimit),
	} {
		svc.resetErr = err
		rec = do(t, srv, http.MethodPost, "/api/jobs/99/reset", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, err.Error())
	}

	svc.resetErr = errors.New("disk I/O error")
	assert.Equal(t, http.StatusInternalServerError, do(t, srv, http.MethodPost, "/api/jobs/3/reset", nil).Code)
}

func TestRefreshAndMaintenance(t *testing.T) {
	svc := &fakeService{refresh: scheduler.RefreshResult{Date: "2026-10-16", Skipped: true, Reason: "upstream_error"}}
	srv := New(svc, "")

	rec := do(t, srv, http.MethodPost, "/api/refresh", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["skipped"])

	svc.refreshEr = errors.New("boom")
	assert.Equal(t, http.StatusInternalServerError, do(t, srv, http.MethodPost, "/api/refresh", nil).Code)

	rec = do(t, srv, http.MethodPost, "/api/jobs/reset-failed", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{float64(2)}, decode(t, rec)["reset"])

	rec = do(t, srv, http.MethodPost, "/api/cleanup", nil)
	assert.Equal(t, float64(4), decode(t, rec)["trends_deleted"])
}

func TestQuota(t *testing.T) {
	svc := &fakeService{status: &scheduler.StatusReport{Quota: &domain.QuotaUsage{DailyCount: 3, DailyLimit: 8, DailyRemaining: 5}}}
	srv := New(svc, "")

	rec := do(t, srv, http.MethodGet, "/api/quota", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(5), body["daily_remaining"])

	svc.status = &scheduler.StatusReport{}
	assert.Equal(t, http.StatusInternalServerError, do(t, srv, http.MethodGet, "/api/quota", nil).Code)

	svc.statusErr = errors.New("boom")
	assert.Equal(t, http.StatusInternalServerError, do(t, srv, http.MethodGet, "/api/status", nil).Code)
}
