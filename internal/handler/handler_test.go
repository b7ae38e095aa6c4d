package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	cronrunner "copyfund/internal/cron"
	"copyfund/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func do(t *testing.T, r *gin.Engine, method, path, body string) (int, apiResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var resp apiResponse
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w.Code, resp
}

func TestServiceErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("investment 1: %w", service.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: amount", service.ErrInvalidInput), http.StatusBadRequest},
		{service.ErrInvalidTransition, http.StatusConflict},
		{service.ErrFundInactive, http.StatusConflict},
		{service.ErrInvariant, http.StatusInternalServerError},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		ServiceError(c, tc.err)
		require.Equal(t, tc.want, w.Code, tc.err.Error())
	}
}

func TestTimeQuery(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/?since=24h&until=2026-03-05T00:00:00Z&bad=soon", nil)

	since := timeQueryPtr(c, "since", now, -1)
	require.NotNil(t, since)
	require.True(t, since.Equal(now.Add(-24*time.Hour)))
	until := timeQueryPtr(c, "until", now, 1)
	require.NotNil(t, until)
	require.True(t, until.Equal(time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)))
	require.Nil(t, timeQueryPtr(c, "bad", now, 1))
	require.Nil(t, timeQueryPtr(c, "missing", now, 1))
}

func TestParseOrderWhitelist(t *testing.T) {
	require.Equal(t, "created_at", parseOrder(" Created_At ", replicationOrder))
	require.Equal(t, "", parseOrder("amount; drop table", replicationOrder))
	require.Equal(t, "", parseOrder("", replicationOrder))
}

func TestPaginationMeta(t *testing.T) {
	meta := paginationMeta(10, 0, 25)
	require.Equal(t, true, meta["has_next"])
	meta = paginationMeta(10, 20, 25)
	require.Equal(t, false, meta["has_next"])
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(ctx context.Context) error { return s.err }

func TestHealthRoutes(t *testing.T) {
	r := gin.New()
	(&HealthHandler{DB: stubPinger{}}).Register(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, w.Code)

	down := gin.New()
	(&HealthHandler{DB: stubPinger{err: errors.New("refused")}}).Register(down)
	w = httptest.NewRecorder()
	down.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	down.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

type stubJobs struct {
	running map[string]bool
	calls   []string
}

func (s *stubJobs) Trigger(ctx context.Context, name string) (bool, error) {
	s.calls = append(s.calls, name)
	running, ok := s.running[name]
	if !ok {
		return false, fmt.Errorf("%w: %s", cronrunner.ErrUnknownJob, name)
	}
	return !running, nil
}

func (s *stubJobs) Jobs() []cronrunner.JobInfo {
	out := make([]cronrunner.JobInfo, 0, len(s.running))
	for name, running := range s.running {
		out = append(out, cronrunner.JobInfo{Name: name, Running: running})
	}
	return out
}

func TestAdminJobRoutes(t *testing.T) {
	jobs := &stubJobs{running: map[string]bool{"sip_execution": false, "wallet_monitor": true}}
	r := gin.New()
	(&AdminHandler{Jobs: jobs}).Register(r)

	code, resp := do(t, r, http.MethodPost, "/api/v1/admin/jobs/sip_execution/run", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 0, resp.Code)

	code, _ = do(t, r, http.MethodPost, "/api/v1/admin/jobs/wallet_monitor/run", "")
	require.Equal(t, http.StatusConflict, code)

	code, _ = do(t, r, http.MethodPost, "/api/v1/admin/jobs/nope/run", "")
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, []string{"sip_execution", "wallet_monitor", "nope"}, jobs.calls)

	code, resp = do(t, r, http.MethodGet, "/api/v1/admin/jobs", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, resp.Data, 2)
}

func TestAdminFeatureRoutes(t *testing.T) {
	r := gin.New()
	(&AdminHandler{Settings: &service.SystemSettingsService{}}).Register(r)

	code, resp := do(t, r, http.MethodPut, "/api/v1/admin/features/wallet_monitor", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, code)
	data := resp.Data.(map[string]any)
	require.Equal(t, service.FeatureWalletMonitor, data["key"])
	require.Equal(t, false, data["enabled"])

	code, _ = do(t, r, http.MethodPut, "/api/v1/admin/features/unknown", `{"enabled":true}`)
	require.Equal(t, http.StatusNotFound, code)

	code, resp = do(t, r, http.MethodGet, "/api/v1/admin/features", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, resp.Data, len(service.FeatureKeys()))
}

func TestInvestmentRoutesValidate(t *testing.T) {
	r := gin.New()
	(&InvestmentHandler{Service: &service.InvestmentService{}}).Register(r)

	code, _ := do(t, r, http.MethodPost, "/api/v1/investments/abc/pause", "")
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, r, http.MethodPost, "/api/v1/investments", `{"fund_id":1}`)
	require.Equal(t, http.StatusBadRequest, code)

	missing := gin.New()
	(&InvestmentHandler{}).Register(missing)
	code, _ = do(t, missing, http.MethodGet, "/api/v1/investments/1", "")
	require.Equal(t, http.StatusInternalServerError, code)
}
