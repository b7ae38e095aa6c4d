package paas

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"copyfund/internal/config"
)

func newEngine(cfg config.PaaSConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequireBearerMiddleware(cfg))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/v1/replications", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func serve(r *gin.Engine, path string, headers map[string]string) int {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRequireBearer(t *testing.T) {
	r := newEngine(config.PaaSConfig{})
	require.Equal(t, http.StatusOK, serve(r, "/healthz", nil))
	require.Equal(t, http.StatusUnauthorized, serve(r, "/api/v1/replications", nil))
	require.Equal(t, http.StatusOK, serve(r, "/api/v1/replications", map[string]string{"Authorization": "Bearer x"}))
}

func TestRequireGatewayHeader(t *testing.T) {
	r := newEngine(config.PaaSConfig{RequireGateway: true})
	require.Equal(t, http.StatusUnauthorized, serve(r, "/api/v1/replications", map[string]string{"Authorization": "Bearer x"}))
	require.Equal(t, http.StatusOK, serve(r, "/api/v1/replications", map[string]string{
		"Authorization":      "Bearer x",
		"X-Easyweb3-Project": "copyfund",
	}))
}

func TestAuthDisabled(t *testing.T) {
	r := newEngine(config.PaaSConfig{AuthDisabled: true})
	require.Equal(t, http.StatusOK, serve(r, "/api/v1/replications", nil))
}

func TestReporterNilSafe(t *testing.T) {
	var r *Reporter
	require.False(t, r.Enabled())
	r.Report("noop", "info", nil)
	require.Nil(t, NewClient(config.PaaSConfig{BaseURL: "http://x"}))
}
