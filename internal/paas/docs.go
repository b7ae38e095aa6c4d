package paas

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func RegisterDocs(r *gin.Engine) {
	r.GET("/docs", func(c *gin.Context) {
		c.Header("Content-Type", "text/markdown; charset=utf-8")
		c.String(http.StatusOK, `# Copy Fund Scheduler

Runs recurring investments (SIPs), replicates trader wallet activity into
fund investments, and prunes the trade replication ledger.

## Access via PaaS

Base path (through gateway):
- /api/v1/services/copyfund/

## Auth

All /api/* routes require a Bearer token (validated by the PaaS gateway).
Health and metrics endpoints are public.

## Routes (upstream)

- GET /healthz
- GET /readyz
- GET /metrics
- GET /api/v1/sips/upcoming
- POST /api/v1/investments
- GET /api/v1/investments/:id
- POST /api/v1/investments/:id/pause
- POST /api/v1/investments/:id/resume
- POST /api/v1/investments/:id/cancel
- GET /api/v1/replications
- POST /api/v1/admin/setup
- GET /api/v1/admin/jobs
- POST /api/v1/admin/jobs/:name/run
- GET /api/v1/admin/features
- PUT /api/v1/admin/features/:key
`)
	})
}
