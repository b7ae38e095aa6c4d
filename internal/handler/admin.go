package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	cronrunner "copyfund/internal/cron"
	"copyfund/internal/service"
)

// JobRunner is the part of the cron runner the admin API needs.
type JobRunner interface {
	Trigger(ctx context.Context, name string) (bool, error)
	Jobs() []cronrunner.JobInfo
}

type AdminHandler struct {
	Setup    *service.SetupService
	Settings *service.SystemSettingsService
	Jobs     JobRunner
}

func (h *AdminHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/admin")
	g.POST("/setup", h.setup)
	g.GET("/setup", h.setupStatus)
	g.GET("/jobs", h.listJobs)
	g.POST("/jobs/:name/run", h.runJob)
	g.GET("/features", h.listFeatures)
	g.PUT("/features/:key", h.putFeature)
}

func (h *AdminHandler) setup(c *gin.Context) {
	if h.Setup == nil {
		Error(c, http.StatusInternalServerError, "setup service unavailable", nil)
		return
	}
	force := false
	if v := boolQueryPtr(c, "force"); v != nil {
		force = *v
	}
	res, err := h.Setup.Run(c.Request.Context(), force)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, gin.H{"status": res.Status, "skipped": res.Skipped}, nil)
}

func (h *AdminHandler) setupStatus(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings service unavailable", nil)
		return
	}
	status, err := h.Settings.SetupStatus(c.Request.Context())
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, status, nil)
}

func (h *AdminHandler) listJobs(c *gin.Context) {
	if h.Jobs == nil {
		Error(c, http.StatusInternalServerError, "job runner unavailable", nil)
		return
	}
	Ok(c, h.Jobs.Jobs(), nil)
}

// runJob runs a job synchronously with the same lease and overlap guards as
// the cron tick.
func (h *AdminHandler) runJob(c *gin.Context) {
	if h.Jobs == nil {
		Error(c, http.StatusInternalServerError, "job runner unavailable", nil)
		return
	}
	name := strings.TrimSpace(c.Param("name"))
	ran, err := h.Jobs.Trigger(c.Request.Context(), name)
	if errors.Is(err, cronrunner.ErrUnknownJob) {
		Error(c, http.StatusNotFound, err.Error(), nil)
		return
	}
	if err != nil {
		ServiceError(c, err)
		return
	}
	if !ran {
		Error(c, http.StatusConflict, "job already running", map[string]any{"job": name})
		return
	}
	Ok(c, gin.H{"job": name, "ran": true}, nil)
}

func (h *AdminHandler) listFeatures(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings service unavailable", nil)
		return
	}
	out := make([]gin.H, 0, 3)
	for _, key := range service.FeatureKeys() {
		out = append(out, gin.H{
			"key":     key,
			"enabled": h.Settings.IsEnabled(c.Request.Context(), key, true),
		})
	}
	Ok(c, out, nil)
}

type putFeatureRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *AdminHandler) putFeature(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings service unavailable", nil)
		return
	}
	key := strings.TrimSpace(c.Param("key"))
	if !strings.HasPrefix(key, "feature.") {
		key = "feature." + key
	}
	if _, ok := service.DefaultFeatureSwitches()[key]; !ok {
		Error(c, http.StatusNotFound, "unknown feature", nil)
		return
	}
	var req putFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if err := h.Settings.SetEnabled(c.Request.Context(), key, req.Enabled); err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, gin.H{"key": key, "enabled": req.Enabled}, nil)
}
