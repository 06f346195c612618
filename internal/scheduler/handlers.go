package scheduler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes the job registry for operational control.
type Handler struct {
	sched *Scheduler
}

// NewHandler creates a new scheduler handler.
func NewHandler(sched *Scheduler) *Handler {
	return &Handler{sched: sched}
}

// RegisterAdminRoutes sets up admin-only scheduler routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/jobs", h.ListJobs)
	r.POST("/jobs/:name/enable", h.EnableJob)
	r.POST("/jobs/:name/disable", h.DisableJob)
	r.POST("/jobs/:name/run", h.RunJob)
}

// ListJobs handles GET /v1/admin/jobs
func (h *Handler) ListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.sched.Jobs()})
}

// EnableJob handles POST /v1/admin/jobs/:name/enable
func (h *Handler) EnableJob(c *gin.Context) {
	h.setEnabled(c, true)
}

// DisableJob handles POST /v1/admin/jobs/:name/disable
func (h *Handler) DisableJob(c *gin.Context) {
	h.setEnabled(c, false)
}

func (h *Handler) setEnabled(c *gin.Context, enabled bool) {
	if err := h.sched.SetEnabled(c.Param("name"), enabled); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Job not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": c.Param("name"), "enabled": enabled})
}

// RunJob handles POST /v1/admin/jobs/:name/run
func (h *Handler) RunJob(c *gin.Context) {
	result, err := h.sched.RunJob(c.Request.Context(), c.Param("name"))
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Job not found",
			})
			return
		}
		if errors.Is(err, ErrJobBusy) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "job_running",
				"message": "Job is already running",
			})
			return
		}
		if result == nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "job_failed",
				"message": err.Error(),
			})
			return
		}
		// Partial failure: report what committed alongside the error.
		c.JSON(http.StatusOK, gin.H{
			"job":       c.Param("name"),
			"processed": result.Processed,
			"skipped":   result.Skipped,
			"failed":    len(result.Failures),
			"error":     err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"job":       c.Param("name"),
		"processed": result.Processed,
		"skipped":   result.Skipped,
		"failed":    len(result.Failures),
	})
}
