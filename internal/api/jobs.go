package api

import (
	"net/http"

	"github.com/dealmoa/deal-crawler/internal/config"
	"github.com/dealmoa/deal-crawler/internal/domain/models"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

type jobHandler struct {
	scheduler jobScheduler
	defaults  config.CrawlerConfig
}

// createJobRequest leaves optional fields nil so configured defaults apply.
type createJobRequest struct {
	Name            string `json:"name"`
	Source          string `json:"source"`
	Schedule        string `json:"schedule"`
	Enabled         *bool  `json:"enabled"`
	MaxPages        *int   `json:"max_pages"`
	TimeWindowHours *int   `json:"time_window_hours"`
}

type toggleJobRequest struct {
	Enabled *bool `json:"enabled"`
}

type crawlRequest struct {
	Source          string `json:"source"`
	MaxPages        *int   `json:"max_pages"`
	TimeWindowHours *int   `json:"time_window_hours"`
}

func (h *jobHandler) listSources(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sources": h.scheduler.Sources()})
}

func (h *jobHandler) list(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.scheduler.GetAllJobs()})
}

func (h *jobHandler) get(c *gin.Context) {
	job, ok := h.scheduler.GetJob(c.Param("id"))
	if !ok {
		writeError(c, errors.Wrap(models.ErrJobNotFound, c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *jobHandler) create(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job := models.NewCrawlJob(
		models.Source(req.Source),
		req.Schedule,
		lo.FromPtrOr(req.MaxPages, h.defaults.DefaultMaxPages),
		lo.FromPtrOr(req.TimeWindowHours, h.defaults.DefaultTimeWindowHours),
		lo.FromPtrOr(req.Enabled, true),
	)
	job.Name = req.Name

	created, err := h.scheduler.AddJob(c.Request.Context(), *job)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *jobHandler) remove(c *gin.Context) {
	if err := h.scheduler.RemoveJob(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *jobHandler) toggle(c *gin.Context) {
	var req toggleJobRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"enabled\": true|false}"})
		return
	}

	job, err := h.scheduler.ToggleJob(c.Request.Context(), c.Param("id"), *req.Enabled)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *jobHandler) trigger(c *gin.Context) {
	id := c.Param("id")
	if err := h.scheduler.TriggerJob(id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "started", "job_id": id})
}

// crawl runs a manual crawl and answers once it is finished.
func (h *jobHandler) crawl(c *gin.Context) {
	var req crawlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts := models.ManualRunOptions{
		MaxPages:        lo.FromPtrOr(req.MaxPages, h.defaults.DefaultMaxPages),
		TimeWindowHours: lo.FromPtrOr(req.TimeWindowHours, h.defaults.DefaultTimeWindowHours),
	}

	result, err := h.scheduler.RunCrawlManually(c.Request.Context(), models.Source(req.Source), opts)
	if err != nil {
		var failure *models.FetchFailure
		if errors.As(err, &failure) {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "result": result})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func writeError(c *gin.Context, err error) {
	var configErr *models.ConfigurationError
	switch {
	case errors.As(err, &configErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "field": configErr.Field})
	case errors.Is(err, models.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrJobRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrSchedulerStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
