package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/transcript-refinery/internal/cluster"
	"github.com/jonesrussell/transcript-refinery/internal/logger"
	"github.com/jonesrussell/transcript-refinery/internal/metrics"
	"github.com/jonesrussell/transcript-refinery/internal/models"
	"github.com/jonesrussell/transcript-refinery/internal/youtube"
)

// Handlers provides HTTP handlers for the API
type Handlers struct {
	manager *cluster.Manager
	metrics *metrics.Metrics
	logger  logger.Logger
	version string
}

// NewHandlers creates a new handlers instance
func NewHandlers(manager *cluster.Manager, m *metrics.Metrics, log logger.Logger, version string) *Handlers {
	return &Handlers{
		manager: manager,
		metrics: m,
		logger:  log,
		version: version,
	}
}

// CreateClusterRequest is the body of POST /api/v1/clusters.
type CreateClusterRequest struct {
	Name             string   `json:"name" binding:"required"`
	URLs             []string `json:"urls" binding:"required"`
	CleanTranscripts bool     `json:"clean_transcripts"`
}

// CreateVideoTaskRequest is the body of POST /api/v1/videos.
type CreateVideoTaskRequest struct {
	URL   string `json:"url" binding:"required"`
	Clean bool   `json:"clean"`
}

// CreateCluster handles POST /api/v1/clusters
func (h *Handlers) CreateCluster(c *gin.Context) {
	var req CreateClusterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rc, err := h.manager.Create(c.Request.Context(), req.Name, req.URLs, req.CleanTranscripts)
	if err != nil {
		h.fail(c, "Failed to create cluster", err)
		return
	}
	h.metrics.ClustersCreated.Inc()

	c.JSON(http.StatusCreated, rc)
}

// ListClusters handles GET /api/v1/clusters
func (h *Handlers) ListClusters(c *gin.Context) {
	clusters, err := h.manager.List(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to list clusters", err)
		return
	}

	projections := make([]models.StatusProjection, 0, len(clusters))
	for _, rc := range clusters {
		projections = append(projections, rc.Project())
	}

	c.JSON(http.StatusOK, gin.H{
		"clusters": projections,
		"count":    len(projections),
	})
}

// GetCluster handles GET /api/v1/clusters/:id
func (h *Handlers) GetCluster(c *gin.Context) {
	rc, err := h.manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get cluster", err)
		return
	}
	c.JSON(http.StatusOK, rc)
}

// GetClusterStatus handles GET /api/v1/clusters/:id/status
func (h *Handlers) GetClusterStatus(c *gin.Context) {
	projection, err := h.manager.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get cluster status", err)
		return
	}
	c.JSON(http.StatusOK, projection)
}

// StartIngestion handles POST /api/v1/clusters/:id/ingest
func (h *Handlers) StartIngestion(c *gin.Context) {
	id := c.Param("id")
	if err := h.manager.EnqueueIngestion(c.Request.Context(), id); err != nil {
		h.fail(c, "Failed to start ingestion", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": models.ClusterIngesting})
}

// StartSynthesis handles POST /api/v1/clusters/:id/synthesize
func (h *Handlers) StartSynthesis(c *gin.Context) {
	id := c.Param("id")
	handle, err := h.manager.StartSynthesis(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to start synthesis", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"id":     id,
		"status": models.ClusterSynthesizing,
		"job_id": handle.JobID,
	})
}

// GetReport handles GET /api/v1/clusters/:id/report
func (h *Handlers) GetReport(c *gin.Context) {
	rc, err := h.manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get cluster", err)
		return
	}
	if rc.Status != models.ClusterComplete || rc.ReportPath == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "report not available", "status": rc.Status})
		return
	}
	c.FileAttachment(rc.ReportPath, rc.Name+".md")
}

// CreateVideoTask handles POST /api/v1/videos
func (h *Handlers) CreateVideoTask(c *gin.Context) {
	var req CreateVideoTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := h.manager.CreateVideoTask(c.Request.Context(), req.URL, req.Clean)
	if err != nil {
		h.fail(c, "Failed to create video task", err)
		return
	}
	c.JSON(http.StatusAccepted, task)
}

// GetTask handles GET /api/v1/tasks/:id
func (h *Handlers) GetTask(c *gin.Context) {
	task, err := h.manager.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get task", err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// Health handles GET /health
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "refinery",
		"version": h.version,
	})
}

// fail maps domain errors to HTTP status codes and logs the failure.
func (h *Handlers) fail(c *gin.Context, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, youtube.ErrInvalidURL):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrInsufficientContent),
		errors.Is(err, models.ErrCostLimitExceeded):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		h.logger.Error(msg,
			logger.Error(err),
			logger.String("path", c.Request.URL.Path),
			logger.String("method", c.Request.Method),
		)
	} else {
		h.logger.Warn(msg,
			logger.Error(err),
			logger.String("path", c.Request.URL.Path),
		)
	}

	c.JSON(status, gin.H{"error": err.Error()})
}
