package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tidehook/tidehook/internal/job"
	"github.com/tidehook/tidehook/internal/metrics"
	"github.com/tidehook/tidehook/internal/quota"
)

type createJobRequest struct {
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	MaxAttempts int             `json:"max_attempts"`
}

func (s *Server) createJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Type == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type is required"})
		return
	}
	reg, ok := s.registry.Lookup(req.Type)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown job type: " + req.Type})
		return
	}

	// metered job types pass the quota gate before anything is persisted
	if reg.Resource != "" && s.enforcer != nil {
		tenant := s.tenant(c)
		if err := s.enforcer.Admit(c.Request.Context(), tenant, reg.Resource, reg.Quantity); err != nil {
			var exc *quota.ExceededError
			if errors.As(err, &exc) {
				c.JSON(http.StatusTooManyRequests, gin.H{
					"error":         "quota exceeded",
					"resource_type": exc.ResourceType,
					"current":       exc.Current,
					"requested":     exc.Requested,
					"limit":         exc.Limit,
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.maxAttempts
	}
	j, err := s.jobs.Enqueue(c.Request.Context(), req.Type, req.Payload, maxAttempts)
	if err != nil {
		if errors.Is(err, job.ErrInvalidJobType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	metrics.RecordEnqueue(j.Type)
	s.updateQueueDepth(c)
	c.JSON(http.StatusCreated, j)
}

func (s *Server) getJob(c *gin.Context) {
	j, err := s.jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.jobError(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

func (s *Server) listJobs(c *gin.Context) {
	var status job.Status
	if raw := c.Query("status"); raw != "" {
		status = job.Status(raw)
		switch status {
		case job.StatusPending, job.StatusRunning, job.StatusCompleted, job.StatusFailed:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status: " + raw})
			return
		}
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit: " + raw})
			return
		}
		limit = n
	}
	jobs, err := s.jobs.List(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) jobStats(c *gin.Context) {
	stats, err := s.jobs.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	metrics.UpdateQueueDepth(float64(stats.QueueDepth()))
	c.JSON(http.StatusOK, gin.H{
		"pending":     stats.Pending,
		"running":     stats.Running,
		"completed":   stats.Completed,
		"failed":      stats.Failed,
		"queue_depth": stats.QueueDepth(),
	})
}

func (s *Server) retryJob(c *gin.Context) {
	id := c.Param("id")
	if err := s.jobs.Retry(c.Request.Context(), id); err != nil {
		s.jobError(c, err)
		return
	}
	j, err := s.jobs.Get(c.Request.Context(), id)
	if err != nil {
		s.jobError(c, err)
		return
	}
	s.updateQueueDepth(c)
	c.JSON(http.StatusOK, j)
}

func (s *Server) cancelJob(c *gin.Context) {
	id := c.Param("id")
	if err := s.jobs.Cancel(c.Request.Context(), id); err != nil {
		s.jobError(c, err)
		return
	}
	// stop any in-flight execution; the store transition already happened
	if s.dispatcher != nil {
		s.dispatcher.Abort(id)
	}
	j, err := s.jobs.Get(c.Request.Context(), id)
	if err != nil {
		s.jobError(c, err)
		return
	}
	s.updateQueueDepth(c)
	c.JSON(http.StatusOK, j)
}

// jobError maps store errors to HTTP status codes.
func (s *Server) jobError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, job.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, job.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, job.ErrInvalidJobType):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) updateQueueDepth(c *gin.Context) {
	if stats, err := s.jobs.Stats(c.Request.Context()); err == nil {
		metrics.UpdateQueueDepth(float64(stats.QueueDepth()))
	}
}
