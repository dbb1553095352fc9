package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tidehook/tidehook/internal/quota"
)

type setQuotaRequest struct {
	TenantID              string  `json:"tenant_id"`
	ResourceType          string  `json:"resource_type"`
	Period                string  `json:"period"`
	LimitValue            int64   `json:"limit_value"`
	IsHardLimit           bool    `json:"is_hard_limit"`
	NotificationThreshold float64 `json:"notification_threshold"`
}

func (s *Server) setQuota(c *gin.Context) {
	var req setQuotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.TenantID == "" || req.ResourceType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id and resource_type are required"})
		return
	}
	period := quota.Period(req.Period)
	if !period.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "period must be hourly, daily or monthly"})
		return
	}
	if req.LimitValue <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit_value must be positive"})
		return
	}
	if req.NotificationThreshold < 0 || req.NotificationThreshold > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "notification_threshold must be between 0 and 100"})
		return
	}

	q, err := s.quotas.Set(c.Request.Context(), &quota.Quota{
		TenantID:              req.TenantID,
		ResourceType:          req.ResourceType,
		Period:                period,
		LimitValue:            req.LimitValue,
		IsHardLimit:           req.IsHardLimit,
		NotificationThreshold: req.NotificationThreshold,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, q)
}

func (s *Server) listQuotas(c *gin.Context) {
	quotas, err := s.quotas.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"quotas": quotas, "count": len(quotas)})
}

func (s *Server) quotaStatus(c *gin.Context) {
	statuses, err := s.enforcer.StatusAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"statuses": statuses})
}

func (s *Server) deleteQuota(c *gin.Context) {
	if err := s.quotas.Delete(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, quota.ErrQuotaNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "quota not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
