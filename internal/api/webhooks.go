package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tidehook/tidehook/internal/webhook"
)

func (s *Server) testWebhook(c *gin.Context) {
	var p webhook.Payload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	res, err := s.engine.DeliverTest(c.Request.Context(), p)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

type validateSignatureRequest struct {
	Body      string `json:"body"`
	Secret    string `json:"secret"`
	Signature string `json:"provided_signature"`
}

func (s *Server) validateSignature(c *gin.Context) {
	var req validateSignatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Secret == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "secret is required"})
		return
	}
	valid, expected := webhook.Validate([]byte(req.Body), req.Secret, req.Signature)
	c.JSON(http.StatusOK, gin.H{
		"valid":              valid,
		"expected_signature": expected,
	})
}

func (s *Server) webhookMetrics(c *gin.Context) {
	summary, err := s.summarizer.Summarize(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}
