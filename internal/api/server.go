package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tidehook/tidehook/internal/auth"
	"github.com/tidehook/tidehook/internal/health"
	"github.com/tidehook/tidehook/internal/job"
	"github.com/tidehook/tidehook/internal/logging"
	"github.com/tidehook/tidehook/internal/quota"
	"github.com/tidehook/tidehook/internal/webhook"
)

// Aborter cancels an in-flight job execution by ID. Satisfied by the
// dispatcher; nil is fine for API-only deployments.
type Aborter interface {
	Abort(id string)
}

// Server wires the HTTP surface to the engine's stores and services.
type Server struct {
	jobs        job.Store
	registry    *job.Registry
	dispatcher  Aborter
	engine      *webhook.Engine
	summarizer  *webhook.Summarizer
	quotas      quota.Store
	enforcer    *quota.Enforcer
	validator   *auth.JWTValidator
	pool        *pgxpool.Pool
	metricsH    http.Handler
	maxAttempts int
	logger      *logging.Logger
}

type ServerOpts struct {
	Jobs       job.Store
	Registry   *job.Registry
	Dispatcher Aborter
	Engine     *webhook.Engine
	Summarizer *webhook.Summarizer
	Quotas     quota.Store
	Enforcer   *quota.Enforcer
	Validator  *auth.JWTValidator // nil disables auth
	Pool       *pgxpool.Pool      // nil skips the DB health probe
	Metrics    http.Handler
	// MaxAttempts is the default attempt budget when the enqueue request
	// does not set one.
	MaxAttempts int
}

func NewServer(opts ServerOpts) *Server {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Server{
		jobs:        opts.Jobs,
		registry:    opts.Registry,
		dispatcher:  opts.Dispatcher,
		engine:      opts.Engine,
		summarizer:  opts.Summarizer,
		quotas:      opts.Quotas,
		enforcer:    opts.Enforcer,
		validator:   opts.Validator,
		pool:        opts.Pool,
		metricsH:    opts.Metrics,
		maxAttempts: opts.MaxAttempts,
		logger:      logging.New("tidehook-api"),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(s.requestLogger(), gin.Recovery())
	_ = r.SetTrustedProxies(nil)

	r.GET("/healthz", gin.WrapF(health.HTTPHandler(s.pool)))
	if s.metricsH != nil {
		r.GET("/metrics", gin.WrapH(s.metricsH))
	}

	v1 := r.Group("/v1")
	v1.Use(auth.GinMiddleware(s.validator))
	{
		v1.POST("/jobs", s.createJob)
		v1.GET("/jobs", s.listJobs)
		v1.GET("/jobs/stats", s.jobStats)
		v1.GET("/jobs/:id", s.getJob)
		v1.POST("/jobs/:id/retry", s.retryJob)
		v1.POST("/jobs/:id/cancel", s.cancelJob)

		v1.POST("/webhooks/test", s.testWebhook)
		v1.POST("/webhooks/validate-signature", s.validateSignature)
		v1.GET("/webhooks/metrics", s.webhookMetrics)

		v1.GET("/quotas", s.listQuotas)
		v1.GET("/quotas/status", s.quotaStatus)
		v1.POST("/quotas", s.setQuota)
		v1.DELETE("/quotas/:id", s.deleteQuota)
	}

	return r
}

// requestLogger emits one structured line per request.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := s.logger.WithContext(c.Request.Context()).WithFields(map[string]any{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
		})
		if tenant, ok := auth.TenantFromGin(c); ok {
			entry = entry.WithTenant(tenant)
		}
		if c.Writer.Status() >= 500 {
			entry.Error("request failed")
		} else {
			entry.Info("request")
		}
	}
}

// tenant returns the authenticated tenant, or "default" when auth is
// disabled.
func (s *Server) tenant(c *gin.Context) string {
	if t, ok := auth.TenantFromGin(c); ok {
		return t
	}
	return "default"
}
