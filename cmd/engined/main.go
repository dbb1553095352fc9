package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/tidehook/tidehook/internal/api"
	"github.com/tidehook/tidehook/internal/auth"
	"github.com/tidehook/tidehook/internal/config"
	"github.com/tidehook/tidehook/internal/dlq"
	"github.com/tidehook/tidehook/internal/job"
	"github.com/tidehook/tidehook/internal/logging"
	"github.com/tidehook/tidehook/internal/metrics"
	"github.com/tidehook/tidehook/internal/quota"
	"github.com/tidehook/tidehook/internal/store/postgres"
	redisstore "github.com/tidehook/tidehook/internal/store/redis"
	"github.com/tidehook/tidehook/internal/tracing"
	"github.com/tidehook/tidehook/internal/webhook"
)

func main() {
	cfg := config.FromEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := logging.New("tidehook-engined")

	shutdownTracing, err := tracing.InitTracing(ctx, "tidehook-engined")
	if err != nil {
		logger.Plain().WithError(err).Fatal("failed to initialize tracing")
	}
	defer shutdownTracing()

	sched := job.Scheduler{
		Base:      cfg.Worker.BackoffBase,
		Cap:       cfg.Worker.BackoffCap,
		JitterPct: cfg.Worker.JitterPercent,
	}
	registry := job.NewRegistry()

	// storage backends
	var (
		pool     *pgxpool.Pool
		jobs     job.Store
		attempts webhook.AttemptStore
		quotas   quota.Store
		ledger   quota.Ledger
	)
	switch cfg.JobBackend {
	case "postgres":
		pool, err = postgres.Connect(ctx, cfg.DSN(), cfg.DB.MaxConns)
		if err != nil {
			logger.Plain().WithError(err).Fatal("db connect failed")
		}
		defer pool.Close()
		jobs = postgres.NewJobStore(pool, registry, sched)
		attempts = postgres.NewAttemptStore(pool)
		quotas = postgres.NewQuotaStore(pool)
		ledger = postgres.NewUsageLedger(pool)
	default:
		jobs = job.NewMemStore(registry, sched)
		attempts = webhook.NewMemAttemptStore()
		quotas = quota.NewMemStore()
		ledger = quota.NewMemLedger()
	}

	if cfg.Quota.Backend == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Plain().WithError(err).Fatal("redis connect failed")
		}
		defer rdb.Close()
		ledger = redisstore.NewUsageLedger(rdb)
	}

	enforcer := quota.NewEnforcer(quotas, ledger, nil)

	engine := webhook.NewEngine(attempts, webhook.EngineOpts{
		Timeout:         cfg.Webhook.Timeout,
		SignatureHeader: cfg.Webhook.SignatureHeader,
	})
	registry.Register(webhook.JobType, job.Registration{
		Handler:  engine.Handler(),
		Resource: "webhook_delivery",
	})

	// dead letter publishing is optional; without it terminal failures are
	// only visible through the API and metrics
	var terminalHook job.TerminalHook
	var dlqPublisher *dlq.Publisher
	if cfg.NSQ.PublishDLQ {
		dlqPublisher, err = dlq.NewPublisher(cfg.NSQ.NsqdTCPAddr, cfg.NSQ.DLQTopic)
		if err != nil {
			logger.Plain().WithError(err).Fatal("nsq producer for DLQ creation failed")
		}
		defer dlqPublisher.Stop()
		terminalHook = dlqPublisher.Hook()
	}

	dispatcher := job.NewDispatcher(jobs, registry, job.DispatcherOpts{
		Workers:        cfg.Worker.Count,
		PollInterval:   cfg.Worker.PollInterval,
		HandlerTimeout: cfg.Worker.HandlerTimeout,
		TerminalHook:   terminalHook,
	})
	go dispatcher.Run(ctx)

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)
	go pollQueueDepth(ctx, jobs)

	var validator *auth.JWTValidator
	if cfg.Auth.PublicKeyPEM != "" {
		validator, err = auth.NewJWTValidator(cfg.Auth.PublicKeyPEM, cfg.Auth.Issuer, cfg.Auth.Audience)
		if err != nil {
			logger.Plain().WithError(err).Fatal("invalid auth public key")
		}
	}

	server := api.NewServer(api.ServerOpts{
		Jobs:        jobs,
		Registry:    registry,
		Dispatcher:  dispatcher,
		Engine:      engine,
		Summarizer:  webhook.NewSummarizer(attempts, jobs),
		Quotas:      quotas,
		Enforcer:    enforcer,
		Validator:   validator,
		Pool:        pool,
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		MaxAttempts: cfg.MaxAttempts,
	})

	httpSrv := &http.Server{Addr: cfg.HTTPPort, Handler: server.Router()}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("engine HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("engine HTTP server failed")
		}
	}()

	logger.Plain().WithFields(map[string]any{
		"job_backend":   cfg.JobBackend,
		"quota_backend": cfg.Quota.Backend,
		"workers":       cfg.Worker.Count,
	}).Info("engine started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("shutting down engine")
	cancel() // stops the dispatcher; in-flight handlers see the deadline

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Plain().Info("engine stopped")
}

// pollQueueDepth keeps the queue depth gauge fresh between API requests.
func pollQueueDepth(ctx context.Context, jobs job.Store) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if stats, err := jobs.Stats(ctx); err == nil {
				metrics.UpdateQueueDepth(float64(stats.QueueDepth()))
			}
		}
	}
}
