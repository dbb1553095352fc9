package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type DB struct {
	User     string
	Pass     string
	Host     string
	Port     string
	Name     string
	MaxConns int32 // pgx pool ceiling
}

type Redis struct {
	Addr     string // e.g. redis:6379
	Password string
	DB       int
}

type NSQ struct {
	NsqdTCPAddr string // e.g. nsqd:4150
	DLQTopic    string // dead letter topic for terminally failed jobs
	PublishDLQ  bool   // whether to publish dead letters at all
}

type Worker struct {
	Count          int           // dispatcher pool size
	PollInterval   time.Duration // idle wait between empty claims
	HandlerTimeout time.Duration // per-job handler deadline
	BackoffBase    time.Duration // retry backoff base
	BackoffCap     time.Duration // retry backoff ceiling
	JitterPercent  float64       // backoff jitter percentage (0.0-1.0)
}

type Webhook struct {
	SignatureHeader string        // HTTP header carrying the HMAC signature
	Timeout         time.Duration // outbound delivery timeout
}

type Quota struct {
	Backend string // "memory", "redis" or "postgres"
}

type Auth struct {
	PublicKeyPEM string // RSA public key; empty disables API auth
	Issuer       string
	Audience     string
}

type Config struct {
	AppName     string
	HTTPPort    string // :8080
	JobBackend  string // "memory" or "postgres"
	MaxAttempts int    // default max_attempts when the caller omits it
	DB          DB
	Redis       Redis
	NSQ         NSQ
	Worker      Worker
	Webhook     Webhook
	Quota       Quota
	Auth        Auth
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func FromEnv() Config {
	return Config{
		AppName:     getenv("APP_NAME", "tidehook"),
		HTTPPort:    getenv("HTTP_PORT", ":8080"),
		JobBackend:  getenv("JOB_BACKEND", "memory"),
		MaxAttempts: getenvInt("MAX_ATTEMPTS", 3),
		DB: DB{
			User:     getenv("DB_USER", "postgres"),
			Pass:     getenv("DB_PASS", "postgres"),
			Host:     getenv("DB_HOST", "postgres"),
			Port:     getenv("DB_PORT", "5432"),
			Name:     getenv("DB_NAME", "tidehook"),
			MaxConns: int32(getenvInt("DB_MAX_CONNS", 10)),
		},
		Redis: Redis{
			Addr:     getenv("REDIS_ADDR", ""),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		NSQ: NSQ{
			NsqdTCPAddr: getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			DLQTopic:    getenv("NSQ_DLQ_TOPIC", "jobs_dlq"),
			PublishDLQ:  getenvBool("PUBLISH_DLQ_TOPIC", false),
		},
		Worker: Worker{
			Count:          getenvInt("WORKER_COUNT", 4),
			PollInterval:   getenvDuration("WORKER_POLL_INTERVAL", 250*time.Millisecond),
			HandlerTimeout: getenvDuration("HANDLER_TIMEOUT", 30*time.Second),
			BackoffBase:    getenvDuration("BACKOFF_BASE", time.Second),
			BackoffCap:     getenvDuration("BACKOFF_CAP", 10*time.Minute),
			JitterPercent:  getenvFloat("BACKOFF_JITTER_PCT", 0.25),
		},
		Webhook: Webhook{
			SignatureHeader: getenv("WEBHOOK_SIGNATURE_HEADER", "X-Tidehook-Signature"),
			Timeout:         getenvDuration("WEBHOOK_TIMEOUT", 15*time.Second),
		},
		Quota: Quota{
			Backend: getenv("QUOTA_BACKEND", "memory"),
		},
		Auth: Auth{
			PublicKeyPEM: getenv("AUTH_PUBLIC_KEY_PEM", ""),
			Issuer:       getenv("AUTH_ISSUER", "tidehook"),
			Audience:     getenv("AUTH_AUDIENCE", "tidehook-api"),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
