package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tidehook/tidehook/internal/job"
	"github.com/tidehook/tidehook/internal/logging"
	"github.com/tidehook/tidehook/internal/metrics"
	"github.com/tidehook/tidehook/internal/tracing"
)

// JobType is the job type handled by the delivery engine.
const JobType = "send_webhook"

// DefaultSignatureHeader carries the HMAC signature of the request body.
const DefaultSignatureHeader = "X-Tidehook-Signature"

const maxResponseBytes = 1024

// Result summarizes one delivery try for callers (job result, test endpoint).
type Result struct {
	HTTPStatus    int    `json:"http_status"`
	LatencyMS     int64  `json:"latency_ms"`
	SignatureSent string `json:"signature_sent,omitempty"`
	ResponseBody  string `json:"response_body,omitempty"`
}

// Engine signs and POSTs webhook envelopes to tenant-configured endpoints.
// Every try, success or failure, is recorded as an Attempt.
type Engine struct {
	client    *http.Client
	attempts  AttemptStore
	sigHeader string
	logger    *logging.Logger
}

type EngineOpts struct {
	Timeout         time.Duration
	SignatureHeader string
}

func NewEngine(attempts AttemptStore, opts EngineOpts) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.SignatureHeader == "" {
		opts.SignatureHeader = DefaultSignatureHeader
	}
	return &Engine{
		client:    &http.Client{Timeout: opts.Timeout},
		attempts:  attempts,
		sigHeader: opts.SignatureHeader,
		logger:    logging.New("tidehook-webhook"),
	}
}

// Handler adapts the engine to the dispatcher's handler contract.
func (e *Engine) Handler() job.Handler {
	return func(ctx context.Context, j *job.Job) (json.RawMessage, error) {
		var p Payload
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return nil, job.Permanent("invalid webhook payload: %v", err)
		}
		if err := validatePayload(p); err != nil {
			return nil, job.Permanent("%v", err)
		}

		res, err := e.send(ctx, p, j.ID, j.Attempts)
		if err != nil {
			return nil, err
		}
		out, mErr := json.Marshal(res)
		if mErr != nil {
			return nil, job.Retryable("encode result: %v", mErr)
		}
		return out, nil
	}
}

// DeliverTest performs an ad hoc delivery that is not attached to a job.
// The attempt is still recorded so test traffic shows up in metrics.
func (e *Engine) DeliverTest(ctx context.Context, p Payload) (*Result, error) {
	if err := validatePayload(p); err != nil {
		return nil, err
	}
	res, err := e.send(ctx, p, "", 1)
	if err != nil && res != nil {
		// the test endpoint reports failed tries as data, not as an error
		return res, nil
	}
	return res, err
}

func validatePayload(p Payload) error {
	if p.TargetURL == "" || p.EventType == "" {
		return fmt.Errorf("target_url and event_type are required")
	}
	if _, err := url.ParseRequestURI(p.TargetURL); err != nil {
		return fmt.Errorf("invalid target_url: %w", err)
	}
	return nil
}

// send builds the envelope, signs the exact bytes that go on the wire,
// performs the POST and records the attempt. On failure it returns the
// partial Result together with a retryable handler error.
func (e *Engine) send(ctx context.Context, p Payload, jobID string, attemptNo int) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "webhook.send",
		attribute.String("target_url", p.TargetURL),
		attribute.String("event_type", p.EventType),
		attribute.Int("attempt", attemptNo),
	)
	defer span.End()

	body, err := EncodeEnvelope(p, time.Now())
	if err != nil {
		return nil, job.Permanent("encode envelope: %v", err)
	}
	signature := ""
	if p.Secret != "" {
		// sign the final byte buffer, never a re-encoded object
		signature = Sign(p.Secret, body)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TargetURL, bytes.NewReader(body))
	if err != nil {
		return nil, job.Permanent("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(e.sigHeader, signature)
	}

	start := time.Now()
	resp, doErr := e.client.Do(req)
	latency := time.Since(start)

	status := 0
	respBody := ""
	if doErr == nil {
		status = resp.StatusCode
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		respBody = string(b)
		_ = resp.Body.Close()
	}

	span.SetAttributes(
		attribute.Int("http.status_code", status),
		attribute.Int64("http.latency_ms", latency.Milliseconds()),
	)

	ok := doErr == nil && status >= 200 && status < 300
	outcome := OutcomeFailure
	if ok {
		outcome = OutcomeSuccess
	}

	attempt := &Attempt{
		JobID:         jobID,
		TargetURL:     p.TargetURL,
		EventType:     p.EventType,
		Body:          body,
		Signature:     signature,
		HTTPStatus:    status,
		LatencyMS:     latency.Milliseconds(),
		Outcome:       outcome,
		AttemptNumber: attemptNo,
		ResponseBody:  respBody,
	}
	if err := e.attempts.Record(ctx, attempt); err != nil {
		e.logger.WithContext(ctx).WithJob(jobID).WithError(err).Error("record attempt failed")
	}
	metrics.RecordDelivery(outcome, latency)

	res := &Result{
		HTTPStatus:    status,
		LatencyMS:     latency.Milliseconds(),
		SignatureSent: signature,
		ResponseBody:  respBody,
	}
	if ok {
		e.logger.WithContext(ctx).WithJob(jobID).WithTarget(p.TargetURL).WithFields(map[string]any{
			"http_status": status,
			"latency_ms":  latency.Milliseconds(),
			"attempt":     attemptNo,
		}).Info("webhook delivered")
		return res, nil
	}

	reason := classifyReason(doErr, status)
	metrics.RecordDeliveryRetry(reason)
	tracing.SetSpanError(ctx, doErr)
	e.logger.WithContext(ctx).WithJob(jobID).WithTarget(p.TargetURL).WithFields(map[string]any{
		"http_status": status,
		"reason":      reason,
		"attempt":     attemptNo,
	}).WithError(doErr).Warn("webhook delivery failed")

	if doErr != nil {
		return res, job.Retryable("delivery failed (%s): %v", reason, doErr)
	}
	return res, job.Retryable("delivery failed (%s): HTTP %d", reason, status)
}

// classifyReason buckets a failed try for the retry metrics.
func classifyReason(doErr error, status int) string {
	if doErr != nil {
		errLower := strings.ToLower(doErr.Error())
		if strings.Contains(errLower, "timeout") || strings.Contains(errLower, "deadline exceeded") {
			return "timeout"
		}
		if strings.Contains(errLower, "connection refused") {
			return "connection_refused"
		}
		if strings.Contains(errLower, "no such host") || strings.Contains(errLower, "dns") {
			return "dns_error"
		}
		return "network"
	}
	if status >= 500 {
		return "http_5xx"
	}
	if status == 429 {
		return "http_429"
	}
	if status >= 400 {
		return "http_4xx"
	}
	return "other"
}
