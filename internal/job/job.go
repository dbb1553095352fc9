package job

import (
	"context"
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a job. Only pending and running are
// transitional; completed and failed are terminal and immutable.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CancelledErrorText is the error_text recorded when a job is cancelled.
// Cancellation shares the failed status; callers distinguish it via the
// Cancelled flag, not by matching this string.
const CancelledErrorText = "Cancelled by user"

// Job is one unit of asynchronous work with a bounded number of attempts.
type Job struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Status         Status          `json:"status"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	Result         json.RawMessage `json:"result,omitempty"`
	ErrorText      string          `json:"error_text,omitempty"`
	Cancelled      bool            `json:"cancelled,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	NextEligibleAt time.Time       `json:"next_eligible_at"`
}

// Stats holds per-status job counts.
type Stats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// QueueDepth is the number of jobs that have not reached a terminal state.
func (s Stats) QueueDepth() int {
	return s.Pending + s.Running
}

// Handler executes one claimed job. A nil error completes the job with the
// returned result; a *HandlerError decides between requeue and permanent
// failure; any other error is treated as retryable.
type Handler func(ctx context.Context, j *Job) (json.RawMessage, error)

// Store is the durable record of jobs and their state transitions. Claim is
// the sole mutual-exclusion point: implementations must guarantee that two
// concurrent claimers never both receive the same job.
type Store interface {
	// Enqueue persists a new pending job. The type must have a registered
	// handler; ErrInvalidJobType otherwise.
	Enqueue(ctx context.Context, jobType string, payload json.RawMessage, maxAttempts int) (*Job, error)

	// Claim atomically transitions one eligible pending job to running,
	// setting started_at and incrementing attempts. Returns nil when no
	// job is eligible; that is not an error.
	Claim(ctx context.Context) (*Job, error)

	// Complete transitions running -> completed and records the result.
	Complete(ctx context.Context, id string, result json.RawMessage) error

	// Fail records a failed attempt. If attempts >= max_attempts the job
	// becomes terminally failed; otherwise it is requeued as pending with
	// next_eligible_at computed by the retry scheduler.
	Fail(ctx context.Context, id string, errorText string) error

	// FailPermanent forces running -> failed regardless of remaining
	// attempts. Used for non-retryable handler errors.
	FailPermanent(ctx context.Context, id string, errorText string) error

	// Cancel transitions pending or running -> failed with the
	// cancellation marker set. Any other state is ErrInvalidTransition.
	Cancel(ctx context.Context, id string) error

	// Retry is the operator exception path: it resets a terminally failed
	// job back to pending with attempts zeroed.
	Retry(ctx context.Context, id string) error

	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, status Status, limit int) ([]*Job, error)
	Stats(ctx context.Context) (Stats, error)
}
