package dlq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/tidehook/tidehook/internal/job"
	"github.com/tidehook/tidehook/internal/logging"
	"github.com/tidehook/tidehook/internal/metrics"
	"github.com/tidehook/tidehook/internal/tracing"
)

const DeadLetterType = "job.dead_letter"

// DeadLetter is the envelope published when a job terminally fails.
type DeadLetter struct {
	Type         string            `json:"type"`    // "job.dead_letter"
	Version      string            `json:"version"` // schema version
	At           string            `json:"at"`      // RFC3339 time the dead letter was emitted
	JobID        string            `json:"job_id"`
	JobType      string            `json:"job_type"`
	Attempts     int               `json:"attempts"`
	ErrorText    string            `json:"error_text,omitempty"`
	Cancelled    bool              `json:"cancelled,omitempty"`
	Payload      json.RawMessage   `json:"payload,omitempty"`
	TraceHeaders map[string]string `json:"trace_headers,omitempty"`
}

// NewDeadLetter snapshots a terminally failed job.
func NewDeadLetter(j *job.Job) DeadLetter {
	return DeadLetter{
		Type:      DeadLetterType,
		Version:   "v1",
		At:        time.Now().UTC().Format(time.RFC3339Nano),
		JobID:     j.ID,
		JobType:   j.Type,
		Attempts:  j.Attempts,
		ErrorText: j.ErrorText,
		Cancelled: j.Cancelled,
		Payload:   j.Payload,
	}
}

// Publisher publishes dead letters to an NSQ topic so downstream consumers
// can alert on or reprocess terminal failures.
type Publisher struct {
	producer *nsq.Producer
	topic    string
	logger   *logging.Logger
}

func NewPublisher(nsqdAddr, topic string) (*Publisher, error) {
	producer, err := nsq.NewProducer(nsqdAddr, nsq.NewConfig())
	if err != nil {
		return nil, err
	}
	return &Publisher{
		producer: producer,
		topic:    topic,
		logger:   logging.New("tidehook-dlq"),
	}, nil
}

// Hook adapts the publisher to the dispatcher's terminal hook.
func (p *Publisher) Hook() job.TerminalHook {
	return func(ctx context.Context, j *job.Job) {
		p.Publish(ctx, j)
	}
}

// Publish emits a dead letter for the job. Publish failures are logged, not
// propagated: the job's terminal state is already durable.
func (p *Publisher) Publish(ctx context.Context, j *job.Job) {
	env := NewDeadLetter(j)
	env.TraceHeaders = tracing.PropagateToCarrier(ctx)
	b, err := json.Marshal(env)
	if err != nil {
		p.logger.WithContext(ctx).WithJob(j.ID).WithError(err).Error("dead letter encode failed")
		return
	}
	if err := p.producer.Publish(p.topic, b); err != nil {
		p.logger.WithContext(ctx).WithJob(j.ID).WithError(err).Error("dead letter publish failed")
		return
	}
	metrics.RecordDLQ()
	p.logger.WithContext(ctx).WithJob(j.ID).WithJobType(j.Type).
		WithField("topic", p.topic).Info("dead letter published")
}

// Stop flushes and stops the underlying producer.
func (p *Publisher) Stop() {
	p.producer.Stop()
}
