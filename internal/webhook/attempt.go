package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome of one delivery attempt.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Attempt is the immutable record of one outbound webhook try. Written once
// by the delivery engine; the metrics summary only reads.
type Attempt struct {
	ID            string    `json:"id"`
	JobID         string    `json:"job_id,omitempty"` // empty for ad hoc test deliveries
	TargetURL     string    `json:"target_url"`
	EventType     string    `json:"event_type"`
	Body          []byte    `json:"body"`
	Signature     string    `json:"signature,omitempty"`
	HTTPStatus    int       `json:"http_status,omitempty"`
	LatencyMS     int64     `json:"latency_ms"`
	Outcome       string    `json:"outcome"`
	AttemptNumber int       `json:"attempt_number"`
	ResponseBody  string    `json:"response_body,omitempty"` // truncated
	CreatedAt     time.Time `json:"created_at"`
}

// AttemptStore records delivery attempts and serves reads for the metrics
// summary.
type AttemptStore interface {
	Record(ctx context.Context, a *Attempt) error
	List(ctx context.Context, limit int) ([]*Attempt, error)
}

// MemAttemptStore is the in-process attempt log.
type MemAttemptStore struct {
	mu       sync.Mutex
	attempts []*Attempt
}

func NewMemAttemptStore() *MemAttemptStore {
	return &MemAttemptStore{}
}

func (s *MemAttemptStore) Record(_ context.Context, a *Attempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	cp := *a
	s.mu.Lock()
	s.attempts = append(s.attempts, &cp)
	s.mu.Unlock()
	return nil
}

func (s *MemAttemptStore) List(_ context.Context, limit int) ([]*Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Attempt, 0, len(s.attempts))
	// newest first
	for i := len(s.attempts) - 1; i >= 0; i-- {
		cp := *s.attempts[i]
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

var _ AttemptStore = (*MemAttemptStore)(nil)
