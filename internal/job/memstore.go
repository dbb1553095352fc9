package job

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is the in-process Store used for single-node runs and tests.
// All serialization is scoped to the store mutex; Claim performs the
// pending -> running transition under it, so a job can only ever be handed
// to one claimer.
type MemStore struct {
	mu       sync.Mutex
	jobs     map[string]*Job
	order    []string // creation order, used for claim fairness and listing
	registry *Registry
	sched    Scheduler
	now      func() time.Time
}

func NewMemStore(registry *Registry, sched Scheduler) *MemStore {
	return &MemStore{
		jobs:     make(map[string]*Job),
		registry: registry,
		sched:    sched,
		now:      time.Now,
	}
}

func clone(j *Job) *Job {
	cp := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func (s *MemStore) Enqueue(_ context.Context, jobType string, payload json.RawMessage, maxAttempts int) (*Job, error) {
	if !s.registry.Known(jobType) {
		return nil, ErrInvalidJobType
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	now := s.now().UTC()
	j := &Job{
		ID:             uuid.NewString(),
		Type:           jobType,
		Payload:        payload,
		Status:         StatusPending,
		MaxAttempts:    maxAttempts,
		CreatedAt:      now,
		NextEligibleAt: now,
	}
	s.mu.Lock()
	s.jobs[j.ID] = j
	s.order = append(s.order, j.ID)
	s.mu.Unlock()
	return clone(j), nil
}

func (s *MemStore) Claim(_ context.Context) (*Job, error) {
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		j := s.jobs[id]
		if j.Status != StatusPending || j.NextEligibleAt.After(now) {
			continue
		}
		j.Status = StatusRunning
		started := now
		j.StartedAt = &started
		j.Attempts++
		return clone(j), nil
	}
	return nil, nil
}

func (s *MemStore) Complete(_ context.Context, id string, result json.RawMessage) error {
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status != StatusRunning {
		return ErrInvalidTransition
	}
	j.Status = StatusCompleted
	j.Result = result
	j.ErrorText = ""
	j.CompletedAt = &now
	return nil
}

func (s *MemStore) Fail(_ context.Context, id string, errorText string) error {
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status != StatusRunning {
		return ErrInvalidTransition
	}
	if j.Attempts >= j.MaxAttempts {
		j.Status = StatusFailed
		j.ErrorText = errorText
		j.CompletedAt = &now
		return nil
	}
	j.Status = StatusPending
	j.ErrorText = errorText
	j.NextEligibleAt = s.sched.NextEligible(now, j.Attempts)
	return nil
}

func (s *MemStore) FailPermanent(_ context.Context, id string, errorText string) error {
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status != StatusRunning {
		return ErrInvalidTransition
	}
	j.Status = StatusFailed
	j.ErrorText = errorText
	j.CompletedAt = &now
	return nil
}

func (s *MemStore) Cancel(_ context.Context, id string) error {
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status != StatusPending && j.Status != StatusRunning {
		return ErrInvalidTransition
	}
	j.Status = StatusFailed
	j.ErrorText = CancelledErrorText
	j.Cancelled = true
	j.CompletedAt = &now
	return nil
}

func (s *MemStore) Retry(_ context.Context, id string) error {
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status != StatusFailed {
		return ErrInvalidTransition
	}
	j.Status = StatusPending
	j.Attempts = 0
	j.Result = nil
	j.ErrorText = ""
	j.Cancelled = false
	j.StartedAt = nil
	j.CompletedAt = nil
	j.NextEligibleAt = now
	return nil
}

func (s *MemStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(j), nil
}

func (s *MemStore) List(_ context.Context, status Status, limit int) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	// newest first
	for i := len(s.order) - 1; i >= 0; i-- {
		j := s.jobs[s.order[i]]
		if status != "" && j.Status != status {
			continue
		}
		out = append(out, clone(j))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemStore) Stats(_ context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st Stats
	for _, j := range s.jobs {
		switch j.Status {
		case StatusPending:
			st.Pending++
		case StatusRunning:
			st.Running++
		case StatusCompleted:
			st.Completed++
		case StatusFailed:
			st.Failed++
		}
	}
	return st, nil
}

var _ Store = (*MemStore)(nil)
