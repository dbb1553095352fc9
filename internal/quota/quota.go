package quota

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Period is the recurring window a quota is enforced over.
type Period string

const (
	PeriodHourly  Period = "hourly"
	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"
)

// Valid reports whether p is a known period.
func (p Period) Valid() bool {
	switch p {
	case PeriodHourly, PeriodDaily, PeriodMonthly:
		return true
	}
	return false
}

// WindowStart returns the start of the active window containing now.
// Windows are aligned to UTC clock boundaries.
func (p Period) WindowStart(now time.Time) time.Time {
	now = now.UTC()
	switch p {
	case PeriodHourly:
		return now.Truncate(time.Hour)
	case PeriodDaily:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case PeriodMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return now
}

// Quota is a tenant-scoped ceiling over a recurring window.
type Quota struct {
	ID                    string    `json:"id"`
	TenantID              string    `json:"tenant_id"`
	ResourceType          string    `json:"resource_type"`
	Period                Period    `json:"period"`
	LimitValue            int64     `json:"limit_value"`
	IsHardLimit           bool      `json:"is_hard_limit"`
	NotificationThreshold float64   `json:"notification_threshold"` // percentage, e.g. 80
	CreatedAt             time.Time `json:"created_at"`
}

// UsageEvent is one append-only ledger entry. Never mutated or deleted; old
// events age out of the active window but remain for audit.
type UsageEvent struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	ResourceType string    `json:"resource_type"`
	Quantity     int64     `json:"quantity"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store holds quota definitions, maintained by operators.
type Store interface {
	Set(ctx context.Context, q *Quota) (*Quota, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Quota, error)
	// Find returns the quota for a (tenant, resource) pair, or nil when
	// none is configured.
	Find(ctx context.Context, tenantID, resourceType string) (*Quota, error)
}

// Ledger records consumption and answers current-window sums.
type Ledger interface {
	Append(ctx context.Context, ev UsageEvent) error
	// CurrentUsage sums quantities for the active window of the period.
	CurrentUsage(ctx context.Context, tenantID, resourceType string, p Period, now time.Time) (int64, error)
}

// MemStore is the in-process quota store.
type MemStore struct {
	mu     sync.RWMutex
	quotas map[string]*Quota
}

func NewMemStore() *MemStore {
	return &MemStore{quotas: make(map[string]*Quota)}
}

func (s *MemStore) Set(_ context.Context, q *Quota) (*Quota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// one quota per (tenant, resource): replace in place
	for id, existing := range s.quotas {
		if existing.TenantID == q.TenantID && existing.ResourceType == q.ResourceType {
			delete(s.quotas, id)
		}
	}
	cp := *q
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.quotas[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quotas[id]; !ok {
		return ErrQuotaNotFound
	}
	delete(s.quotas, id)
	return nil
}

func (s *MemStore) List(_ context.Context) ([]*Quota, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Quota, 0, len(s.quotas))
	for _, q := range s.quotas {
		cp := *q
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemStore) Find(_ context.Context, tenantID, resourceType string) (*Quota, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, q := range s.quotas {
		if q.TenantID == tenantID && q.ResourceType == resourceType {
			cp := *q
			return &cp, nil
		}
	}
	return nil, nil
}

// MemLedger is the in-process usage ledger.
type MemLedger struct {
	mu     sync.Mutex
	events []UsageEvent
}

func NewMemLedger() *MemLedger {
	return &MemLedger{}
}

func (l *MemLedger) Append(_ context.Context, ev UsageEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	return nil
}

func (l *MemLedger) CurrentUsage(_ context.Context, tenantID, resourceType string, p Period, now time.Time) (int64, error) {
	start := p.WindowStart(now)
	l.mu.Lock()
	defer l.mu.Unlock()
	var sum int64
	for _, ev := range l.events {
		if ev.TenantID != tenantID || ev.ResourceType != resourceType {
			continue
		}
		if ev.CreatedAt.Before(start) || ev.CreatedAt.After(now) {
			continue
		}
		sum += ev.Quantity
	}
	return sum, nil
}

var (
	_ Store  = (*MemStore)(nil)
	_ Ledger = (*MemLedger)(nil)
)
