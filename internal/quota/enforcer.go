package quota

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/tidehook/tidehook/internal/logging"
	"github.com/tidehook/tidehook/internal/metrics"
)

var (
	// ErrQuotaExceeded rejects an admission against a hard limit. The
	// triggering operation does not proceed and no usage is recorded.
	ErrQuotaExceeded = errors.New("quota exceeded")

	ErrQuotaNotFound = errors.New("quota not found")
)

// ExceededError carries the rejection detail; errors.Is matches
// ErrQuotaExceeded.
type ExceededError struct {
	TenantID     string
	ResourceType string
	Current      int64
	Requested    int64
	Limit        int64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s/%s: current %d + requested %d > limit %d",
		e.TenantID, e.ResourceType, e.Current, e.Requested, e.Limit)
}

func (e *ExceededError) Unwrap() error { return ErrQuotaExceeded }

// Notifier receives threshold-crossing notifications, at most once per
// (tenant, resource, window, threshold) tuple.
type Notifier interface {
	NotifyThreshold(ctx context.Context, q *Quota, current int64, percentage float64)
}

// LogNotifier logs threshold crossings and counts them in metrics.
type LogNotifier struct {
	logger *logging.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: logging.New("tidehook-quota")}
}

func (n *LogNotifier) NotifyThreshold(ctx context.Context, q *Quota, current int64, percentage float64) {
	metrics.RecordQuotaNotification(q.TenantID, q.ResourceType)
	n.logger.WithContext(ctx).WithTenant(q.TenantID).WithFields(map[string]any{
		"resource_type": q.ResourceType,
		"period":        q.Period,
		"current":       current,
		"limit":         q.LimitValue,
		"percentage":    percentage,
		"threshold":     q.NotificationThreshold,
	}).Warn("quota threshold crossed")
}

// Status is the per-quota consumption view for operators.
type Status struct {
	QuotaID      string  `json:"quota_id"`
	TenantID     string  `json:"tenant_id"`
	ResourceType string  `json:"resource_type"`
	Period       Period  `json:"period"`
	Current      int64   `json:"current"`
	Limit        int64   `json:"limit"`
	Percentage   float64 `json:"percentage"`
	Allowed      bool    `json:"allowed"`
	IsHardLimit  bool    `json:"is_hard_limit"`
}

const lockStripes = 64

// Enforcer decides admission for metered resources. The read-then-write on
// the ledger is serialized per (tenant, resource) via striped locks, so
// concurrent admits on the same key never race and distinct tenants or
// resources never contend.
type Enforcer struct {
	quotas   Store
	ledger   Ledger
	notifier Notifier
	now      func() time.Time

	locks [lockStripes]sync.Mutex

	mu       sync.Mutex
	notified map[string]struct{} // tenant|resource|windowStart|threshold
}

func NewEnforcer(quotas Store, ledger Ledger, notifier Notifier) *Enforcer {
	if notifier == nil {
		notifier = NewLogNotifier()
	}
	return &Enforcer{
		quotas:   quotas,
		ledger:   ledger,
		notifier: notifier,
		now:      time.Now,
		notified: make(map[string]struct{}),
	}
}

func (e *Enforcer) lockFor(tenantID, resourceType string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tenantID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(resourceType))
	return &e.locks[h.Sum32()%lockStripes]
}

// Admit checks the quota for (tenant, resource) and, when admitted, records
// a usage event for quantity. A hard-limit violation returns ErrQuotaExceeded
// and records nothing. Absent a quota the admission is unconditional but the
// consumption is still ledgered.
func (e *Enforcer) Admit(ctx context.Context, tenantID, resourceType string, quantity int64) error {
	mu := e.lockFor(tenantID, resourceType)
	mu.Lock()
	defer mu.Unlock()

	now := e.now().UTC()
	q, err := e.quotas.Find(ctx, tenantID, resourceType)
	if err != nil {
		return fmt.Errorf("find quota: %w", err)
	}
	if q == nil {
		return e.ledger.Append(ctx, UsageEvent{
			TenantID:     tenantID,
			ResourceType: resourceType,
			Quantity:     quantity,
			CreatedAt:    now,
		})
	}

	current, err := e.ledger.CurrentUsage(ctx, tenantID, resourceType, q.Period, now)
	if err != nil {
		return fmt.Errorf("current usage: %w", err)
	}

	e.maybeNotify(ctx, q, current, now)

	if q.IsHardLimit && current+quantity > q.LimitValue {
		metrics.RecordQuotaRejection(tenantID, resourceType)
		return &ExceededError{
			TenantID:     tenantID,
			ResourceType: resourceType,
			Current:      current,
			Requested:    quantity,
			Limit:        q.LimitValue,
		}
	}

	return e.ledger.Append(ctx, UsageEvent{
		TenantID:     tenantID,
		ResourceType: resourceType,
		Quantity:     quantity,
		CreatedAt:    now,
	})
}

// maybeNotify emits the threshold notification exactly once per crossing:
// once per (tenant, resource, window, threshold), not once per request.
func (e *Enforcer) maybeNotify(ctx context.Context, q *Quota, current int64, now time.Time) {
	if q.NotificationThreshold <= 0 || q.LimitValue <= 0 {
		return
	}
	percentage := float64(current) / float64(q.LimitValue) * 100
	if percentage < q.NotificationThreshold {
		return
	}
	key := fmt.Sprintf("%s|%s|%d|%.2f", q.TenantID, q.ResourceType,
		q.Period.WindowStart(now).Unix(), q.NotificationThreshold)
	e.mu.Lock()
	_, seen := e.notified[key]
	if !seen {
		e.notified[key] = struct{}{}
	}
	e.mu.Unlock()
	if !seen {
		e.notifier.NotifyThreshold(ctx, q, current, percentage)
	}
}

// StatusAll reports consumption for every configured quota. Soft limits over
// their ceiling still admit, but surface allowed=false here so operators see
// near- and over-limit tenants without blocking them.
func (e *Enforcer) StatusAll(ctx context.Context) ([]Status, error) {
	quotas, err := e.quotas.List(ctx)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	out := make([]Status, 0, len(quotas))
	for _, q := range quotas {
		current, err := e.ledger.CurrentUsage(ctx, q.TenantID, q.ResourceType, q.Period, now)
		if err != nil {
			return nil, err
		}
		st := Status{
			QuotaID:      q.ID,
			TenantID:     q.TenantID,
			ResourceType: q.ResourceType,
			Period:       q.Period,
			Current:      current,
			Limit:        q.LimitValue,
			Allowed:      current < q.LimitValue,
			IsHardLimit:  q.IsHardLimit,
		}
		if q.LimitValue > 0 {
			st.Percentage = float64(current) / float64(q.LimitValue) * 100
		}
		out = append(out, st)
	}
	return out, nil
}
