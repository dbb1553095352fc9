package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tidehook/tidehook/internal/quota"
)

// bucket TTLs keep expired windows from accumulating; each is double the
// window length so the just-closed window stays readable.
var bucketTTL = map[quota.Period]time.Duration{
	quota.PeriodHourly:  2 * time.Hour,
	quota.PeriodDaily:   48 * time.Hour,
	quota.PeriodMonthly: 62 * 24 * time.Hour,
}

var allPeriods = []quota.Period{quota.PeriodHourly, quota.PeriodDaily, quota.PeriodMonthly}

// UsageLedger keeps usage counters in Redis, bucketed per (tenant, resource,
// period, window start). INCRBY makes concurrent admits on the same key
// atomic without any application-side locking; distinct tenants and
// resources land on distinct keys and never interfere.
//
// Counters are a derived view for admission checks; the append-only audit
// ledger lives in Postgres when that backend is enabled.
type UsageLedger struct {
	client *redis.Client
}

func NewUsageLedger(client *redis.Client) *UsageLedger {
	return &UsageLedger{client: client}
}

func key(tenantID, resourceType string, p quota.Period, windowStart time.Time) string {
	return fmt.Sprintf("usage:%s:%s:%s:%d", tenantID, resourceType, p, windowStart.Unix())
}

func (l *UsageLedger) Append(ctx context.Context, ev quota.UsageEvent) error {
	at := ev.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	pipe := l.client.TxPipeline()
	for _, p := range allPeriods {
		k := key(ev.TenantID, ev.ResourceType, p, p.WindowStart(at))
		pipe.IncrBy(ctx, k, ev.Quantity)
		pipe.Expire(ctx, k, bucketTTL[p])
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("incr usage buckets: %w", err)
	}
	return nil
}

func (l *UsageLedger) CurrentUsage(ctx context.Context, tenantID, resourceType string, p quota.Period, now time.Time) (int64, error) {
	k := key(tenantID, resourceType, p, p.WindowStart(now))
	n, err := l.client.Get(ctx, k).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read usage bucket: %w", err)
	}
	return n, nil
}

var _ quota.Ledger = (*UsageLedger)(nil)
