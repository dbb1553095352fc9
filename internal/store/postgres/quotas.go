package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tidehook/tidehook/internal/quota"
)

// QuotaStore persists quota definitions, one per (tenant, resource).
type QuotaStore struct {
	pool *pgxpool.Pool
}

func NewQuotaStore(pool *pgxpool.Pool) *QuotaStore {
	return &QuotaStore{pool: pool}
}

func (s *QuotaStore) Set(ctx context.Context, q *quota.Quota) (*quota.Quota, error) {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	cp := *q
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tidehook.quotas(id, tenant_id, resource_type, period, limit_value, is_hard_limit, notification_threshold)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (tenant_id, resource_type) DO UPDATE
		SET period=EXCLUDED.period, limit_value=EXCLUDED.limit_value,
		    is_hard_limit=EXCLUDED.is_hard_limit,
		    notification_threshold=EXCLUDED.notification_threshold
		RETURNING id, created_at`,
		q.ID, q.TenantID, q.ResourceType, string(q.Period), q.LimitValue,
		q.IsHardLimit, q.NotificationThreshold,
	).Scan(&cp.ID, &cp.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert quota: %w", err)
	}
	return &cp, nil
}

func (s *QuotaStore) Delete(ctx context.Context, id string) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM tidehook.quotas WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete quota: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return quota.ErrQuotaNotFound
	}
	return nil
}

const quotaColumns = `id, tenant_id, resource_type, period, limit_value, is_hard_limit, notification_threshold, created_at`

func scanQuota(row pgx.Row) (*quota.Quota, error) {
	var q quota.Quota
	var period string
	err := row.Scan(&q.ID, &q.TenantID, &q.ResourceType, &period, &q.LimitValue,
		&q.IsHardLimit, &q.NotificationThreshold, &q.CreatedAt)
	if err != nil {
		return nil, err
	}
	q.Period = quota.Period(period)
	return &q, nil
}

func (s *QuotaStore) List(ctx context.Context) ([]*quota.Quota, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+quotaColumns+` FROM tidehook.quotas ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list quotas: %w", err)
	}
	defer rows.Close()

	var out []*quota.Quota
	for rows.Next() {
		q, err := scanQuota(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *QuotaStore) Find(ctx context.Context, tenantID, resourceType string) (*quota.Quota, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+quotaColumns+` FROM tidehook.quotas
		WHERE tenant_id=$1 AND resource_type=$2`, tenantID, resourceType)
	q, err := scanQuota(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find quota: %w", err)
	}
	return q, nil
}

// UsageLedger is the append-only Postgres ledger.
type UsageLedger struct {
	pool *pgxpool.Pool
}

func NewUsageLedger(pool *pgxpool.Pool) *UsageLedger {
	return &UsageLedger{pool: pool}
}

func (l *UsageLedger) Append(ctx context.Context, ev quota.UsageEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := l.pool.Exec(ctx, `
		INSERT INTO tidehook.usage_events(id, tenant_id, resource_type, quantity, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		ev.ID, ev.TenantID, ev.ResourceType, ev.Quantity, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append usage event: %w", err)
	}
	return nil
}

func (l *UsageLedger) CurrentUsage(ctx context.Context, tenantID, resourceType string, p quota.Period, now time.Time) (int64, error) {
	start := p.WindowStart(now)
	var sum int64
	err := l.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM tidehook.usage_events
		WHERE tenant_id=$1 AND resource_type=$2 AND created_at >= $3 AND created_at <= $4`,
		tenantID, resourceType, start, now).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum usage: %w", err)
	}
	return sum, nil
}

var (
	_ quota.Store  = (*QuotaStore)(nil)
	_ quota.Ledger = (*UsageLedger)(nil)
)
