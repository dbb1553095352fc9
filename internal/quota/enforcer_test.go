package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type captureNotifier struct {
	mu    sync.Mutex
	calls []float64
}

func (n *captureNotifier) NotifyThreshold(_ context.Context, q *Quota, current int64, percentage float64) {
	n.mu.Lock()
	n.calls = append(n.calls, percentage)
	n.mu.Unlock()
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func newTestEnforcer(t *testing.T, q *Quota) (*Enforcer, *captureNotifier) {
	t.Helper()
	quotas := NewMemStore()
	if q != nil {
		if _, err := quotas.Set(context.Background(), q); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
	}
	n := &captureNotifier{}
	return NewEnforcer(quotas, NewMemLedger(), n), n
}

func TestAdmitWithoutQuota(t *testing.T) {
	e, _ := newTestEnforcer(t, nil)
	ctx := context.Background()

	// unconfigured pairs admit unconditionally but still ledger usage
	for i := 0; i < 5; i++ {
		if err := e.Admit(ctx, "acme", "api_call", 1); err != nil {
			t.Fatalf("Admit() error = %v", err)
		}
	}
	used, err := e.ledger.CurrentUsage(ctx, "acme", "api_call", PeriodDaily, time.Now().UTC())
	if err != nil {
		t.Fatalf("CurrentUsage() error = %v", err)
	}
	if used != 5 {
		t.Errorf("usage = %d, want 5", used)
	}
}

func TestHardLimitRejects(t *testing.T) {
	e, _ := newTestEnforcer(t, &Quota{
		TenantID:     "acme",
		ResourceType: "webhook_delivery",
		Period:       PeriodDaily,
		LimitValue:   100,
		IsHardLimit:  true,
	})
	ctx := context.Background()

	if err := e.Admit(ctx, "acme", "webhook_delivery", 100); err != nil {
		t.Fatalf("Admit() within limit error = %v", err)
	}

	// 100 + 1 > 100: rejected, and the rejected request leaves no trace
	err := e.Admit(ctx, "acme", "webhook_delivery", 1)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Admit() error = %v, want ErrQuotaExceeded", err)
	}
	var exc *ExceededError
	if !errors.As(err, &exc) {
		t.Fatalf("error %v does not carry ExceededError detail", err)
	}
	if exc.Current != 100 || exc.Requested != 1 || exc.Limit != 100 {
		t.Errorf("detail = %+v", exc)
	}

	used, _ := e.ledger.CurrentUsage(ctx, "acme", "webhook_delivery", PeriodDaily, time.Now().UTC())
	if used != 100 {
		t.Errorf("usage after rejection = %d, want 100 (no event for rejected request)", used)
	}
}

func TestSoftLimitAdmitsOverLimit(t *testing.T) {
	e, _ := newTestEnforcer(t, &Quota{
		TenantID:     "acme",
		ResourceType: "webhook_delivery",
		Period:       PeriodDaily,
		LimitValue:   10,
		IsHardLimit:  false,
	})
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		if err := e.Admit(ctx, "acme", "webhook_delivery", 1); err != nil {
			t.Fatalf("Admit() #%d error = %v, soft limits never reject", i, err)
		}
	}

	statuses, err := e.StatusAll(ctx)
	if err != nil {
		t.Fatalf("StatusAll() error = %v", err)
	}
	if len(statuses) != 1 {
		t.Fatalf("StatusAll() returned %d entries, want 1", len(statuses))
	}
	st := statuses[0]
	if st.Current != 15 {
		t.Errorf("current = %d, want 15", st.Current)
	}
	if st.Allowed {
		t.Error("over-limit status must report allowed=false")
	}
}

func TestThresholdNotifiedOncePerWindow(t *testing.T) {
	e, n := newTestEnforcer(t, &Quota{
		TenantID:              "acme",
		ResourceType:          "webhook_delivery",
		Period:                PeriodHourly,
		LimitValue:            10,
		IsHardLimit:           true,
		NotificationThreshold: 80,
	})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := e.Admit(ctx, "acme", "webhook_delivery", 1); err != nil {
			t.Fatalf("Admit() #%d error = %v", i, err)
		}
	}
	// usage crossed 80% at the 9th admit (current=8 before it); further
	// admits in the same window must not notify again
	if n.count() != 1 {
		t.Fatalf("notifications = %d, want exactly 1", n.count())
	}

	// a new window starts a fresh notification budget
	e.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	for i := 0; i < 10; i++ {
		if err := e.Admit(ctx, "acme", "webhook_delivery", 1); err != nil {
			t.Fatalf("Admit() in new window error = %v", err)
		}
	}
	if n.count() != 2 {
		t.Errorf("notifications = %d, want 2 after window rollover", n.count())
	}
}

func TestAdmitConcurrentNeverOvershootsHardLimit(t *testing.T) {
	e, _ := newTestEnforcer(t, &Quota{
		TenantID:     "acme",
		ResourceType: "webhook_delivery",
		Period:       PeriodDaily,
		LimitValue:   50,
		IsHardLimit:  true,
	})
	ctx := context.Background()

	const requests = 100
	var wg sync.WaitGroup
	var admitted, rejected sync.Map
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := e.Admit(ctx, "acme", "webhook_delivery", 1); err == nil {
				admitted.Store(i, true)
			} else if errors.Is(err, ErrQuotaExceeded) {
				rejected.Store(i, true)
			}
		}(i)
	}
	wg.Wait()

	var okCount, rejCount int
	admitted.Range(func(_, _ any) bool { okCount++; return true })
	rejected.Range(func(_, _ any) bool { rejCount++; return true })

	if okCount != 50 || rejCount != 50 {
		t.Fatalf("admitted=%d rejected=%d, want 50/50", okCount, rejCount)
	}
	used, _ := e.ledger.CurrentUsage(ctx, "acme", "webhook_delivery", PeriodDaily, time.Now().UTC())
	if used != 50 {
		t.Errorf("usage = %d, want exactly the limit", used)
	}
}

func TestDistinctTenantsDoNotInterfere(t *testing.T) {
	quotas := NewMemStore()
	quotas.Set(context.Background(), &Quota{
		TenantID:     "acme",
		ResourceType: "webhook_delivery",
		Period:       PeriodDaily,
		LimitValue:   1,
		IsHardLimit:  true,
	})
	e := NewEnforcer(quotas, NewMemLedger(), &captureNotifier{})
	ctx := context.Background()

	if err := e.Admit(ctx, "acme", "webhook_delivery", 1); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if err := e.Admit(ctx, "acme", "webhook_delivery", 1); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("acme should be exhausted, got %v", err)
	}
	// other tenants are untouched by acme's quota
	if err := e.Admit(ctx, "globex", "webhook_delivery", 1); err != nil {
		t.Errorf("Admit() for other tenant error = %v", err)
	}
}

func TestWindowStart(t *testing.T) {
	at := time.Date(2026, 8, 15, 13, 45, 30, 0, time.UTC)

	tests := []struct {
		period Period
		want   time.Time
	}{
		{period: PeriodHourly, want: time.Date(2026, 8, 15, 13, 0, 0, 0, time.UTC)},
		{period: PeriodDaily, want: time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)},
		{period: PeriodMonthly, want: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(string(tt.period), func(t *testing.T) {
			if got := tt.period.WindowStart(at); !got.Equal(tt.want) {
				t.Errorf("WindowStart() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLedgerWindowing(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()
	now := time.Date(2026, 8, 15, 13, 45, 0, 0, time.UTC)

	// events: one in the current hour, one from a previous hour (same day)
	l.Append(ctx, UsageEvent{TenantID: "t", ResourceType: "r", Quantity: 3, CreatedAt: now.Add(-10 * time.Minute)})
	l.Append(ctx, UsageEvent{TenantID: "t", ResourceType: "r", Quantity: 5, CreatedAt: now.Add(-3 * time.Hour)})

	hourly, _ := l.CurrentUsage(ctx, "t", "r", PeriodHourly, now)
	if hourly != 3 {
		t.Errorf("hourly usage = %d, want 3", hourly)
	}
	daily, _ := l.CurrentUsage(ctx, "t", "r", PeriodDaily, now)
	if daily != 8 {
		t.Errorf("daily usage = %d, want 8", daily)
	}
}
