package job

import (
	"math/rand"
	"time"
)

// Scheduler computes when a failed job becomes eligible again:
// now + min(cap, base * 2^(attempts-1)), jittered by +/- JitterPct.
// It holds no state of its own.
type Scheduler struct {
	Base      time.Duration
	Cap       time.Duration
	JitterPct float64 // 0.0 - 1.0
}

// DefaultScheduler mirrors the default backoff schedule: 1s base, 10m cap,
// 25% jitter.
func DefaultScheduler() Scheduler {
	return Scheduler{Base: time.Second, Cap: 10 * time.Minute, JitterPct: 0.25}
}

// Delay returns the backoff duration for the given attempt count (1-based).
func (s Scheduler) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := s.Base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= s.Cap {
			d = s.Cap
			break
		}
	}
	if d > s.Cap {
		d = s.Cap
	}
	if s.JitterPct > 0 {
		j := 1 + (rand.Float64()*2-1)*s.JitterPct
		if j < 0.1 {
			j = 0.1
		}
		d = time.Duration(float64(d) * j)
	}
	return d
}

// NextEligible returns the absolute time the job may be claimed again.
func (s Scheduler) NextEligible(now time.Time, attempts int) time.Time {
	return now.Add(s.Delay(attempts))
}
