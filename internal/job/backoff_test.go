package job

import (
	"testing"
	"time"
)

func TestDelayDoubling(t *testing.T) {
	s := Scheduler{Base: time.Second, Cap: 8 * time.Second}

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{attempts: 0, want: time.Second}, // clamped to 1
		{attempts: 1, want: time.Second},
		{attempts: 2, want: 2 * time.Second},
		{attempts: 3, want: 4 * time.Second},
		{attempts: 4, want: 8 * time.Second},
		{attempts: 5, want: 8 * time.Second}, // capped
		{attempts: 50, want: 8 * time.Second},
	}

	for _, tt := range tests {
		if got := s.Delay(tt.attempts); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestDelayJitterBounds(t *testing.T) {
	s := Scheduler{Base: time.Second, Cap: time.Minute, JitterPct: 0.25}

	lo := time.Duration(float64(time.Second) * 0.75)
	hi := time.Duration(float64(time.Second) * 1.25)
	for i := 0; i < 200; i++ {
		got := s.Delay(1)
		if got < lo || got > hi {
			t.Fatalf("Delay(1) = %v, want within [%v, %v]", got, lo, hi)
		}
	}
}

func TestNextEligible(t *testing.T) {
	s := Scheduler{Base: 2 * time.Second, Cap: time.Minute}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	got := s.NextEligible(now, 2)
	want := now.Add(4 * time.Second)
	if !got.Equal(want) {
		t.Errorf("NextEligible() = %v, want %v", got, want)
	}
}

func TestDefaultScheduler(t *testing.T) {
	s := DefaultScheduler()
	if s.Base != time.Second || s.Cap != 10*time.Minute || s.JitterPct != 0.25 {
		t.Errorf("DefaultScheduler() = %+v", s)
	}
}
