package webhook

import (
	"context"
	"sort"

	"github.com/tidehook/tidehook/internal/job"
)

// DeliveryStats aggregates attempt counts.
type DeliveryStats struct {
	Total       int            `json:"total"`
	Success     int            `json:"success"`
	Failed      int            `json:"failed"`
	SuccessRate float64        `json:"success_rate"`
	ByEventType map[string]int `json:"by_event_type"`
}

// LatencyStats aggregates attempt latencies, reported in milliseconds.
type LatencyStats struct {
	AvgMS float64 `json:"avg"`
	P95MS int64   `json:"p95"`
}

// RetryStats counts re-tries, i.e. attempts beyond the first.
type RetryStats struct {
	TotalRetries int `json:"total_retries"`
}

// Summary is the read model served by the delivery metrics endpoint.
type Summary struct {
	Deliveries DeliveryStats `json:"deliveries"`
	Latency    LatencyStats  `json:"latency"`
	Retries    RetryStats    `json:"retries"`
	QueueDepth int           `json:"queue_depth"`
}

// Summarizer derives delivery metrics from the attempt log and the job
// store. Read-only; it never mutates either.
type Summarizer struct {
	attempts AttemptStore
	jobs     job.Store
}

func NewSummarizer(attempts AttemptStore, jobs job.Store) *Summarizer {
	return &Summarizer{attempts: attempts, jobs: jobs}
}

// Summarize computes the current delivery summary.
func (s *Summarizer) Summarize(ctx context.Context) (*Summary, error) {
	attempts, err := s.attempts.List(ctx, 0)
	if err != nil {
		return nil, err
	}

	out := &Summary{}
	out.Deliveries.ByEventType = make(map[string]int)

	var latencies []int64
	var latencySum int64
	for _, a := range attempts {
		out.Deliveries.Total++
		if a.Outcome == OutcomeSuccess {
			out.Deliveries.Success++
		} else {
			out.Deliveries.Failed++
		}
		out.Deliveries.ByEventType[a.EventType]++
		if a.AttemptNumber > 1 {
			out.Retries.TotalRetries++
		}
		latencies = append(latencies, a.LatencyMS)
		latencySum += a.LatencyMS
	}
	if out.Deliveries.Total > 0 {
		out.Deliveries.SuccessRate = float64(out.Deliveries.Success) / float64(out.Deliveries.Total)
		out.Latency.AvgMS = float64(latencySum) / float64(out.Deliveries.Total)
		out.Latency.P95MS = percentile(latencies, 0.95)
	}

	if s.jobs != nil {
		stats, err := s.jobs.Stats(ctx)
		if err != nil {
			return nil, err
		}
		out.QueueDepth = stats.QueueDepth()
	}
	return out, nil
}

// percentile returns the p-th percentile (nearest-rank) of values.
func percentile(values []int64, p float64) int64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted))*p+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
