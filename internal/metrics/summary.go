package metrics

import (
	"sort"
	"sync"
	"time"
)

// Summary aggregates run-level counters from attempt records. It is safe for
// concurrent use and implements Recorder.
type Summary struct {
	mu         sync.Mutex
	successes  int64
	failures   int64
	minLatency time.Duration
	maxLatency time.Duration
	sumLatency time.Duration
	targets    map[string]*TargetStats
}

// TargetStats is the per-target slice of a run.
type TargetStats struct {
	Target    string `json:"target"`
	Total     int64  `json:"total"`
	Successes int64  `json:"successes"`
	Failures  int64  `json:"failures"`
}

// Stats represents aggregated metrics for a finished (or running) run.
type Stats struct {
	Total          int64         `json:"total"`
	Successes      int64         `json:"successes"`
	Failures       int64         `json:"failures"`
	MinLatency     time.Duration `json:"-"`
	MaxLatency     time.Duration `json:"-"`
	MeanLatency    time.Duration `json:"-"`
	Duration       time.Duration `json:"-"`
	AttemptsPerSec float64       `json:"attempts_per_sec"`

	// JSON-friendly millisecond fields.
	MinLatencyMs  float64       `json:"min_latency_ms"`
	MaxLatencyMs  float64       `json:"max_latency_ms"`
	MeanLatencyMs float64       `json:"mean_latency_ms"`
	DurationMs    float64       `json:"duration_ms"`
	Targets       []TargetStats `json:"targets,omitempty"`
}

// NewSummary creates an empty summary.
func NewSummary() *Summary {
	return &Summary{targets: make(map[string]*TargetStats)}
}

// Append records one attempt.
func (s *Summary) Append(r Record) {
	latency := r.Latency()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sumLatency += latency
	if (s.successes+s.failures) == 0 || latency < s.minLatency {
		s.minLatency = latency
	}
	if latency > s.maxLatency {
		s.maxLatency = latency
	}

	ts, ok := s.targets[r.Target]
	if !ok {
		ts = &TargetStats{Target: r.Target}
		s.targets[r.Target] = ts
	}
	ts.Total++
	if r.Success {
		s.successes++
		ts.Successes++
	} else {
		s.failures++
		ts.Failures++
	}
}

// Stats computes the aggregate view over elapsed wall time.
func (s *Summary) Stats(elapsed time.Duration) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.successes + s.failures
	stats := Stats{
		Total:      total,
		Successes:  s.successes,
		Failures:   s.failures,
		MinLatency: s.minLatency,
		MaxLatency: s.maxLatency,
		Duration:   elapsed,
	}
	if total > 0 {
		stats.MeanLatency = time.Duration(int64(s.sumLatency) / total)
	}
	if elapsed > 0 && total > 0 {
		stats.AttemptsPerSec = float64(total) / elapsed.Seconds()
	}

	stats.MinLatencyMs = float64(stats.MinLatency) / float64(time.Millisecond)
	stats.MaxLatencyMs = float64(stats.MaxLatency) / float64(time.Millisecond)
	stats.MeanLatencyMs = float64(stats.MeanLatency) / float64(time.Millisecond)
	stats.DurationMs = float64(elapsed) / float64(time.Millisecond)

	if len(s.targets) > 0 {
		rows := make([]TargetStats, 0, len(s.targets))
		for _, ts := range s.targets {
			rows = append(rows, *ts)
		}
		sortTargetRows(rows)
		stats.Targets = rows
	}
	return stats
}

// sortTargetRows orders rows by descending total, then by target for stability.
func sortTargetRows(rows []TargetStats) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Total == rows[j].Total {
			return rows[i].Target < rows[j].Target
		}
		return rows[i].Total > rows[j].Total
	})
}
