package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/kukai/internal/metrics"
)

// ProgressReporter displays real-time progress updates.
type ProgressReporter struct {
	summary  *metrics.Summary
	ticker   *time.Ticker
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   int32
	start    time.Time
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(summary *metrics.Summary, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		summary:  summary,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
		start:    time.Now(),
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return
	}
	go p.run()
}

// Stop halts progress updates and ends the line.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, progressLine(p.summary.Stats(time.Since(p.start))))
		case <-p.done:
			fmt.Fprintln(p.writer)
			return
		}
	}
}

func progressLine(stats metrics.Stats) string {
	line := fmt.Sprintf("\rAttempts: %d | Successes: %d | Failures: %d | Rate: %.1f/s",
		stats.Total, stats.Successes, stats.Failures, stats.AttemptsPerSec)
	if len(stats.Targets) > 0 && stats.Total > 0 {
		top := stats.Targets[0]
		share := (float64(top.Total) / float64(stats.Total)) * 100
		line += fmt.Sprintf(" | Top Target: %s (%.0f%%)", top.Target, share)
	}
	return line
}
