package runner_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/torosent/kukai/internal/attempt"
	"github.com/torosent/kukai/internal/metrics"
	"github.com/torosent/kukai/internal/runner"
	"github.com/torosent/kukai/internal/target"
)

// fakeExecutor simulates an attempt with fixed latency.
type fakeExecutor struct {
	latency time.Duration
	fail    bool
	calls   *atomic.Int64
	closed  *atomic.Int64

	mu   *sync.Mutex
	seen map[string]int
}

func (f *fakeExecutor) Execute(ctx context.Context, t target.Target, _ []byte) attempt.Outcome {
	f.calls.Add(1)
	if f.mu != nil {
		f.mu.Lock()
		f.seen[t.String()]++
		f.mu.Unlock()
	}
	time.Sleep(f.latency)
	if f.fail {
		return attempt.Outcome{Latency: f.latency, Err: errors.New("refused")}
	}
	return attempt.Outcome{Success: true, Latency: f.latency}
}

func (f *fakeExecutor) Close() error {
	if f.closed != nil {
		f.closed.Add(1)
	}
	return nil
}

var twoTargets = []target.Target{
	{Address: "10.0.0.1", Port: 80, Weight: 1},
	{Address: "10.0.0.2", Port: 80, Weight: 1},
}

func TestRunnerHonorsDuration(t *testing.T) {
	var calls, closed atomic.Int64
	r := runner.New(runner.Options{
		Concurrency: 4,
		Duration:    100 * time.Millisecond,
		Targets:     twoTargets,
		Pace:        time.Millisecond,
		NewExecutor: func() attempt.Executor {
			return &fakeExecutor{latency: time.Millisecond, calls: &calls, closed: &closed}
		},
	})
	start := time.Now()
	res := r.Run(context.Background())
	elapsed := time.Since(start)

	if elapsed < 100*time.Millisecond || elapsed > 400*time.Millisecond {
		t.Fatalf("duration enforcement off: %s", elapsed)
	}
	if res.Total <= 0 || res.Total != calls.Load() {
		t.Fatalf("expected total to match calls, got total=%d calls=%d", res.Total, calls.Load())
	}
	if closed.Load() != 4 {
		t.Fatalf("expected every executor closed, got %d", closed.Load())
	}
}

func TestRunnerRateLimitedRecords(t *testing.T) {
	buf := metrics.NewBuffer(0)
	var calls atomic.Int64
	r := runner.New(runner.Options{
		Concurrency: 2,
		Duration:    time.Second,
		Targets:     twoTargets,
		Gate:        runner.NewGate(10, 10),
		NewExecutor: func() attempt.Executor {
			return &fakeExecutor{calls: &calls}
		},
		Recorder: buf,
	})
	res := r.Run(context.Background())

	records := buf.Drain()
	if int64(len(records)) != res.Total {
		t.Fatalf("expected %d records, got %d", res.Total, len(records))
	}
	// rps*duration plus the initial bucket, with one token of slack.
	if len(records) > 21 {
		t.Fatalf("expected at most ~20 records, got %d", len(records))
	}
	if len(records) < 10 {
		t.Fatalf("expected at least the initial burst, got %d", len(records))
	}
	for _, rec := range records {
		if rec.Target != "10.0.0.1:80" && rec.Target != "10.0.0.2:80" {
			t.Fatalf("unexpected target %q", rec.Target)
		}
		if !rec.Success {
			t.Fatalf("unexpected failure record %+v", rec)
		}
		if rec.TimestampMicros <= 0 {
			t.Fatalf("record missing timestamp %+v", rec)
		}
	}
}

func TestRunnerCountsFailures(t *testing.T) {
	var calls atomic.Int64
	sum := metrics.NewSummary()
	r := runner.New(runner.Options{
		Concurrency: 2,
		Duration:    50 * time.Millisecond,
		Targets:     twoTargets,
		NewExecutor: func() attempt.Executor {
			return &fakeExecutor{fail: true, calls: &calls}
		},
		Recorder: sum,
	})
	res := r.Run(context.Background())
	if res.Total == 0 || res.Failures != res.Total {
		t.Fatalf("expected every attempt to fail, got %+v", res)
	}
	if got := sum.Stats(res.Duration).Failures; got != res.Failures {
		t.Fatalf("summary failures = %d, want %d", got, res.Failures)
	}
}

func TestRunnerReusePicksTargetOncePerWorker(t *testing.T) {
	var (
		calls atomic.Int64
		mu    sync.Mutex
		execs []*fakeExecutor
	)
	r := runner.New(runner.Options{
		Concurrency: 6,
		Duration:    60 * time.Millisecond,
		Targets:     twoTargets,
		Reuse:       true,
		Pace:        time.Millisecond,
		NewExecutor: func() attempt.Executor {
			e := &fakeExecutor{calls: &calls, mu: &sync.Mutex{}, seen: map[string]int{}}
			mu.Lock()
			execs = append(execs, e)
			mu.Unlock()
			return e
		},
	})
	r.Run(context.Background())

	for i, e := range execs {
		if len(e.seen) > 1 {
			t.Fatalf("worker %d saw %d targets with reuse enabled", i, len(e.seen))
		}
	}
}

func TestRunnerTryAdmissionDoesNotBlock(t *testing.T) {
	var calls atomic.Int64
	r := runner.New(runner.Options{
		Concurrency: 3,
		Duration:    150 * time.Millisecond,
		Targets:     twoTargets,
		Gate:        runner.NewGate(20, 2),
		Admission:   runner.AdmissionTry,
		NewExecutor: func() attempt.Executor {
			return &fakeExecutor{calls: &calls}
		},
	})
	start := time.Now()
	res := r.Run(context.Background())
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Fatalf("run overran: %s", elapsed)
	}
	// 20 rps over 150ms plus a bucket of 2.
	if res.Total > 6 {
		t.Fatalf("expected at most 6 attempts, got %d", res.Total)
	}
	if res.Total < 2 {
		t.Fatalf("expected the initial burst to run, got %d", res.Total)
	}
}

func TestRunnerStopsOnCancel(t *testing.T) {
	var calls atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())
	r := runner.New(runner.Options{
		Concurrency: 2,
		Targets:     twoTargets,
		NewExecutor: func() attempt.Executor {
			return &fakeExecutor{calls: &calls}
		},
	})
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	done := make(chan runner.Result, 1)
	go func() { done <- r.Run(ctx) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("runner did not stop after cancel")
	}
}

func TestRunnerWithoutTargetsReturnsImmediately(t *testing.T) {
	res := runner.New(runner.Options{Duration: time.Hour}).Run(context.Background())
	if res.Total != 0 {
		t.Fatalf("expected no attempts, got %d", res.Total)
	}
}
