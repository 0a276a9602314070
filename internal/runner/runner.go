package runner

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/kukai/internal/metrics"
	"github.com/torosent/kukai/internal/target"
)

var timeNow = time.Now

// Result captures execution summary.
type Result struct {
	Total    int64
	Failures int64
	Duration time.Duration
}

// Runner drives a fixed pool of workers against a target set until the
// deadline passes.
type Runner struct {
	opt Options
}

// New applies defaults to opt.
func New(opt Options) *Runner {
	opt.normalize()
	return &Runner{opt: opt}
}

// Run starts every worker, waits for all of them and reports totals. An
// attempt already in flight when the deadline passes is allowed to finish
// and is recorded.
func (r *Runner) Run(ctx context.Context) Result {
	start := timeNow()

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if r.opt.Duration > 0 {
		deadlineCtx, deadlineCancel := context.WithDeadline(loopCtx, start.Add(r.opt.Duration))
		loopCtx = deadlineCtx
		defer deadlineCancel()
	}

	if len(r.opt.Targets) == 0 || r.opt.NewExecutor == nil {
		r.opt.Logger.Warn("runner has nothing to do", zap.Int("targets", len(r.opt.Targets)))
		return Result{Duration: time.Since(start)}
	}

	var total, failures atomic.Int64
	var wg sync.WaitGroup
	wg.Add(r.opt.Concurrency)
	for i := 0; i < r.opt.Concurrency; i++ {
		go func(id int) {
			defer wg.Done()
			r.worker(ctx, loopCtx, id, &total, &failures)
		}(i)
	}
	wg.Wait()

	return Result{
		Total:    total.Load(),
		Failures: failures.Load(),
		Duration: time.Since(start),
	}
}

// worker runs attempts while loopCtx is live. Attempts themselves use
// attemptCtx so the deadline does not cut one short.
func (r *Runner) worker(attemptCtx, loopCtx context.Context, id int, total, failures *atomic.Int64) {
	exec := r.opt.NewExecutor()
	defer func() {
		if err := exec.Close(); err != nil {
			r.opt.Logger.Debug("closing executor", zap.Int("worker", id), zap.Error(err))
		}
	}()

	sel := target.NewSelector(r.opt.Targets, rand.New(rand.NewSource(r.opt.RandomSeed+int64(id))))
	var pinned target.Target
	if r.opt.Reuse {
		pinned = sel.Next()
	}

	for loopCtx.Err() == nil {
		if !r.admit(loopCtx) {
			if r.opt.Admission == AdmissionBlocking {
				return
			}
			r.pace(loopCtx)
			continue
		}
		if loopCtx.Err() != nil {
			return
		}

		t := pinned
		if !r.opt.Reuse {
			t = sel.Next()
		}
		out := exec.Execute(attemptCtx, t, r.opt.Payload)
		r.opt.Recorder.Append(metrics.NewRecord(timeNow(), t.String(), out.Success, out.Latency))
		total.Add(1)
		if !out.Success {
			failures.Add(1)
		}
		r.pace(loopCtx)
	}
}

// admit reports whether the worker may attempt now.
func (r *Runner) admit(ctx context.Context) bool {
	if r.opt.Gate == nil {
		return true
	}
	if r.opt.Admission == AdmissionTry {
		return r.opt.Gate.TryAdmit()
	}
	err := r.opt.Gate.Admit(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		// rate.Limiter refuses waits that would overrun the deadline.
		r.opt.Logger.Debug("admission refused", zap.Error(err))
	}
	return err == nil
}

func (r *Runner) pace(ctx context.Context) {
	if r.opt.Pace <= 0 {
		return
	}
	timer := time.NewTimer(r.opt.Pace)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
