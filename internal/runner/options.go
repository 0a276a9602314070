package runner

import (
	"time"

	"go.uber.org/zap"

	"github.com/torosent/kukai/internal/attempt"
	"github.com/torosent/kukai/internal/metrics"
	"github.com/torosent/kukai/internal/target"
)

// DefaultPace is the sleep after every attempt.
const DefaultPace = 10 * time.Millisecond

// Admission selects how workers take tokens from the gate.
type Admission int

const (
	// AdmissionBlocking waits for a token before each attempt.
	AdmissionBlocking Admission = iota
	// AdmissionTry skips the attempt and sleeps one pace when no token is
	// available.
	AdmissionTry
)

// Options configure the Runner.
type Options struct {
	Concurrency int           // number of worker goroutines
	Duration    time.Duration // run length (0 means until ctx is cancelled)
	Targets     []target.Target
	Payload     []byte
	Reuse       bool  // pick the target once per worker
	Gate        *Gate // nil admits every attempt
	Admission   Admission
	Pace        time.Duration // 0 means DefaultPace; negative disables pacing
	NewExecutor attempt.Factory
	Recorder    metrics.Recorder
	RandomSeed  int64 // 0 seeds from the clock
	Logger      *zap.Logger
}

func (o *Options) normalize() {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.Duration < 0 {
		o.Duration = 0
	}
	if o.Pace == 0 {
		o.Pace = DefaultPace
	}
	if o.Pace < 0 {
		o.Pace = 0
	}
	if o.RandomSeed == 0 {
		o.RandomSeed = time.Now().UnixNano()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Recorder == nil {
		o.Recorder = metrics.MultiRecorder()
	}
}
