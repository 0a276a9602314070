package attempt

import (
	"context"
	"time"

	"github.com/torosent/kukai/internal/target"
)

type freshExecutor struct {
	dialer Dialer
}

// NewFresh returns an executor that opens a new connection for every
// attempt. Latency covers connect and write.
func NewFresh(d Dialer) Executor {
	return &freshExecutor{dialer: d}
}

func (e *freshExecutor) Execute(ctx context.Context, t target.Target, payload []byte) Outcome {
	start := time.Now()
	conn, err := e.dialer.Dial(ctx, t)
	if err != nil {
		return Outcome{Latency: time.Since(start), Err: err}
	}
	err = conn.Send(ctx, payload)
	latency := time.Since(start)
	_ = conn.Close()
	return Outcome{Success: err == nil, Latency: latency, Err: err}
}

func (e *freshExecutor) Close() error { return nil }
