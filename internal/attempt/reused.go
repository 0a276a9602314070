package attempt

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/kukai/internal/target"
)

// ErrNotConnected is reported for every attempt after the initial dial of a
// reused connection failed.
var ErrNotConnected = errors.New("connection not established")

type reusedExecutor struct {
	dialer Dialer
	logger *zap.Logger

	dialed  bool
	conn    Conn
	dialErr error
}

// NewReused returns an executor that dials once, on the first attempt, and
// writes every later payload on that connection. It never reconnects: if the
// first dial fails every attempt is a failure with zero latency.
func NewReused(d Dialer, logger *zap.Logger) Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &reusedExecutor{dialer: d, logger: logger}
}

func (e *reusedExecutor) Execute(ctx context.Context, t target.Target, payload []byte) Outcome {
	if !e.dialed {
		e.dialed = true
		e.conn, e.dialErr = e.dialer.Dial(ctx, t)
		if e.dialErr != nil {
			e.logger.Warn("initial connection failed", zap.String("target", t.String()), zap.Error(e.dialErr))
		}
	}
	if e.conn == nil {
		return Outcome{Err: errors.Join(ErrNotConnected, e.dialErr)}
	}

	start := time.Now()
	err := e.conn.Send(ctx, payload)
	return Outcome{Success: err == nil, Latency: time.Since(start), Err: err}
}

func (e *reusedExecutor) Close() error {
	if e.conn == nil {
		return nil
	}
	err := e.conn.Close()
	e.conn = nil
	return err
}
