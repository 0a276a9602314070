package attempt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/kukai/internal/target"
)

// Protocol names the wire used to exercise a target.
type Protocol string

const (
	ProtocolTCP       Protocol = "tcp"
	ProtocolHTTP      Protocol = "http"
	ProtocolWebSocket Protocol = "websocket"
)

// DefaultTimeout bounds a single dial or write.
const DefaultTimeout = 5 * time.Second

// ParseProtocol accepts the configured protocol name. Empty means tcp.
func ParseProtocol(s string) (Protocol, error) {
	switch p := Protocol(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ProtocolTCP, nil
	case ProtocolTCP, ProtocolHTTP, ProtocolWebSocket:
		return p, nil
	case "ws":
		return ProtocolWebSocket, nil
	default:
		return "", fmt.Errorf("unsupported protocol %q", s)
	}
}

// Outcome is the result of one attempt.
type Outcome struct {
	Success bool
	Latency time.Duration
	Err     error
}

// Conn is an open channel to a target that can carry payloads.
type Conn interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// Dialer opens connections to targets. Implementations must be safe for
// concurrent use; the Conns they return need not be.
type Dialer interface {
	Dial(ctx context.Context, t target.Target) (Conn, error)
}

// Executor performs attempts for a single worker. It is not safe for
// concurrent use.
type Executor interface {
	Execute(ctx context.Context, t target.Target, payload []byte) Outcome
	Close() error
}

// Options configure NewDialer.
type Options struct {
	Timeout time.Duration
	// KeepAlive lets a connection outlive one attempt. The reused strategy
	// sets it; the fresh strategy leaves it off.
	KeepAlive bool
}

// NewDialer returns the dialer for protocol.
func NewDialer(protocol Protocol, opt Options) (Dialer, error) {
	if opt.Timeout <= 0 {
		opt.Timeout = DefaultTimeout
	}
	switch protocol {
	case ProtocolTCP, "":
		return newTCPDialer(opt), nil
	case ProtocolHTTP:
		return newHTTPDialer(opt), nil
	case ProtocolWebSocket:
		return newWebSocketDialer(opt), nil
	default:
		return nil, fmt.Errorf("unsupported protocol %q", protocol)
	}
}

// Factory builds one Executor per worker.
type Factory func() Executor

// NewFactory returns a factory for the fresh or reused strategy over d.
func NewFactory(d Dialer, reuse bool, logger *zap.Logger) Factory {
	if reuse {
		return func() Executor { return NewReused(d, logger) }
	}
	return func() Executor { return NewFresh(d) }
}
