package attempt

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/torosent/kukai/internal/target"
)

type tcpDialer struct {
	dialer  *net.Dialer
	timeout time.Duration
}

func newTCPDialer(opt Options) *tcpDialer {
	d := &net.Dialer{Timeout: opt.Timeout}
	if !opt.KeepAlive {
		d.KeepAlive = -1
	}
	return &tcpDialer{dialer: d, timeout: opt.Timeout}
}

func (d *tcpDialer) Dial(ctx context.Context, t target.Target) (Conn, error) {
	conn, err := d.dialer.DialContext(ctx, "tcp", t.String())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t, err)
	}
	return &tcpConn{conn: conn, timeout: d.timeout}, nil
}

type tcpConn struct {
	conn    net.Conn
	timeout time.Duration
}

func (c *tcpConn) Send(ctx context.Context, payload []byte) error {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := c.conn.Write(payload); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (c *tcpConn) Close() error { return c.conn.Close() }
