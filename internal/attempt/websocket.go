package attempt

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/torosent/kukai/internal/target"
)

type webSocketDialer struct {
	dialer  *websocket.Dialer
	timeout time.Duration
}

func newWebSocketDialer(opt Options) *webSocketDialer {
	return &webSocketDialer{
		dialer: &websocket.Dialer{
			HandshakeTimeout: opt.Timeout,
			Proxy:            http.ProxyFromEnvironment,
		},
		timeout: opt.Timeout,
	}
}

func (d *webSocketDialer) Dial(ctx context.Context, t target.Target) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, webSocketURL(t), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return &webSocketConn{conn: conn, timeout: d.timeout}, nil
}

func webSocketURL(t target.Target) string {
	if t.HasScheme() {
		switch {
		case strings.HasPrefix(t.Address, "http://"):
			return "ws://" + strings.TrimPrefix(t.Address, "http://")
		case strings.HasPrefix(t.Address, "https://"):
			return "wss://" + strings.TrimPrefix(t.Address, "https://")
		}
		return t.Address
	}
	return "ws://" + t.String() + "/"
}

type webSocketConn struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func (c *webSocketConn) Send(_ context.Context, payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (c *webSocketConn) Close() error {
	err := c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	closeErr := c.conn.Close()
	if err != nil {
		return err
	}
	return closeErr
}
