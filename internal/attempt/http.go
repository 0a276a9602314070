package attempt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/torosent/kukai/internal/target"
)

// maxDrain caps how much of a response body is read before the connection
// is reused or closed.
const maxDrain = 64 << 10

type httpDialer struct {
	opt Options
	// shared serves the fresh strategy; reused connections get their own.
	shared *http.Client
}

func newHTTPDialer(opt Options) *httpDialer {
	d := &httpDialer{opt: opt}
	if !opt.KeepAlive {
		d.shared = newHTTPClient(opt)
	}
	return d
}

func newHTTPClient(opt Options) *http.Client {
	dialer := &net.Dialer{
		Timeout:   opt.Timeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		DisableKeepAlives:     !opt.KeepAlive,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   opt.Timeout,
		ExpectContinueTimeout: time.Second,
	}
	if opt.KeepAlive {
		// A reused client belongs to one worker and holds one connection.
		transport.MaxIdleConnsPerHost = 1
		transport.MaxConnsPerHost = 1
	}
	return &http.Client{Timeout: opt.Timeout, Transport: transport}
}

func (d *httpDialer) Dial(_ context.Context, t target.Target) (Conn, error) {
	client := d.shared
	owned := false
	if client == nil {
		client = newHTTPClient(d.opt)
		owned = true
	}
	return &httpConn{client: client, url: httpURL(t), owned: owned}, nil
}

func httpURL(t target.Target) string {
	if t.HasScheme() {
		return t.Address
	}
	return "http://" + t.String() + "/"
}

type httpConn struct {
	client *http.Client
	url    string
	owned  bool
}

// Send issues a POST carrying payload, or a GET when payload is empty. Any
// response counts as delivered regardless of status.
func (c *httpConn) Send(ctx context.Context, payload []byte) error {
	method := http.MethodGet
	var body io.Reader
	if len(payload) > 0 {
		method = http.MethodPost
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
	return resp.Body.Close()
}

func (c *httpConn) Close() error {
	if c.owned {
		c.client.CloseIdleConnections()
	}
	return nil
}
