package attempt_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/torosent/kukai/internal/attempt"
	"github.com/torosent/kukai/internal/target"
)

type tcpServer struct {
	ln       net.Listener
	accepted atomic.Int64
	mu       sync.Mutex
	received strings.Builder
	wg       sync.WaitGroup
}

func startTCPServer(t *testing.T) *tcpServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &tcpServer{ln: ln}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.wg.Add(1)
			s.accepted.Add(1)
			go func() {
				defer s.wg.Done()
				defer conn.Close()
				data, _ := io.ReadAll(conn)
				s.mu.Lock()
				s.received.Write(data)
				s.mu.Unlock()
			}()
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *tcpServer) target() target.Target {
	addr := s.ln.Addr().(*net.TCPAddr)
	return target.Target{Address: "127.0.0.1", Port: uint16(addr.Port), Weight: 1}
}

// payload waits for conns connections to be accepted and fully read.
func (s *tcpServer) payload(conns int64) string {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && s.accepted.Load() < conns {
		time.Sleep(2 * time.Millisecond)
	}
	s.wg.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received.String()
}

func TestFreshTCPOpensConnectionPerAttempt(t *testing.T) {
	srv := startTCPServer(t)
	d, err := attempt.NewDialer(attempt.ProtocolTCP, attempt.Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewDialer() error = %v", err)
	}
	exec := attempt.NewFresh(d)
	defer exec.Close()

	for i := 0; i < 3; i++ {
		out := exec.Execute(context.Background(), srv.target(), []byte("ping"))
		if !out.Success {
			t.Fatalf("attempt %d failed: %v", i, out.Err)
		}
		if out.Latency <= 0 {
			t.Fatalf("attempt %d reported no latency", i)
		}
	}

	if got := srv.payload(3); got != "pingpingping" {
		t.Fatalf("server received %q", got)
	}
	if got := srv.accepted.Load(); got != 3 {
		t.Fatalf("expected 3 connections, got %d", got)
	}
}

func TestReusedTCPKeepsOneConnection(t *testing.T) {
	srv := startTCPServer(t)
	d, _ := attempt.NewDialer(attempt.ProtocolTCP, attempt.Options{Timeout: time.Second, KeepAlive: true})
	exec := attempt.NewReused(d, nil)

	for i := 0; i < 5; i++ {
		if out := exec.Execute(context.Background(), srv.target(), []byte("x")); !out.Success {
			t.Fatalf("attempt %d failed: %v", i, out.Err)
		}
	}
	if err := exec.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if got := srv.payload(1); got != "xxxxx" {
		t.Fatalf("server received %q", got)
	}
	if got := srv.accepted.Load(); got != 1 {
		t.Fatalf("expected 1 connection, got %d", got)
	}
}

func TestReusedInitialDialFailureFailsEveryAttempt(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	d, _ := attempt.NewDialer(attempt.ProtocolTCP, attempt.Options{Timeout: 200 * time.Millisecond, KeepAlive: true})
	exec := attempt.NewReused(d, nil)
	defer exec.Close()

	tgt := target.Target{Address: "127.0.0.1", Port: uint16(port)}
	for i := 0; i < 3; i++ {
		out := exec.Execute(context.Background(), tgt, []byte("x"))
		if out.Success {
			t.Fatalf("attempt %d unexpectedly succeeded", i)
		}
		if !errors.Is(out.Err, attempt.ErrNotConnected) {
			t.Fatalf("expected ErrNotConnected, got %v", out.Err)
		}
		if out.Latency != 0 {
			t.Fatalf("expected zero latency, got %s", out.Latency)
		}
	}
}

func TestFreshTCPDialFailure(t *testing.T) {
	ln, _ := net.Listen("tcp", "127.0.0.1:0")
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	d, _ := attempt.NewDialer(attempt.ProtocolTCP, attempt.Options{Timeout: 200 * time.Millisecond})
	out := attempt.NewFresh(d).Execute(context.Background(), target.Target{Address: "127.0.0.1", Port: uint16(port)}, []byte("x"))
	if out.Success || out.Err == nil {
		t.Fatalf("expected failure, got %+v", out)
	}
}

func TestHTTPAnyResponseCountsAsSuccess(t *testing.T) {
	var (
		mu      sync.Mutex
		methods []string
		bodies  []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		methods = append(methods, r.Method)
		bodies = append(bodies, string(body))
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, _ := attempt.NewDialer(attempt.ProtocolHTTP, attempt.Options{Timeout: time.Second})
	exec := attempt.NewFresh(d)
	tgt := target.Target{Address: srv.URL + "/load", Weight: 1}

	if out := exec.Execute(context.Background(), tgt, []byte("hello")); !out.Success {
		t.Fatalf("POST attempt failed: %v", out.Err)
	}
	if out := exec.Execute(context.Background(), tgt, nil); !out.Success {
		t.Fatalf("GET attempt failed: %v", out.Err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(methods) != 2 || methods[0] != http.MethodPost || methods[1] != http.MethodGet {
		t.Fatalf("unexpected methods %v", methods)
	}
	if bodies[0] != "hello" {
		t.Fatalf("unexpected body %q", bodies[0])
	}
}

func TestFreshHTTPWorkersRunConcurrently(t *testing.T) {
	const (
		workers = 4
		delay   = 200 * time.Millisecond
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(delay)
	}))
	defer srv.Close()

	d, _ := attempt.NewDialer(attempt.ProtocolHTTP, attempt.Options{Timeout: 5 * time.Second})
	factory := attempt.NewFactory(d, false, nil)
	tgt := target.Target{Address: srv.URL, Weight: 1}

	latencies := make([]time.Duration, workers)
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			exec := factory()
			defer exec.Close()
			out := exec.Execute(context.Background(), tgt, nil)
			if !out.Success {
				t.Errorf("worker %d failed: %v", i, out.Err)
			}
			latencies[i] = out.Latency
		}(i)
	}
	wg.Wait()

	if elapsed := time.Since(start); elapsed >= 2*delay {
		t.Fatalf("expected parallel requests, took %v", elapsed)
	}
	for i, l := range latencies {
		if l >= 2*delay {
			t.Errorf("worker %d latency %v includes queueing", i, l)
		}
	}
}

func TestHTTPPlainAddressBuildsURL(t *testing.T) {
	hits := atomic.Int64{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	addr := srv.Listener.Addr().(*net.TCPAddr)
	d, _ := attempt.NewDialer(attempt.ProtocolHTTP, attempt.Options{Timeout: time.Second, KeepAlive: true})
	exec := attempt.NewReused(d, nil)
	defer exec.Close()

	tgt := target.Target{Address: "127.0.0.1", Port: uint16(addr.Port)}
	for i := 0; i < 3; i++ {
		if out := exec.Execute(context.Background(), tgt, nil); !out.Success {
			t.Fatalf("attempt %d failed: %v", i, out.Err)
		}
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 requests, got %d", hits.Load())
	}
}

func TestWebSocketReusedSendsOnOneConnection(t *testing.T) {
	var (
		conns    atomic.Int64
		messages atomic.Int64
	)
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conns.Add(1)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			messages.Add(1)
		}
	}))
	defer srv.Close()

	d, _ := attempt.NewDialer(attempt.ProtocolWebSocket, attempt.Options{Timeout: time.Second, KeepAlive: true})
	exec := attempt.NewReused(d, nil)

	tgt := target.Target{Address: "ws" + strings.TrimPrefix(srv.URL, "http")}
	for i := 0; i < 4; i++ {
		if out := exec.Execute(context.Background(), tgt, []byte("frame")); !out.Success {
			t.Fatalf("attempt %d failed: %v", i, out.Err)
		}
	}
	exec.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && messages.Load() < 4 {
		time.Sleep(5 * time.Millisecond)
	}
	if messages.Load() != 4 {
		t.Fatalf("expected 4 messages, got %d", messages.Load())
	}
	if conns.Load() != 1 {
		t.Fatalf("expected 1 connection, got %d", conns.Load())
	}
}

func TestParseProtocol(t *testing.T) {
	tests := []struct {
		in      string
		want    attempt.Protocol
		wantErr bool
	}{
		{"", attempt.ProtocolTCP, false},
		{"TCP", attempt.ProtocolTCP, false},
		{"http", attempt.ProtocolHTTP, false},
		{"ws", attempt.ProtocolWebSocket, false},
		{"websocket", attempt.ProtocolWebSocket, false},
		{"udp", "", true},
	}
	for _, tt := range tests {
		got, err := attempt.ParseProtocol(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseProtocol(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseProtocol(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
