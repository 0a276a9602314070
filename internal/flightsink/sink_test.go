package flightsink_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/torosent/kukai/internal/flightsink"
	"github.com/torosent/kukai/internal/ingest"
	"github.com/torosent/kukai/internal/metrics"
)

func startCommander(t *testing.T, store ingest.Store, token string) *bufconn.Listener {
	t.Helper()
	svc := ingest.NewService(ingest.ServiceOptions{Store: store, Token: token})
	srv := ingest.NewServer(svc, ingest.ServerOptions{GracePeriod: time.Second})
	lis := bufconn.Listen(1 << 20)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, lis)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return lis
}

func newSink(t *testing.T, lis *bufconn.Listener, opt flightsink.Options) *flightsink.Sink {
	t.Helper()
	opt.Address = "passthrough:///bufnet"
	opt.DialOptions = append(opt.DialOptions, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	sink, err := flightsink.New(context.Background(), opt)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })
	return sink
}

func TestFlushDeliversOneChunk(t *testing.T) {
	store := ingest.NewMemoryStore()
	sink := newSink(t, startCommander(t, store, ""), flightsink.Options{EdgeID: "edge-7"})

	batch := []metrics.Record{
		{TimestampMicros: 100, Target: "host:1", Success: true, LatencyMicros: 50},
	}
	if err := sink.Flush(context.Background(), batch); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	chunks := store.Snapshot()
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if string(chunks[0].Body) != "100,host:1,true,50\n" {
		t.Fatalf("unexpected body %q", chunks[0].Body)
	}
	if chunks[0].EdgeID != "edge-7" {
		t.Fatalf("unexpected edge %q", chunks[0].EdgeID)
	}
}

func TestFlushEmptyBatchIsNoop(t *testing.T) {
	store := ingest.NewMemoryStore()
	sink := newSink(t, startCommander(t, store, ""), flightsink.Options{EdgeID: "e"})

	if err := sink.Flush(context.Background(), nil); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if chunks, _ := store.Totals(); chunks != 0 {
		t.Fatalf("expected nothing stored, got %d chunks", chunks)
	}
}

func TestHandshakeRejectedToken(t *testing.T) {
	lis := startCommander(t, ingest.NewMemoryStore(), "expected")

	bad := newSink(t, lis, flightsink.Options{EdgeID: "e", Token: "other"})
	if err := bad.Handshake(context.Background()); !errors.Is(err, flightsink.ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}

	good := newSink(t, lis, flightsink.Options{EdgeID: "e", Token: "expected"})
	if err := good.Handshake(context.Background()); err != nil {
		t.Fatalf("Handshake() error = %v", err)
	}
}

func TestFlushCarriesToken(t *testing.T) {
	store := ingest.NewMemoryStore()
	lis := startCommander(t, store, "expected")
	batch := []metrics.Record{{TimestampMicros: 1, Target: "a:1", Success: true, LatencyMicros: 1}}

	bad := newSink(t, lis, flightsink.Options{EdgeID: "e", Token: "other"})
	if err := bad.Flush(context.Background(), batch); !errors.Is(err, flightsink.ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}

	good := newSink(t, lis, flightsink.Options{EdgeID: "e", Token: "expected"})
	if err := good.Flush(context.Background(), batch); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if chunks, _ := store.Totals(); chunks != 1 {
		t.Fatalf("expected only the authorized chunk stored, got %d", chunks)
	}
}

func TestFlushTransportFailure(t *testing.T) {
	lis := bufconn.Listen(1 << 10)
	_ = lis.Close()
	sink := newSink(t, lis, flightsink.Options{EdgeID: "e"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := sink.Flush(ctx, []metrics.Record{{Target: "a:1"}})
	if err == nil {
		t.Fatalf("expected transport error")
	}
	if errors.Is(err, flightsink.ErrRejected) {
		t.Fatalf("transport failure classified as rejection: %v", err)
	}
}

func TestFlushRecordsClientSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(trace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	sink := newSink(t, startCommander(t, ingest.NewMemoryStore(), ""), flightsink.Options{
		EdgeID:    "edge-s",
		Tracer:    tp.Tracer("test"),
		Propagate: true,
	})
	if err := sink.Flush(context.Background(), []metrics.Record{{Target: "a:1", Success: true}}); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "flight DoPut" {
		t.Fatalf("unexpected span name %q", spans[0].Name)
	}
}
