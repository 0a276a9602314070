// Package flightsink streams metric batches from an edge to the commander
// over Arrow Flight DoPut.
package flightsink

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/torosent/kukai/internal/grpcclient"
	"github.com/torosent/kukai/internal/ingest"
	"github.com/torosent/kukai/internal/metrics"
	"github.com/torosent/kukai/internal/tracing"
)

// ErrRejected is returned when the commander refuses the edge credential.
var ErrRejected = errors.New("commander rejected edge credential")

// Options configure New.
type Options struct {
	Address  string
	EdgeID   string
	Token    string
	TLS      bool
	Insecure bool
	// Propagate injects W3C trace context into every call.
	Propagate   bool
	Tracer      trace.Tracer
	Logger      *zap.Logger
	DialOptions []grpc.DialOption
}

// Sink sends each flushed batch as a single chunk on its own DoPut stream
// and waits for the commander to acknowledge it.
type Sink struct {
	conn   *grpc.ClientConn
	client flight.Client
	opt    Options
}

var _ metrics.Sink = (*Sink)(nil)

// New prepares the connection. Nothing is dialed until the first call.
func New(ctx context.Context, opt Options) (*Sink, error) {
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	if opt.Tracer == nil {
		opt.Tracer = noop.NewTracerProvider().Tracer(tracing.TracerName)
	}
	conn, err := grpcclient.Dial(ctx, grpcclient.Config{
		Target:      opt.Address,
		UseTLS:      opt.TLS,
		Insecure:    opt.Insecure,
		DialOptions: opt.DialOptions,
	})
	if err != nil {
		return nil, fmt.Errorf("connect commander %s: %w", opt.Address, err)
	}
	return &Sink{
		conn:   conn,
		client: flight.NewClientFromConn(conn, nil),
		opt:    opt,
	}, nil
}

// Handshake presents the edge token. A refusal wraps ErrRejected; any other
// error is a transport failure.
func (s *Sink) Handshake(ctx context.Context) (err error) {
	ctx, span := s.startSpan(ctx, "Handshake")
	defer func() { tracing.EndSpan(span, err) }()

	stream, err := s.client.Handshake(ctx)
	if err != nil {
		return s.classify("handshake", err)
	}
	if err := stream.Send(&flight.HandshakeRequest{Payload: []byte(s.opt.Token)}); err != nil && !errors.Is(err, io.EOF) {
		return s.classify("handshake", err)
	}
	if err := stream.CloseSend(); err != nil {
		return s.classify("handshake", err)
	}
	for {
		_, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return s.classify("handshake", err)
		}
	}
}

// Flush writes records as one chunk and consumes acknowledgments until the
// commander closes the stream. There is no retry.
func (s *Sink) Flush(ctx context.Context, records []metrics.Record) (err error) {
	if len(records) == 0 {
		return nil
	}
	ctx, span := s.startSpan(ctx, "DoPut")
	acks := 0
	defer func() {
		tracing.EndSpan(span, err,
			attribute.Int("kukai.records", len(records)),
			attribute.Int("kukai.acks", acks),
		)
	}()

	if s.opt.Token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, ingest.TokenMetadataKey, s.opt.Token)
	}
	stream, err := s.client.DoPut(ctx)
	if err != nil {
		return s.classify("open put stream", err)
	}
	sendErr := stream.Send(&flight.FlightData{
		FlightDescriptor: ingest.EdgeDescriptor(s.opt.EdgeID),
		DataBody:         metrics.EncodeLines(records),
	})
	// A failed send surfaces the server status on Recv.
	if sendErr != nil && !errors.Is(sendErr, io.EOF) {
		return s.classify("send chunk", sendErr)
	}
	if err := stream.CloseSend(); err != nil {
		return s.classify("close put stream", err)
	}
	for {
		_, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return s.classify("receive ack", err)
		}
		acks++
	}
	if acks != 1 {
		return fmt.Errorf("commander acknowledged %d chunks, want 1", acks)
	}
	s.opt.Logger.Debug("metrics batch delivered",
		zap.String("edge", s.opt.EdgeID),
		zap.Int("records", len(records)),
	)
	return nil
}

// Close releases the connection.
func (s *Sink) Close() error {
	return s.conn.Close()
}

func (s *Sink) startSpan(ctx context.Context, method string) (context.Context, trace.Span) {
	ctx, span := tracing.StartFlightSpan(ctx, s.opt.Tracer, method, trace.SpanKindClient, s.opt.EdgeID)
	if s.opt.Propagate {
		ctx = tracing.OutgoingContext(ctx)
	}
	return ctx, span
}

func (s *Sink) classify(op string, err error) error {
	if status.Code(err) == codes.Unauthenticated {
		return fmt.Errorf("%s: %w: %v", op, ErrRejected, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
