package ingest

import (
	"crypto/subtle"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/torosent/kukai/internal/metrics"
	"github.com/torosent/kukai/internal/tracing"
)

// DescriptorRoot is the first path element of every edge descriptor; the
// second is the edge id.
const DescriptorRoot = "kukai"

// ErrInvalidChunk marks a put payload that is not a valid metrics batch.
var ErrInvalidChunk = errors.New("invalid metrics chunk")

// handshakeReply is the payload returned to an accepted handshake.
var handshakeReply = []byte("kukai")

// TokenMetadataKey carries the edge token on every DoPut stream.
const TokenMetadataKey = "auth-token-bin"

// ServiceOptions configure NewService.
type ServiceOptions struct {
	Store Store
	// Token, when set, must match the handshake payload and the
	// TokenMetadataKey header of every put stream.
	Token   string
	Logger  *zap.Logger
	Metrics *Metrics
	Tracer  trace.Tracer
	Now     func() time.Time
}

// Service is the commander's Flight endpoint. Only Handshake and DoPut do
// anything; every other verb reports Unimplemented through the embedded
// base server.
type Service struct {
	flight.BaseFlightServer

	store   Store
	token   []byte
	logger  *zap.Logger
	metrics *Metrics
	tracer  trace.Tracer
	now     func() time.Time

	storedChunks  atomic.Int64
	storedRecords atomic.Int64
}

func NewService(opt ServiceOptions) *Service {
	if opt.Store == nil {
		opt.Store = NewMemoryStore()
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	if opt.Metrics == nil {
		opt.Metrics = NewMetrics()
	}
	if opt.Tracer == nil {
		opt.Tracer = noop.NewTracerProvider().Tracer(tracing.TracerName)
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &Service{
		store:   opt.Store,
		token:   []byte(opt.Token),
		logger:  opt.Logger,
		metrics: opt.Metrics,
		tracer:  opt.Tracer,
		now:     opt.Now,
	}
}

// Metrics returns the service instruments.
func (s *Service) Metrics() *Metrics { return s.metrics }

// Totals reports how many chunks and records this service has stored.
func (s *Service) Totals() (chunks, records int64) {
	return s.storedChunks.Load(), s.storedRecords.Load()
}

// Handshake drains every request the client sends, then replies once. The
// last non-empty payload is the credential.
func (s *Service) Handshake(stream flight.FlightService_HandshakeServer) error {
	var credential []byte
	for {
		req, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if len(req.GetPayload()) > 0 {
			credential = req.GetPayload()
		}
	}

	if !s.authorized(credential) {
		s.metrics.handshake("rejected")
		return status.Error(codes.Unauthenticated, "handshake token rejected")
	}
	s.metrics.handshake("accepted")
	return stream.Send(&flight.HandshakeResponse{Payload: handshakeReply})
}

func (s *Service) authorized(credential []byte) bool {
	return len(s.token) == 0 || subtle.ConstantTimeCompare(credential, s.token) == 1
}

func streamToken(md metadata.MD) []byte {
	if vals := md.Get(TokenMetadataKey); len(vals) > 0 {
		return []byte(vals[len(vals)-1])
	}
	return nil
}

// DoPut stores every chunk of the stream and acknowledges each one before
// reading the next. A stream without the configured token fails with
// Unauthenticated before any chunk is read. A chunk that does not decode
// ends the stream with InvalidArgument and is not stored.
func (s *Service) DoPut(stream flight.FlightService_DoPutServer) (err error) {
	md, _ := metadata.FromIncomingContext(stream.Context())
	if !s.authorized(streamToken(md)) {
		s.metrics.streamRejected()
		return status.Error(codes.Unauthenticated, "put stream token rejected")
	}

	ctx := tracing.IncomingContext(stream.Context())
	ctx, span := tracing.StartFlightSpan(ctx, s.tracer, "DoPut", trace.SpanKindServer, "")

	s.metrics.streamOpened()
	var edge string
	var chunks, records int
	defer func() {
		s.metrics.streamClosed()
		tracing.EndSpan(span, err,
			attribute.Int("kukai.chunks", chunks),
			attribute.Int("kukai.records", records),
		)
	}()

	for {
		data, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			s.logger.Debug("put stream finished",
				zap.String("edge", edge),
				zap.Int("chunks", chunks),
				zap.Int("records", records),
			)
			return nil
		}
		if recvErr != nil {
			return recvErr
		}

		if id := EdgeID(data.GetFlightDescriptor()); id != "" && id != edge {
			edge = id
			span.SetAttributes(attribute.String("kukai.edge", edge))
		}

		batch, decodeErr := metrics.DecodeLines(data.GetDataBody())
		if decodeErr != nil {
			s.metrics.chunkRejected("malformed")
			s.logger.Warn("rejecting malformed chunk", zap.String("edge", edge), zap.Error(decodeErr))
			return status.Errorf(codes.InvalidArgument, "%v: %v", ErrInvalidChunk, decodeErr)
		}

		chunk := Chunk{
			EdgeID:     edge,
			Body:       data.GetDataBody(),
			Records:    len(batch),
			ReceivedAt: s.now(),
		}
		if storeErr := s.store.Append(ctx, chunk); storeErr != nil {
			s.metrics.chunkRejected("store")
			s.logger.Error("storing chunk failed", zap.String("edge", edge), zap.Error(storeErr))
			return status.Errorf(codes.Internal, "store chunk: %v", storeErr)
		}
		chunks++
		records += len(batch)
		s.storedChunks.Add(1)
		s.storedRecords.Add(int64(len(batch)))
		s.metrics.chunkStored(edge, len(batch), len(chunk.Body))

		if sendErr := stream.Send(&flight.PutResult{}); sendErr != nil {
			return sendErr
		}
	}
}

// EdgeID extracts the edge id from a ["kukai", <id>] path descriptor.
func EdgeID(desc *flight.FlightDescriptor) string {
	if desc == nil || desc.GetType() != flight.DescriptorPATH {
		return ""
	}
	path := desc.GetPath()
	if len(path) < 2 || path[0] != DescriptorRoot {
		return ""
	}
	return path[1]
}

// EdgeDescriptor builds the descriptor an edge attaches to its chunks.
func EdgeDescriptor(edgeID string) *flight.FlightDescriptor {
	return &flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{DescriptorRoot, edgeID},
	}
}
