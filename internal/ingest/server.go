package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	grpc_logging "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultGracePeriod bounds a graceful stop before streams are cut.
const DefaultGracePeriod = 10 * time.Second

// ServerOptions configure NewServer.
type ServerOptions struct {
	// MetricsAddress, when set, serves /metrics over HTTP.
	MetricsAddress string
	GracePeriod    time.Duration
	Logger         *zap.Logger
	// ServerOptions are appended after the interceptor chain.
	ServerOptions []grpc.ServerOption
}

// Server hosts a Service on gRPC with logging, recovery and Prometheus
// interceptors.
type Server struct {
	grpc    *grpc.Server
	service *Service
	opt     ServerOptions
	logger  *zap.Logger
}

func NewServer(svc *Service, opt ServerOptions) *Server {
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	if opt.GracePeriod <= 0 {
		opt.GracePeriod = DefaultGracePeriod
	}

	loggerOpts := []grpc_logging.Option{
		grpc_logging.WithLogOnEvents(grpc_logging.StartCall, grpc_logging.FinishCall),
	}
	recoveryOpt := grpc_recovery.WithRecoveryHandler(panicRecoveryHandler(opt.Logger))
	srvMetrics := svc.metrics.grpc

	serverOpts := append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			srvMetrics.UnaryServerInterceptor(),
			grpc_logging.UnaryServerInterceptor(InterceptorLogger(opt.Logger), loggerOpts...),
			grpc_recovery.UnaryServerInterceptor(recoveryOpt),
		),
		grpc.ChainStreamInterceptor(
			srvMetrics.StreamServerInterceptor(),
			grpc_logging.StreamServerInterceptor(InterceptorLogger(opt.Logger), loggerOpts...),
			grpc_recovery.StreamServerInterceptor(recoveryOpt),
		),
	}, opt.ServerOptions...)

	grpcServer := grpc.NewServer(serverOpts...)
	flight.RegisterFlightServiceServer(grpcServer, svc)
	srvMetrics.InitializeMetrics(grpcServer)

	return &Server{grpc: grpcServer, service: svc, opt: opt, logger: opt.Logger}
}

// GRPC exposes the underlying server.
func (s *Server) GRPC() *grpc.Server { return s.grpc }

// ListenAndServe listens on address and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", address, err)
	}
	return s.Serve(ctx, lis)
}

// Serve runs the gRPC server, and the metrics endpoint when configured,
// until ctx ends or either fails. Shutdown is graceful for up to the grace
// period, then streams are cut.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("commander listening", zap.String("address", lis.Addr().String()))
		if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve grpc: %w", err)
		}
		return nil
	})

	var metricsServer *http.Server
	if s.opt.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.service.metrics.Handler())
		metricsServer = &http.Server{
			Addr:              s.opt.MetricsAddress,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			s.logger.Info("metrics endpoint listening", zap.String("address", s.opt.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve metrics: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.shutdown(metricsServer)
		return nil
	})

	return g.Wait()
}

func (s *Server) shutdown(metricsServer *http.Server) {
	s.logger.Info("commander shutting down", zap.Duration("grace_period", s.opt.GracePeriod))

	timer := time.AfterFunc(s.opt.GracePeriod, func() {
		s.logger.Warn("grace period elapsed, closing open streams")
		s.grpc.Stop()
	})
	s.grpc.GracefulStop()
	timer.Stop()

	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(ctx); err != nil {
			s.logger.Warn("metrics endpoint shutdown", zap.Error(err))
		}
	}
}

// InterceptorLogger adapts zap to the go-grpc-middleware logging interface.
func InterceptorLogger(l *zap.Logger) grpc_logging.Logger {
	return grpc_logging.LoggerFunc(func(ctx context.Context, lvl grpc_logging.Level, msg string, fields ...any) {
		zapFields := make([]zap.Field, 0, len(fields)/2)
		i := grpc_logging.Fields(fields).Iterator()
		for i.Next() {
			k, v := i.At()
			zapFields = append(zapFields, zap.Any(k, v))
		}
		logger := l.WithOptions(zap.AddCallerSkip(1)).With(zapFields...)
		switch lvl {
		case grpc_logging.LevelDebug:
			logger.Debug(msg)
		case grpc_logging.LevelInfo:
			logger.Info(msg)
		case grpc_logging.LevelWarn:
			logger.Warn(msg)
		case grpc_logging.LevelError:
			logger.Error(msg)
		default:
			logger.Error(msg, zap.Int("unknown_level", int(lvl)))
		}
	})
}

// panicRecoveryHandler is called whenever a handler panics.
func panicRecoveryHandler(l *zap.Logger) grpc_recovery.RecoveryHandlerFunc {
	return func(p any) error {
		l.Error("request triggered panic", zap.Any("cause", p), zap.ByteString("stack", debug.Stack()))
		return status.Errorf(codes.Internal, "internal server error caused by %v", p)
	}
}
