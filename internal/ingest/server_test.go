package ingest_test

import (
	"context"
	"testing"

	grpc_logging "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/torosent/kukai/internal/ingest"
)

func TestInterceptorLoggerMapsLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := ingest.InterceptorLogger(zap.New(core))

	l.Log(context.Background(), grpc_logging.LevelWarn, "finished call", "grpc.method", "DoPut", "grpc.code", "OK")

	if logs.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", logs.Len())
	}
	entry := logs.All()[0]
	if entry.Level != zapcore.WarnLevel || entry.Message != "finished call" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	fields := entry.ContextMap()
	if fields["grpc.method"] != "DoPut" || fields["grpc.code"] != "OK" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestNewServerRegistersFlight(t *testing.T) {
	srv := ingest.NewServer(ingest.NewService(ingest.ServiceOptions{}), ingest.ServerOptions{})
	if _, ok := srv.GRPC().GetServiceInfo()["arrow.flight.protocol.FlightService"]; !ok {
		t.Fatalf("flight service not registered")
	}
}
