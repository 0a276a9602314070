// Package grpcclient opens the gRPC connection an edge uses to reach the
// commander.
package grpcclient

import (
	"context"
	"crypto/tls"
	"errors"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// Config holds configuration for the gRPC connection.
type Config struct {
	// Target is host:port, or a URL whose https scheme turns TLS on.
	Target   string
	UseTLS   bool
	Insecure bool // skip certificate verification; only with TLS
	// DialOptions are appended after the defaults.
	DialOptions []grpc.DialOption
}

// NormalizeTarget strips an http:// or https:// prefix from addr and
// reports whether the scheme asked for TLS.
func NormalizeTarget(addr string) (string, bool) {
	addr = strings.TrimSpace(addr)
	switch {
	case strings.HasPrefix(addr, "https://"):
		return strings.TrimSuffix(strings.TrimPrefix(addr, "https://"), "/"), true
	case strings.HasPrefix(addr, "http://"):
		return strings.TrimSuffix(strings.TrimPrefix(addr, "http://"), "/"), false
	default:
		return addr, false
	}
}

// Dial establishes a gRPC connection based on configuration. The connection
// is lazy: the first RPC performs the actual dial.
func Dial(_ context.Context, cfg Config) (*grpc.ClientConn, error) {
	target, schemeTLS := NormalizeTarget(cfg.Target)
	if target == "" {
		return nil, errors.New("grpc target is required")
	}
	cfg.UseTLS = cfg.UseTLS || schemeTLS

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(transportCredentials(cfg)),
		grpc.WithUserAgent("kukai-edge"),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: false,
		}),
	}
	opts = append(opts, cfg.DialOptions...)

	// grpc.NewClient is non-blocking and doesn't take a context for dialing itself
	return grpc.NewClient(target, opts...)
}

func transportCredentials(cfg Config) credentials.TransportCredentials {
	if !cfg.UseTLS {
		return insecure.NewCredentials()
	}
	if cfg.Insecure {
		// Use TLS but skip certificate verification
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true})
	}
	return credentials.NewClientTLSFromCert(nil, "")
}
