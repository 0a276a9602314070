// Package ingest is the commander side of metrics collection: a Flight
// service that authenticates edges at handshake, acknowledges every put
// chunk and hands it to a Store (memory or Redis), plus the gRPC server
// that hosts it with logging, recovery and Prometheus interceptors.
package ingest
