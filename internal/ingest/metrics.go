package ingest

import (
	"net/http"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-middleware/providers/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsPrefix = "kukai_commander_"

// Metrics are the commander's Prometheus instruments. Each instance owns its
// registry so tests and multiple servers do not collide.
type Metrics struct {
	registry *prometheus.Registry

	streams       prometheus.Counter
	activeStreams prometheus.Gauge
	chunks        *prometheus.CounterVec
	records       prometheus.Counter
	bytes         prometheus.Counter
	rejected      *prometheus.CounterVec
	handshakes    *prometheus.CounterVec

	grpc *grpc_prometheus.ServerMetrics
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	srvMetrics := grpc_prometheus.NewServerMetrics(
		grpc_prometheus.WithServerHandlingTimeHistogram(
			grpc_prometheus.WithHistogramBuckets([]float64{0.001, 0.01, 0.1, 0.3, 0.6, 1, 3, 6, 9, 20, 30, 60, 90, 120}),
		),
	)
	reg.MustRegister(srvMetrics)

	return &Metrics{
		registry: reg,
		streams: factory.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "put_streams_total",
			Help: "Number of put streams opened by edges",
		}),
		activeStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: metricsPrefix + "put_streams_active",
			Help: "Number of put streams currently open",
		}),
		chunks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "chunks_total",
			Help: "Number of metrics chunks stored",
		}, []string{"edge"}),
		records: factory.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "records_total",
			Help: "Number of attempt records stored",
		}),
		bytes: factory.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "bytes_total",
			Help: "Chunk payload bytes stored",
		}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "chunks_rejected_total",
			Help: "Number of chunks rejected, by reason",
		}, []string{"reason"}),
		handshakes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "handshakes_total",
			Help: "Number of handshakes, by result",
		}, []string{"result"}),
		grpc: srvMetrics,
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) streamOpened() {
	m.streams.Inc()
	m.activeStreams.Inc()
}

func (m *Metrics) streamClosed() { m.activeStreams.Dec() }

func (m *Metrics) chunkStored(edge string, records, size int) {
	if edge == "" {
		edge = "unknown"
	}
	m.chunks.WithLabelValues(edge).Inc()
	m.records.Add(float64(records))
	m.bytes.Add(float64(size))
}

func (m *Metrics) chunkRejected(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) streamRejected() {
	m.rejected.WithLabelValues("unauthenticated").Inc()
}

func (m *Metrics) handshake(result string) {
	m.handshakes.WithLabelValues(result).Inc()
}
