package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// DefaultFlushInterval is how often the background task drains the buffer.
const DefaultFlushInterval = 2 * time.Second

// FlusherOptions configure a Flusher.
type FlusherOptions struct {
	Interval time.Duration // 0 means DefaultFlushInterval
	Logger   *zap.Logger
	Tracer   trace.Tracer
	SinkName string // span attribute, e.g. "flight" or "arrow"
}

// FlushStats counts what the flusher has delivered so far.
type FlushStats struct {
	Batches  int64 `json:"batches"`
	Records  int64 `json:"records"`
	Failures int64 `json:"failures"`
}

// Flusher periodically drains a Buffer into a Sink. Flushes never overlap:
// a periodic flush and the final flush are serialized.
type Flusher struct {
	buffer *Buffer
	sink   Sink
	opt    FlusherOptions

	flushMu sync.Mutex

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}

	batches  atomic.Int64
	records  atomic.Int64
	failures atomic.Int64
}

// NewFlusher wires a buffer to a sink.
func NewFlusher(buffer *Buffer, sink Sink, opt FlusherOptions) *Flusher {
	if opt.Interval <= 0 {
		opt.Interval = DefaultFlushInterval
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	if opt.Tracer == nil {
		opt.Tracer = noop.NewTracerProvider().Tracer("kukai")
	}
	return &Flusher{
		buffer: buffer,
		sink:   sink,
		opt:    opt,
		done:   make(chan struct{}),
	}
}

// Start launches the background flush loop. It is a no-op after the first call.
func (f *Flusher) Start(ctx context.Context) {
	f.startOnce.Do(func() {
		loopCtx, cancel := context.WithCancel(ctx)
		f.cancel = cancel
		go f.loop(loopCtx)
	})
}

func (f *Flusher) loop(ctx context.Context) {
	defer close(f.done)

	ticker := time.NewTicker(f.opt.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A flush that has started runs to completion even if Stop is called.
			if err := f.flush(context.WithoutCancel(ctx)); err != nil {
				f.opt.Logger.Warn("periodic metrics flush failed",
					zap.String("sink", f.opt.SinkName),
					zap.Error(err),
				)
			}
		}
	}
}

// Final drains whatever is left and flushes it, returning the sink error.
// Call it after every writer has finished and before Stop.
func (f *Flusher) Final(ctx context.Context) error {
	return f.flush(ctx)
}

// Stop ends the background loop and waits for an in-flight flush to finish.
func (f *Flusher) Stop() {
	f.stopOnce.Do(func() {
		if f.cancel == nil {
			close(f.done)
			return
		}
		f.cancel()
		<-f.done
	})
}

// Stats reports delivery counters.
func (f *Flusher) Stats() FlushStats {
	return FlushStats{
		Batches:  f.batches.Load(),
		Records:  f.records.Load(),
		Failures: f.failures.Load(),
	}
}

func (f *Flusher) flush(ctx context.Context) error {
	f.flushMu.Lock()
	defer f.flushMu.Unlock()

	batch := f.buffer.Drain()
	if len(batch) == 0 {
		return nil
	}

	ctx, span := f.opt.Tracer.Start(ctx, "kukai.flush", trace.WithAttributes(
		attribute.String("kukai.sink", f.opt.SinkName),
		attribute.Int("kukai.records", len(batch)),
	))
	defer span.End()

	if err := f.sink.Flush(ctx, batch); err != nil {
		f.failures.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	f.batches.Add(1)
	f.records.Add(int64(len(batch)))
	span.SetStatus(codes.Ok, "")
	return nil
}
