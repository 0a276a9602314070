package metrics

import "context"

// Sink transports a batch of records to its destination. Flush of an empty
// batch is a successful no-op. Implementations must tolerate Flush being
// called from different goroutines, one call at a time.
type Sink interface {
	Flush(ctx context.Context, records []Record) error
	Close() error
}

// DiscardSink drops every batch. Useful when only the run summary matters.
type DiscardSink struct{}

func (DiscardSink) Flush(context.Context, []Record) error { return nil }

func (DiscardSink) Close() error { return nil }
