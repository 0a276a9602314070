// Package metrics buffers per-attempt measurements and ships them to a sink.
//
// Workers append one [Record] per traffic attempt to a shared [Buffer]. A
// [Flusher] wakes on a fixed interval, drains the buffer and hands non-empty
// batches to a [Sink]:
//
//	buf := metrics.NewBuffer(1024)
//	flusher := metrics.NewFlusher(buf, sink, metrics.FlusherOptions{Logger: logger})
//	flusher.Start(ctx)
//
//	// ... workers call buf.Append(record) ...
//
//	err := flusher.Final(ctx) // last batch, error is returned
//	flusher.Stop()
//
// # Delivery
//
// Periodic flush errors are logged and dropped; losing one interval of
// telemetry never aborts a run. The final flush returns its error so the
// caller can report the lost batch.
//
// # Drain atomicity
//
// [Buffer.Drain] swaps the backing slice under the buffer lock. An append
// lands either in the batch being drained or in the next one. No I/O happens
// while the lock is held.
//
// # Wire format
//
// Remote sinks transmit batches as newline-delimited text, one record per
// line in the fixed order timestamp_micros,target,success,latency_us. See
// [EncodeLines] and [DecodeLines]. Targets must not contain commas.
//
// # Summary
//
// [Summary] keeps run-level counters (attempts, failures, latency
// min/mean/max, per-target totals) for the report printed at the end of a run.
package metrics
