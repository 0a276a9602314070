// Package columnar is the standalone durable sink: every flush appends one
// self-contained Arrow IPC stream to a local file that is never truncated.
package columnar

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/torosent/kukai/internal/metrics"
)

// Schema is the layout of every appended batch.
var Schema = arrow.NewSchema([]arrow.Field{
	{Name: "timestamp_micros", Type: &arrow.TimestampType{Unit: arrow.Microsecond}},
	{Name: "target", Type: arrow.BinaryTypes.String},
	{Name: "success", Type: arrow.FixedWidthTypes.Boolean},
	{Name: "latency_us", Type: arrow.PrimitiveTypes.Uint64},
}, nil)

// buildRecord converts a batch into an Arrow record. The caller releases it.
func buildRecord(mem memory.Allocator, records []metrics.Record) arrow.Record {
	b := array.NewRecordBuilder(mem, Schema)
	defer b.Release()

	ts := b.Field(0).(*array.TimestampBuilder)
	targets := b.Field(1).(*array.StringBuilder)
	success := b.Field(2).(*array.BooleanBuilder)
	latency := b.Field(3).(*array.Uint64Builder)

	ts.Reserve(len(records))
	targets.Reserve(len(records))
	success.Reserve(len(records))
	latency.Reserve(len(records))
	for _, r := range records {
		ts.Append(arrow.Timestamp(r.TimestampMicros))
		targets.Append(r.Target)
		success.Append(r.Success)
		latency.Append(r.LatencyMicros)
	}
	return b.NewRecord()
}

func appendRows(dst []metrics.Record, rec arrow.Record) []metrics.Record {
	ts := rec.Column(0).(*array.Timestamp)
	targets := rec.Column(1).(*array.String)
	success := rec.Column(2).(*array.Boolean)
	latency := rec.Column(3).(*array.Uint64)
	for i := 0; i < int(rec.NumRows()); i++ {
		dst = append(dst, metrics.Record{
			TimestampMicros: int64(ts.Value(i)),
			Target:          targets.Value(i),
			Success:         success.Value(i),
			LatencyMicros:   latency.Value(i),
		})
	}
	return dst
}
