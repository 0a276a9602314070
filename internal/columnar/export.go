package columnar

import (
	"fmt"
	"os"

	"github.com/xitongsys/parquet-go/writer"

	"github.com/torosent/kukai/internal/metrics"
)

// ParquetRow is the Parquet layout written by ExportParquet.
type ParquetRow struct {
	TimestampMicros int64  `parquet:"name=timestamp_micros, type=INT64, convertedtype=TIMESTAMP_MICROS"`
	Target          string `parquet:"name=target, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Success         bool   `parquet:"name=success, type=BOOLEAN"`
	LatencyMicros   int64  `parquet:"name=latency_us, type=INT64"`
}

// ExportParquet copies every record of the Arrow file at src into a new
// Parquet file at dst and returns the row count.
func ExportParquet(src, dst string) (int, error) {
	records, err := ReadFile(src)
	if err != nil {
		return 0, err
	}

	f, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dst, err)
	}
	defer f.Close()

	pw, err := writer.NewParquetWriterFromWriter(f, new(ParquetRow), 1)
	if err != nil {
		return 0, fmt.Errorf("parquet writer: %w", err)
	}
	for _, r := range records {
		if err := pw.Write(toParquetRow(r)); err != nil {
			return 0, fmt.Errorf("write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return 0, fmt.Errorf("finish parquet file: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", dst, err)
	}
	return len(records), nil
}

func toParquetRow(r metrics.Record) ParquetRow {
	return ParquetRow{
		TimestampMicros: r.TimestampMicros,
		Target:          r.Target,
		Success:         r.Success,
		LatencyMicros:   int64(r.LatencyMicros),
	}
}
