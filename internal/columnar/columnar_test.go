package columnar_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/torosent/kukai/internal/columnar"
	"github.com/torosent/kukai/internal/metrics"
)

func openSink(t *testing.T, path string) *columnar.Sink {
	t.Helper()
	sink, err := columnar.Open(path, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })
	return sink
}

func TestSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.arrow")
	sink := openSink(t, path)

	batch := []metrics.Record{
		{TimestampMicros: 1_700_000_000_000_000, Target: "10.0.0.1:80", Success: true, LatencyMicros: 1200},
		{TimestampMicros: 1_700_000_000_000_500, Target: "10.0.0.2:80", Success: false, LatencyMicros: 0},
	}
	if err := sink.Flush(context.Background(), batch); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	got, err := columnar.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !reflect.DeepEqual(got, batch) {
		t.Fatalf("ReadFile() = %+v, want %+v", got, batch)
	}
}

func TestSinkAppendsAreAdditive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.arrow")
	sink := openSink(t, path)

	first := []metrics.Record{{TimestampMicros: 1, Target: "a:1", Success: true, LatencyMicros: 10}}
	second := []metrics.Record{
		{TimestampMicros: 2, Target: "b:2", Success: false, LatencyMicros: 20},
		{TimestampMicros: 3, Target: "c:3", Success: true, LatencyMicros: 30},
	}
	if err := sink.Flush(context.Background(), first); err != nil {
		t.Fatalf("first Flush() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	sizeAfterFirst := info.Size()

	if err := sink.Flush(context.Background(), second); err != nil {
		t.Fatalf("second Flush() error = %v", err)
	}
	info, err = os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() <= sizeAfterFirst {
		t.Fatalf("file did not grow: %d -> %d", sizeAfterFirst, info.Size())
	}

	got, err := columnar.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	want := append(append([]metrics.Record(nil), first...), second...)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ReadFile() = %+v, want %+v", got, want)
	}
}

func TestSinkReopenKeepsExistingRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.arrow")
	sink, err := columnar.Open(path, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := sink.Flush(context.Background(), []metrics.Record{{Target: "a:1"}}); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	again := openSink(t, path)
	if err := again.Flush(context.Background(), []metrics.Record{{Target: "b:2"}}); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	got, err := columnar.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if len(got) != 2 || got[0].Target != "a:1" || got[1].Target != "b:2" {
		t.Fatalf("unexpected rows %+v", got)
	}
}

func TestSinkEmptyFlushWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.arrow")
	sink := openSink(t, path)
	if err := sink.Flush(context.Background(), nil); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("expected empty file, got %d bytes", info.Size())
	}
	got, err := columnar.ReadFile(path)
	if err != nil || len(got) != 0 {
		t.Fatalf("ReadFile() = %v, %v", got, err)
	}
}

func TestSinkExclusiveLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.arrow")
	sink := openSink(t, path)

	if _, err := columnar.Open(path, nil); !errors.Is(err, columnar.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	second, err := columnar.Open(path, nil)
	if err != nil {
		t.Fatalf("Open() after Close error = %v", err)
	}
	_ = second.Close()
}

func TestFlushAfterClose(t *testing.T) {
	sink, err := columnar.Open(filepath.Join(t.TempDir(), "m.arrow"), nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	_ = sink.Close()
	if err := sink.Flush(context.Background(), []metrics.Record{{Target: "a:1"}}); err == nil {
		t.Fatalf("expected error flushing a closed sink")
	}
}

func TestExportParquet(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "metrics.arrow")
	sink := openSink(t, src)
	for i := 0; i < 3; i++ {
		if err := sink.Flush(context.Background(), []metrics.Record{
			{TimestampMicros: int64(i), Target: "a:1", Success: i%2 == 0, LatencyMicros: uint64(i * 100)},
		}); err != nil {
			t.Fatalf("Flush() error = %v", err)
		}
	}

	dst := filepath.Join(dir, "metrics.parquet")
	n, err := columnar.ExportParquet(src, dst)
	if err != nil {
		t.Fatalf("ExportParquet() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows, got %d", n)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read parquet: %v", err)
	}
	magic := []byte("PAR1")
	if !bytes.HasPrefix(data, magic) || !bytes.HasSuffix(data, magic) {
		t.Fatalf("output is not a parquet file")
	}
}

func TestReadFileMissing(t *testing.T) {
	if _, err := columnar.ReadFile(filepath.Join(t.TempDir(), "nope.arrow")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
