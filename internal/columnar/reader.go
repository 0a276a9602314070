package columnar

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/torosent/kukai/internal/metrics"
)

// ReadFile returns every record in path, batch by batch in append order.
func ReadFile(path string) ([]metrics.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	out, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

// Read decodes a sequence of concatenated IPC streams.
func Read(r io.Reader) ([]metrics.Record, error) {
	br := bufio.NewReader(r)
	var out []metrics.Record
	for {
		if _, err := br.Peek(1); errors.Is(err, io.EOF) {
			return out, nil
		} else if err != nil {
			return nil, err
		}

		rdr, err := ipc.NewReader(br, ipc.WithAllocator(memory.DefaultAllocator), ipc.WithSchema(Schema))
		if err != nil {
			return nil, fmt.Errorf("open batch stream: %w", err)
		}
		for rdr.Next() {
			out = appendRows(out, rdr.Record())
		}
		err = rdr.Err()
		rdr.Release()
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read batch: %w", err)
		}
	}
}
