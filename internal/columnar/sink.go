package columnar

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/torosent/kukai/internal/metrics"
)

// ErrLocked is returned when another process holds the output file.
var ErrLocked = errors.New("metrics file is locked by another process")

// Sink appends batches to an Arrow file. It holds an exclusive lock on
// <path>.lock from Open until Close.
type Sink struct {
	path   string
	lock   *flock.Flock
	mem    memory.Allocator
	logger *zap.Logger

	mu     sync.Mutex
	file   *os.File
	closed bool
}

var _ metrics.Sink = (*Sink)(nil)

// Open locks path and opens it in create-or-append mode.
func Open(path string, logger *zap.Logger) (*Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrLocked)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Sink{
		path:   path,
		lock:   lock,
		mem:    memory.DefaultAllocator,
		logger: logger,
		file:   f,
	}, nil
}

// Path returns the output file.
func (s *Sink) Path() string { return s.path }

// Flush appends records as one IPC stream: schema, one record batch, end
// marker. The file is synced before returning.
func (s *Sink) Flush(_ context.Context, records []metrics.Record) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("flush %s: sink closed", s.path)
	}

	rec := buildRecord(s.mem, records)
	defer rec.Release()

	w := ipc.NewWriter(s.file, ipc.WithSchema(Schema), ipc.WithAllocator(s.mem))
	if err := w.Write(rec); err != nil {
		_ = w.Close()
		return fmt.Errorf("write batch to %s: %w", s.path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish batch in %s: %w", s.path, err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", s.path, err)
	}
	s.logger.Debug("metrics batch appended", zap.String("path", s.path), zap.Int("records", len(records)))
	return nil
}

// Close closes the file and releases the lock. Calling it twice is safe.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.file.Close(), s.lock.Unlock())
}
