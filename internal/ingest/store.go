package ingest

import (
	"context"
	"sync"
	"time"
)

// Chunk is one accepted put message.
type Chunk struct {
	EdgeID     string
	Body       []byte
	Records    int
	ReceivedAt time.Time
}

// Store keeps accepted chunks. Append must be safe for concurrent use and
// must store a chunk whole or not at all.
type Store interface {
	Append(ctx context.Context, c Chunk) error
	Close() error
}

// MemoryStore keeps every chunk in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	chunks []Chunk
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, c Chunk) error {
	c.Body = append([]byte(nil), c.Body...)
	s.mu.Lock()
	s.chunks = append(s.chunks, c)
	s.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the stored chunks in arrival order.
func (s *MemoryStore) Snapshot() []Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Chunk, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// Totals reports the stored chunk and record counts.
func (s *MemoryStore) Totals() (chunks, records int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chunks {
		records += c.Records
	}
	return len(s.chunks), records
}

func (s *MemoryStore) Close() error { return nil }
