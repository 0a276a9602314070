package metrics

import "sync"

// Buffer is the shared append-only accumulator of attempt records. Any number
// of workers may Append concurrently; the flusher is the sole drainer.
type Buffer struct {
	mu      sync.Mutex
	records []Record
	hint    int
}

// NewBuffer creates an empty buffer. sizeHint preallocates room for that many
// records after every drain.
func NewBuffer(sizeHint int) *Buffer {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &Buffer{
		records: make([]Record, 0, sizeHint),
		hint:    sizeHint,
	}
}

// Append adds one record.
func (b *Buffer) Append(r Record) {
	b.mu.Lock()
	b.records = append(b.records, r)
	b.mu.Unlock()
}

// Drain atomically empties the buffer and returns its prior contents.
func (b *Buffer) Drain() []Record {
	fresh := make([]Record, 0, b.hint)

	b.mu.Lock()
	out := b.records
	b.records = fresh
	b.mu.Unlock()

	return out
}

// Len returns the number of buffered records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}
