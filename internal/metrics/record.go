package metrics

import "time"

// Record is one measured traffic attempt. Records are immutable once created.
type Record struct {
	TimestampMicros int64  `json:"timestamp_micros"`
	Target          string `json:"target"`
	Success         bool   `json:"success"`
	LatencyMicros   uint64 `json:"latency_us"`
}

// NewRecord builds a record captured at the given wall-clock time.
func NewRecord(at time.Time, target string, success bool, latency time.Duration) Record {
	if latency < 0 {
		latency = 0
	}
	return Record{
		TimestampMicros: at.UnixMicro(),
		Target:          target,
		Success:         success,
		LatencyMicros:   uint64(latency.Microseconds()),
	}
}

// Latency returns the attempt latency as a duration.
func (r Record) Latency() time.Duration {
	return time.Duration(r.LatencyMicros) * time.Microsecond
}

// Recorder accepts completed attempt records. Implementations must be safe
// for concurrent use.
type Recorder interface {
	Append(r Record)
}

type multiRecorder []Recorder

// MultiRecorder fans each record out to every recorder in order.
func MultiRecorder(recorders ...Recorder) Recorder {
	out := make(multiRecorder, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (m multiRecorder) Append(r Record) {
	for _, rec := range m {
		rec.Append(r)
	}
}
