package main

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/kukai/internal/config"
	"github.com/torosent/kukai/internal/metrics"
	"github.com/torosent/kukai/internal/runner"
	"github.com/torosent/kukai/internal/target"
)

// countingSink remembers every flush it sees.
type countingSink struct {
	mu      sync.Mutex
	flushes []int
}

func (s *countingSink) Flush(_ context.Context, records []metrics.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes = append(s.flushes, len(records))
	return nil
}

func (s *countingSink) Close() error { return nil }

func TestGenerateFlushesOnceAfterWorkersJoin(t *testing.T) {
	tgt, err := config.ParseTargetFlag(sinkServer(t))
	if err != nil {
		t.Fatalf("ParseTargetFlag() error = %v", err)
	}
	cfg := config.Defaults()
	cfg.Mode = config.ModeStandalone
	cfg.JSONOutput = true
	cfg.Load.RPS = 50
	cfg.Load.Concurrency = 4
	cfg.Load.Duration = 300 * time.Millisecond
	cfg.Load.Payload = "ping"
	// Longer than the run, so only the final flush can deliver.
	cfg.Load.FlushInterval = time.Hour
	cfg.Load.Targets = []target.Target{tgt}

	var stdout, stderr bytes.Buffer
	env := &environment{cfg: cfg, logger: zap.NewNop(), stdout: &stdout, stderr: &stderr}
	sink := &countingSink{}

	if err := generate(context.Background(), env, sink, runner.AdmissionTry, "test", zap.NewNop()); err != nil {
		t.Fatalf("generate() error = %v", err)
	}

	var report jsonReport
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		t.Fatalf("parse report %q: %v", stdout.String(), err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.flushes) != 1 {
		t.Fatalf("expected exactly one flush, got %v", sink.flushes)
	}
	// Anything recorded after the drain would show up in the summary only.
	if int64(sink.flushes[0]) != report.Stats.Total || report.Stats.Total == 0 {
		t.Fatalf("final flush carried %d records, run recorded %d", sink.flushes[0], report.Stats.Total)
	}
	if report.Delivery.Records != report.Stats.Total {
		t.Fatalf("delivery stats %+v disagree with total %d", report.Delivery, report.Stats.Total)
	}
}
