package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/torosent/kukai/internal/metrics"
)

func TestPrintReportBasic(t *testing.T) {
	report := RunReport{
		Mode: "edge",
		Stats: metrics.Stats{
			Total:          100,
			Successes:      95,
			Failures:       5,
			AttemptsPerSec: 50.0,
			Duration:       2 * time.Second,
		},
	}

	var buf bytes.Buffer
	PrintReport(&buf, report)

	output := buf.String()
	if !strings.Contains(output, "Total Attempts") {
		t.Errorf("Expected total attempts in output")
	}
	if !strings.Contains(output, "95") {
		t.Errorf("Expected successes in output")
	}
	if strings.Contains(output, "Metrics Delivery") {
		t.Errorf("Did not expect delivery section without flush stats")
	}
}

func TestPrintReportTargetsAndDelivery(t *testing.T) {
	report := RunReport{
		Mode: "standalone",
		Stats: metrics.Stats{
			Total:     4,
			Successes: 3,
			Failures:  1,
			Targets: []metrics.TargetStats{
				{Target: "a:1", Total: 3, Successes: 3},
				{Target: "b:2", Total: 1, Failures: 1},
			},
		},
		Delivery: &metrics.FlushStats{Batches: 2, Records: 4},
	}

	var buf bytes.Buffer
	PrintReport(&buf, report)

	output := buf.String()
	if !strings.Contains(output, "a:1: total=3 (75.0%)") {
		t.Errorf("Expected share for a:1, got:\n%s", output)
	}
	if !strings.Contains(output, "Metrics Delivery:") {
		t.Errorf("Expected delivery section")
	}
}

func TestPrintJSONReport(t *testing.T) {
	report := RunReport{
		Mode: "edge",
		Stats: metrics.Stats{
			Total:      10,
			Successes:  10,
			DurationMs: 2000,
		},
		Delivery: &metrics.FlushStats{Batches: 1, Records: 10},
	}

	var buf bytes.Buffer
	if err := PrintJSONReport(&buf, report); err != nil {
		t.Fatalf("PrintJSONReport failed: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("Failed to parse JSON: %v", err)
	}
	if parsed["mode"] != "edge" {
		t.Errorf("Expected mode edge, got %v", parsed["mode"])
	}
	stats, ok := parsed["stats"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected stats object")
	}
	if stats["total"].(float64) != 10 {
		t.Errorf("Expected total 10, got %v", stats["total"])
	}
	if _, ok := parsed["delivery"]; !ok {
		t.Errorf("Expected delivery object")
	}
}

func TestPrintIngestReport(t *testing.T) {
	var buf bytes.Buffer
	PrintIngestReport(&buf, IngestReport{Store: "memory", Chunks: 3, Records: 12})
	if !strings.Contains(buf.String(), "Records Stored:    12") {
		t.Errorf("Unexpected output:\n%s", buf.String())
	}
}
