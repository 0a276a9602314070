package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/torosent/kukai/internal/metrics"
)

// RunReport is the JSON document printed after a traffic run.
type RunReport struct {
	Mode  string        `json:"mode"`
	Stats metrics.Stats `json:"stats"`
	// Delivery is omitted when nothing was flushed to a sink.
	Delivery *metrics.FlushStats `json:"delivery,omitempty"`
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, report RunReport) {
	stats := report.Stats
	fmt.Fprintf(w, "\n--- Kukai %s Results ---\n", report.Mode)
	fmt.Fprintf(w, "Total Attempts:    %d\n", stats.Total)
	fmt.Fprintf(w, "Successful:        %d\n", stats.Successes)
	fmt.Fprintf(w, "Failed:            %d\n", stats.Failures)
	fmt.Fprintf(w, "Duration:          %s\n", stats.Duration)
	fmt.Fprintf(w, "Attempts/sec:      %.2f\n", stats.AttemptsPerSec)
	fmt.Fprintln(w, "\nLatency:")
	fmt.Fprintf(w, "  Min:             %s\n", stats.MinLatency)
	fmt.Fprintf(w, "  Max:             %s\n", stats.MaxLatency)
	fmt.Fprintf(w, "  Mean:            %s\n", stats.MeanLatency)

	if len(stats.Targets) > 0 {
		fmt.Fprintln(w, "\nTarget Breakdown:")
		for _, row := range stats.Targets {
			share := 0.0
			if stats.Total > 0 {
				share = (float64(row.Total) / float64(stats.Total)) * 100
			}
			fmt.Fprintf(w, "  - %s: total=%d (%.1f%%), successes=%d, failures=%d\n",
				row.Target, row.Total, share, row.Successes, row.Failures)
		}
	}

	if d := report.Delivery; d != nil {
		fmt.Fprintln(w, "\nMetrics Delivery:")
		fmt.Fprintf(w, "  Batches:         %d\n", d.Batches)
		fmt.Fprintf(w, "  Records:         %d\n", d.Records)
		fmt.Fprintf(w, "  Failed Flushes:  %d\n", d.Failures)
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, report RunReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// IngestReport summarizes what a commander stored before it stopped.
type IngestReport struct {
	Store   string `json:"store"`
	Chunks  int    `json:"chunks"`
	Records int    `json:"records"`
}

// PrintIngestReport outputs the commander totals.
func PrintIngestReport(w io.Writer, report IngestReport) {
	fmt.Fprintln(w, "\n--- Kukai commander Results ---")
	fmt.Fprintf(w, "Store:             %s\n", report.Store)
	fmt.Fprintf(w, "Chunks Stored:     %d\n", report.Chunks)
	fmt.Fprintf(w, "Records Stored:    %d\n", report.Records)
}
