package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "kukai",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	flags.StringP("config", "c", "", "Path to configuration file (TOML, YAML or JSON); defaults to "+DefaultConfigFile+" when present")
	flags.String("mode", "", "Role to run: commander, edge or standalone")

	// Load control flags
	flags.Float64P("rps", "r", 0, "Attempts per second shared by all workers")
	flags.Float64("burst", 0, "Token bucket capacity (0 means rps)")
	flags.Int("concurrency", 1, "Number of concurrent workers")
	flags.DurationP("duration", "d", 0, "How long to generate traffic (e.g. 30s, 1m)")
	flags.Bool("reuse-connection", false, "Keep one connection per worker instead of one per attempt")
	flags.String("protocol", "tcp", "Attempt protocol: 'tcp', 'http' or 'websocket'")
	flags.String("payload", "", "Bytes written on every attempt")
	flags.Duration("timeout", 0, "Per-attempt dial and write timeout")
	flags.Duration("flush-interval", 0, "How often buffered metrics are flushed")
	flags.StringArray("target", nil, "Target as host:port[@weight] or URL[@weight] (repeatable, replaces configured targets)")

	// Role flags
	flags.String("listen", "", "Commander listen address (e.g. 0.0.0.0:50051)")
	flags.String("metrics-listen", "", "Commander Prometheus listen address")
	flags.String("commander", "", "Commander address an edge streams metrics to")
	flags.String("edge-id", "", "Edge identifier (default: random ULID)")
	flags.String("token", "", "Shared handshake token between edges and the commander")
	flags.String("output", "", "Standalone metrics file")

	// Output flags
	flags.String("log-level", "", "Log level: debug, info, warn or error")
	flags.Bool("json-output", false, "Emit JSON formatted run summary")
	flags.Bool("print-config", false, "Print the effective configuration as YAML and exit")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("mode") {
		val, err := fs.GetString("mode")
		if err != nil {
			return err
		}
		cfg.Mode = Mode(val)
	}
	if fs.Changed("rps") {
		val, err := fs.GetFloat64("rps")
		if err != nil {
			return err
		}
		cfg.Load.RPS = val
	}
	if fs.Changed("burst") {
		val, err := fs.GetFloat64("burst")
		if err != nil {
			return err
		}
		cfg.Load.Burst = val
	}
	if fs.Changed("concurrency") {
		val, err := fs.GetInt("concurrency")
		if err != nil {
			return err
		}
		cfg.Load.Concurrency = val
	}
	if fs.Changed("duration") {
		val, err := fs.GetDuration("duration")
		if err != nil {
			return err
		}
		cfg.Load.Duration = val
	}
	if fs.Changed("reuse-connection") {
		val, err := fs.GetBool("reuse-connection")
		if err != nil {
			return err
		}
		cfg.Load.ReuseConnection = val
	}
	if fs.Changed("protocol") {
		val, err := fs.GetString("protocol")
		if err != nil {
			return err
		}
		cfg.Load.Protocol = val
	}
	if fs.Changed("payload") {
		val, err := fs.GetString("payload")
		if err != nil {
			return err
		}
		cfg.Load.Payload = val
	}
	if fs.Changed("timeout") {
		val, err := fs.GetDuration("timeout")
		if err != nil {
			return err
		}
		cfg.Load.Timeout = val
	}
	if fs.Changed("flush-interval") {
		val, err := fs.GetDuration("flush-interval")
		if err != nil {
			return err
		}
		cfg.Load.FlushInterval = val
	}
	if fs.Changed("target") {
		vals, err := fs.GetStringArray("target")
		if err != nil {
			return err
		}
		cfg.Load.Targets = nil
		for _, v := range vals {
			t, err := ParseTargetFlag(v)
			if err != nil {
				return err
			}
			cfg.Load.Targets = append(cfg.Load.Targets, t)
		}
	}

	stringFlags := []struct {
		name string
		dst  *string
	}{
		{"listen", &cfg.Commander.Address},
		{"metrics-listen", &cfg.Commander.MetricsAddress},
		{"commander", &cfg.Edge.CommanderAddress},
		{"edge-id", &cfg.Edge.ID},
		{"output", &cfg.Standalone.Output},
		{"log-level", &cfg.Log.Level},
	}
	for _, f := range stringFlags {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetString(f.name)
		if err != nil {
			return err
		}
		*f.dst = strings.TrimSpace(val)
	}

	if fs.Changed("token") {
		val, err := fs.GetString("token")
		if err != nil {
			return err
		}
		cfg.Commander.Token = val
		cfg.Edge.Token = val
	}
	if fs.Changed("json-output") {
		val, err := fs.GetBool("json-output")
		if err != nil {
			return err
		}
		cfg.JSONOutput = val
	}
	return nil
}
