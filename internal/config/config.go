package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/torosent/kukai/internal/attempt"
	"github.com/torosent/kukai/internal/logging"
	"github.com/torosent/kukai/internal/target"
)

// DefaultConfigFile is read when no --config flag is given and the file exists.
const DefaultConfigFile = "kukai_config.toml"

// Mode selects the role a process plays.
type Mode string

const (
	ModeCommander  Mode = "commander"
	ModeEdge       Mode = "edge"
	ModeStandalone Mode = "standalone"
)

// Store backends for the commander.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type Config struct {
	Mode       Mode             `mapstructure:"mode" yaml:"mode"`
	Load       LoadConfig       `mapstructure:"load" yaml:"load"`
	Commander  CommanderConfig  `mapstructure:"commander" yaml:"commander"`
	Edge       EdgeConfig       `mapstructure:"edge" yaml:"edge"`
	Standalone StandaloneConfig `mapstructure:"standalone" yaml:"standalone"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Tracing    TracingConfig    `mapstructure:"tracing" yaml:"tracing"`
	JSONOutput bool             `mapstructure:"json_output" yaml:"-"`
	ConfigFile string           `mapstructure:"-" yaml:"-"`
}

// LoadConfig shapes the traffic generated by edge and standalone modes.
type LoadConfig struct {
	RPS             float64         `mapstructure:"rps"`
	Burst           float64         `mapstructure:"burst"` // 0 means rps
	Concurrency     int             `mapstructure:"concurrency"`
	Duration        time.Duration   `mapstructure:"duration"`
	ReuseConnection bool            `mapstructure:"reuse_connection"`
	Protocol        string          `mapstructure:"protocol"`
	Payload         string          `mapstructure:"payload"`
	Pace            time.Duration   `mapstructure:"pace"`
	Timeout         time.Duration   `mapstructure:"timeout"`
	FlushInterval   time.Duration   `mapstructure:"flush_interval"`
	Targets         []target.Target `mapstructure:"targets"`
}

type CommanderConfig struct {
	Address        string        `mapstructure:"address"`
	Edges          []string      `mapstructure:"edges"`
	Token          string        `mapstructure:"token"`
	Store          string        `mapstructure:"store"`
	Redis          RedisConfig   `mapstructure:"redis"`
	MetricsAddress string        `mapstructure:"metrics_address"`
	GracePeriod    time.Duration `mapstructure:"grace_period"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Key      string `mapstructure:"key"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type EdgeConfig struct {
	CommanderAddress string `mapstructure:"commander_address"`
	ID               string `mapstructure:"id"`
	Token            string `mapstructure:"token"`
	TLS              bool   `mapstructure:"tls"`
	Insecure         bool   `mapstructure:"insecure"` // skip TLS verification
}

type StandaloneConfig struct {
	Output string `mapstructure:"output"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Options converts the section to logger options.
func (l LogConfig) Options() logging.Options {
	return logging.Options{
		Level:      l.Level,
		Format:     l.Format,
		File:       l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
	}
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // grpc or http
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Propagate   *bool   `mapstructure:"propagate"`
}

// Enabled reports whether an exporter endpoint is configured.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != ""
}

// ShouldPropagate defaults to Enabled unless set explicitly.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// IsValidationError reports whether err carries configuration issues.
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// ParseMode accepts a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeCommander, ModeEdge, ModeStandalone:
		return m, nil
	case "":
		return "", errors.New("mode is required (commander, edge or standalone)")
	default:
		return "", fmt.Errorf("mode %q is not supported (commander, edge or standalone)", s)
	}
}

// Validate checks the settings the configured mode needs. Settings for other
// modes are ignored.
func (c Config) Validate() error {
	var issues []string

	mode, err := ParseMode(string(c.Mode))
	if err != nil {
		issues = append(issues, err.Error())
	}

	switch mode {
	case ModeCommander:
		issues = append(issues, validateCommander(c.Commander)...)
	case ModeEdge:
		issues = append(issues, validateLoad(c.Load)...)
		if strings.TrimSpace(c.Edge.CommanderAddress) == "" {
			issues = append(issues, "edge: commander_address is required")
		}
	case ModeStandalone:
		issues = append(issues, validateLoad(c.Load)...)
		if strings.TrimSpace(c.Standalone.Output) == "" {
			issues = append(issues, "standalone: output is required")
		}
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		issues = append(issues, "log: "+err.Error())
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "console":
	default:
		issues = append(issues, fmt.Sprintf("log: format must be 'json' or 'console', got %q", c.Log.Format))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing: sample_rate must be between 0.0 and 1.0, got %g", c.Tracing.SampleRate))
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

// Warnings lists settings that are valid but worth a second look.
func (c Config) Warnings() []string {
	var warnings []string
	if c.Mode == ModeCommander {
		return nil
	}
	if c.Load.RPS > 1000 {
		warnings = append(warnings, fmt.Sprintf("high rate configured (%g RPS); ensure you are authorized to load the targets", c.Load.RPS))
	}
	if c.Load.Concurrency > 500 {
		warnings = append(warnings, fmt.Sprintf("high concurrency configured (%d workers); ensure you are authorized to load the targets", c.Load.Concurrency))
	}
	if c.Load.RPS == 0 {
		warnings = append(warnings, "load.rps is 0; admission is clamped to 1 attempt per second")
	}
	if c.Mode == ModeEdge && c.Edge.TLS && c.Edge.Insecure {
		warnings = append(warnings, "TLS verification to the commander is disabled")
	}
	return warnings
}

func validateCommander(c CommanderConfig) []string {
	var issues []string
	if strings.TrimSpace(c.Address) == "" {
		issues = append(issues, "commander: address is required")
	}
	switch strings.ToLower(c.Store) {
	case "", StoreMemory:
	case StoreRedis:
		if strings.TrimSpace(c.Redis.Address) == "" {
			issues = append(issues, "commander: redis.address is required when store is redis")
		}
	default:
		issues = append(issues, fmt.Sprintf("commander: store must be 'memory' or 'redis', got %q", c.Store))
	}
	if c.GracePeriod < 0 {
		issues = append(issues, "commander: grace_period must be >= 0")
	}
	return issues
}

func validateLoad(l LoadConfig) []string {
	var issues []string
	if l.Concurrency < 1 {
		issues = append(issues, "load: concurrency must be >= 1")
	}
	if l.RPS < 0 || math.IsNaN(l.RPS) || math.IsInf(l.RPS, 0) {
		issues = append(issues, "load: rps must be a finite number >= 0")
	}
	if l.Burst < 0 {
		issues = append(issues, "load: burst must be >= 0")
	}
	if l.Duration <= 0 {
		issues = append(issues, "load: duration must be > 0")
	}
	if l.Pace < 0 {
		issues = append(issues, "load: pace must be >= 0")
	}
	if l.Timeout < 0 {
		issues = append(issues, "load: timeout must be >= 0")
	}
	if l.FlushInterval < 0 {
		issues = append(issues, "load: flush_interval must be >= 0")
	}
	protocol, err := attempt.ParseProtocol(l.Protocol)
	if err != nil {
		issues = append(issues, "load: "+err.Error())
	}
	issues = append(issues, validateTargets(l.Targets, protocol)...)
	return issues
}

func validateTargets(targets []target.Target, protocol attempt.Protocol) []string {
	if len(targets) == 0 {
		return []string{"load: at least one target is required"}
	}
	var issues []string
	for idx, t := range targets {
		addr := strings.TrimSpace(t.Address)
		switch {
		case addr == "":
			issues = append(issues, fmt.Sprintf("targets[%d]: address is required", idx))
			continue
		case strings.Contains(t.String(), ","):
			// The metrics line format is comma separated.
			issues = append(issues, fmt.Sprintf("targets[%d]: address must not contain ','", idx))
		}
		if t.Weight < 0 || math.IsNaN(t.Weight) || math.IsInf(t.Weight, 0) {
			issues = append(issues, fmt.Sprintf("targets[%d]: weight must be a finite number >= 0", idx))
		}
		if t.HasScheme() {
			if protocol == attempt.ProtocolTCP {
				issues = append(issues, fmt.Sprintf("targets[%d]: tcp targets take a host and port, not a URL", idx))
			}
			continue
		}
		if t.Port == 0 {
			issues = append(issues, fmt.Sprintf("targets[%d]: port is required", idx))
		}
	}
	return issues
}
