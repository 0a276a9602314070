package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct {
	// DefaultFile is tried when --config is not given. Empty disables it.
	DefaultFile string
}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{DefaultFile: DefaultConfigFile}
}

// Defaults returns a Config holding every default value.
func Defaults() *Config {
	return &Config{
		Load: LoadConfig{
			Concurrency:   1,
			Duration:      30 * time.Second,
			Protocol:      "tcp",
			Pace:          10 * time.Millisecond,
			Timeout:       5 * time.Second,
			FlushInterval: 2 * time.Second,
		},
		Commander: CommanderConfig{
			Store:       StoreMemory,
			Redis:       RedisConfig{Key: "kukai:metrics"},
			GracePeriod: 10 * time.Second,
		},
		Standalone: StandaloneConfig{Output: "kukai_metrics.arrow"},
		Log:        LogConfig{Level: "info", Format: "json"},
		Tracing:    TracingConfig{Protocol: "grpc", ServiceName: "kukai", SampleRate: 1.0},
	}
}

// Load parses command-line arguments and configuration files to produce a Config.
func (l Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}
	return l.LoadFlags(flagSet)
}

// LoadFlags builds a Config from an already parsed flag set registered with
// RegisterFlags. File values are applied first, then changed flags.
func (l Loader) LoadFlags(flagSet *pflag.FlagSet) (*Config, error) {
	configPath, err := flagSet.GetString("config")
	if err != nil {
		return nil, err
	}
	if configPath == "" && l.DefaultFile != "" {
		if _, statErr := os.Stat(l.DefaultFile); statErr == nil {
			configPath = l.DefaultFile
		}
	}

	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	cfg := Defaults()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.Mode = Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	cfg.Load.Protocol = strings.ToLower(strings.TrimSpace(cfg.Load.Protocol))
	cfg.Commander.Store = strings.ToLower(strings.TrimSpace(cfg.Commander.Store))
	if cfg.Edge.ID == "" {
		cfg.Edge.ID = ulid.Make().String()
	}
	return cfg, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "mode"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("mode: %w", err)
		}
		cfg.Mode = Mode(val)
	}

	sections := []struct {
		key   string
		apply func(map[string]interface{}) error
	}{
		{"load", func(s map[string]interface{}) error { return applyLoadSettings(&cfg.Load, s) }},
		{"commander", func(s map[string]interface{}) error { return applyCommanderSettings(&cfg.Commander, s) }},
		{"edge", func(s map[string]interface{}) error { return applyEdgeSettings(&cfg.Edge, s) }},
		{"standalone", func(s map[string]interface{}) error { return applyStandaloneSettings(&cfg.Standalone, s) }},
		{"log", func(s map[string]interface{}) error { return applyLogSettings(&cfg.Log, s) }},
		{"tracing", func(s map[string]interface{}) error { return applyTracingSettings(&cfg.Tracing, s) }},
	}
	for _, sec := range sections {
		raw, ok := lookupSetting(settings, sec.key)
		if !ok || raw == nil {
			continue
		}
		values, err := sectionSettings(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", sec.key, err)
		}
		if err := sec.apply(values); err != nil {
			return fmt.Errorf("%s.%w", sec.key, err)
		}
	}
	return nil
}

func applyLoadSettings(l *LoadConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "rps"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("rps: %w", err)
		}
		l.RPS = val
	}
	if raw, ok := lookupSetting(settings, "burst"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("burst: %w", err)
		}
		l.Burst = val
	}
	if raw, ok := lookupSetting(settings, "concurrency"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("concurrency: %w", err)
		}
		l.Concurrency = val
	}
	if raw, ok := lookupSetting(settings, "duration", "duration_seconds"); ok {
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("duration: %w", err)
		}
		l.Duration = val
	}
	if raw, ok := lookupSetting(settings, "reuse_connection"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("reuse_connection: %w", err)
		}
		l.ReuseConnection = val
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
		l.Protocol = val
	}
	if raw, ok := lookupSetting(settings, "payload"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("payload: %w", err)
		}
		l.Payload = val
	}
	if raw, ok := lookupSetting(settings, "pace"); ok {
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("pace: %w", err)
		}
		l.Pace = val
	}
	if raw, ok := lookupSetting(settings, "timeout"); ok {
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		l.Timeout = val
	}
	if raw, ok := lookupSetting(settings, "flush_interval"); ok {
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("flush_interval: %w", err)
		}
		l.FlushInterval = val
	}
	if raw, ok := lookupSetting(settings, "targets"); ok {
		targets, err := parseTargets(raw)
		if err != nil {
			return fmt.Errorf("targets: %w", err)
		}
		l.Targets = targets
	}
	return nil
}

func applyCommanderSettings(c *CommanderConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "address"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("address: %w", err)
		}
		c.Address = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "edges"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("edges: %w", err)
		}
		c.Edges = val
	}
	if raw, ok := lookupSetting(settings, "token"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("token: %w", err)
		}
		c.Token = val
	}
	if raw, ok := lookupSetting(settings, "store"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("store: %w", err)
		}
		c.Store = val
	}
	if raw, ok := lookupSetting(settings, "redis"); ok && raw != nil {
		values, err := sectionSettings(raw)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		if err := applyRedisSettings(&c.Redis, values); err != nil {
			return fmt.Errorf("redis.%w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "metrics_address"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("metrics_address: %w", err)
		}
		c.MetricsAddress = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "grace_period"); ok {
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("grace_period: %w", err)
		}
		c.GracePeriod = val
	}
	return nil
}

func applyRedisSettings(r *RedisConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "address", "addr"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("address: %w", err)
		}
		r.Address = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "key"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("key: %w", err)
		}
		if val != "" {
			r.Key = val
		}
	}
	if raw, ok := lookupSetting(settings, "password"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("password: %w", err)
		}
		r.Password = val
	}
	if raw, ok := lookupSetting(settings, "db"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("db: %w", err)
		}
		r.DB = val
	}
	return nil
}

func applyEdgeSettings(e *EdgeConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "commander_address"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("commander_address: %w", err)
		}
		e.CommanderAddress = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "id"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("id: %w", err)
		}
		e.ID = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "token"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("token: %w", err)
		}
		e.Token = val
	}
	if raw, ok := lookupSetting(settings, "tls"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("tls: %w", err)
		}
		e.TLS = val
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
		e.Insecure = val
	}
	return nil
}

func applyStandaloneSettings(s *StandaloneConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "output"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("output: %w", err)
		}
		s.Output = strings.TrimSpace(val)
	}
	return nil
}

func applyLogSettings(l *LogConfig, settings map[string]interface{}) error {
	strFields := []struct {
		key string
		dst *string
	}{
		{"level", &l.Level},
		{"format", &l.Format},
		{"file", &l.File},
	}
	for _, f := range strFields {
		if raw, ok := lookupSetting(settings, f.key); ok {
			val, err := asString(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", f.key, err)
			}
			*f.dst = strings.TrimSpace(val)
		}
	}
	intFields := []struct {
		key string
		dst *int
	}{
		{"max_size_mb", &l.MaxSizeMB},
		{"max_backups", &l.MaxBackups},
		{"max_age_days", &l.MaxAgeDays},
	}
	for _, f := range intFields {
		if raw, ok := lookupSetting(settings, f.key); ok {
			val, err := asInt(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", f.key, err)
			}
			*f.dst = val
		}
	}
	if raw, ok := lookupSetting(settings, "compress"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("compress: %w", err)
		}
		l.Compress = val
	}
	return nil
}

func applyTracingSettings(t *TracingConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("endpoint: %w", err)
		}
		t.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
		t.Protocol = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
		t.Insecure = val
	}
	if raw, ok := lookupSetting(settings, "service_name"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("service_name: %w", err)
		}
		t.ServiceName = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "sample_rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("sample_rate: %w", err)
		}
		t.SampleRate = val
	}
	if raw, ok := lookupSetting(settings, "propagate"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("propagate: %w", err)
		}
		t.Propagate = &val
	}
	return nil
}
