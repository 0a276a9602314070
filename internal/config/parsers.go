// Package config loads kukai settings from a TOML, YAML or JSON file and
// command-line flags, in that order of precedence.
package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/torosent/kukai/internal/target"
)

// Values reach these helpers straight from the TOML, YAML or JSON decoder, so
// numbers arrive as int, int64, uint64 or float64 and everything else as a
// string, bool, list or map.

// lookupSetting finds key in settings. Keys are matched case-insensitively
// and "flush_interval" also matches "flush-interval".
func lookupSetting(settings map[string]interface{}, keys ...string) (interface{}, bool) {
	for _, key := range keys {
		key = strings.ToLower(key)
		for _, k := range []string{key, strings.ReplaceAll(key, "_", "-")} {
			if val, ok := settings[k]; ok {
				return val, true
			}
		}
	}
	return nil, false
}

// sectionSettings turns one table of the file ([load], [commander], ...) into
// a map with lower-cased keys.
func sectionSettings(value interface{}) (map[string]interface{}, error) {
	result := map[string]interface{}{}
	switch v := value.(type) {
	case map[string]interface{}:
		for key, val := range v {
			result[strings.ToLower(strings.TrimSpace(key))] = val
		}
	case map[interface{}]interface{}:
		for key, val := range v {
			result[strings.ToLower(strings.TrimSpace(fmt.Sprint(key)))] = val
		}
	default:
		return nil, fmt.Errorf("expected table, got %T", value)
	}
	return result, nil
}

func asString(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return fmt.Sprint(v), nil
	}
}

// asInt accepts whole numbers only; "concurrency = 2.5" is an error rather
// than a silent truncation.
func asInt(value interface{}) (int, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		if v > math.MaxInt {
			return 0, fmt.Errorf("%d overflows int", v)
		}
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%g is not a whole number", v)
		}
		return int(v), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		return strconv.Atoi(s)
	default:
		return 0, fmt.Errorf("expected integer, got %T", value)
	}
}

func asFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		return strconv.ParseFloat(s, 64)
	default:
		return 0, fmt.Errorf("expected number, got %T", value)
	}
}

func asBool(value interface{}) (bool, error) {
	switch v := value.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return false, nil
		}
		return strconv.ParseBool(s)
	default:
		return false, fmt.Errorf("expected boolean, got %T", value)
	}
}

// asDuration reads "1m30s" style strings. A bare number, quoted or not, is a
// count of seconds and may be fractional: duration = 0.5 means 500ms.
func asDuration(value interface{}) (time.Duration, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		if secs, err := strconv.ParseFloat(s, 64); err == nil {
			return seconds(secs)
		}
		return time.ParseDuration(s)
	default:
		secs, err := asFloat64(value)
		if err != nil {
			return 0, fmt.Errorf("expected duration, got %T", value)
		}
		return seconds(secs)
	}
}

func seconds(secs float64) (time.Duration, error) {
	if secs < 0 || secs > math.MaxInt64/float64(time.Second) {
		return 0, fmt.Errorf("%g seconds out of range", secs)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// asStringSlice reads a list, or a single comma-separated string.
func asStringSlice(value interface{}) ([]string, error) {
	var items []string
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []string:
		items = v
	case []interface{}:
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("index %d: expected string, got %T", i, item)
			}
			items = append(items, s)
		}
	case string:
		items = strings.Split(v, ",")
	default:
		return nil, fmt.Errorf("expected list of strings, got %T", value)
	}
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func asPort(value interface{}) (uint16, error) {
	n, err := asInt(value)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > math.MaxUint16 {
		return 0, fmt.Errorf("%d out of range", n)
	}
	return uint16(n), nil
}

// parseTargets reads the [[load.targets]] array of tables.
func parseTargets(value interface{}) ([]target.Target, error) {
	var entries []interface{}
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		entries = v
	case []map[string]interface{}:
		for _, m := range v {
			entries = append(entries, m)
		}
	default:
		return nil, fmt.Errorf("expected list of targets, got %T", value)
	}

	targets := make([]target.Target, 0, len(entries))
	for idx, entry := range entries {
		settings, err := sectionSettings(entry)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		t, err := buildTarget(settings)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// buildTarget reads one target entry. Weight defaults to 1 when omitted.
func buildTarget(settings map[string]interface{}) (target.Target, error) {
	t := target.Target{Weight: 1}
	if raw, ok := lookupSetting(settings, "address"); ok {
		val, err := asString(raw)
		if err != nil {
			return target.Target{}, fmt.Errorf("address: %w", err)
		}
		t.Address = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "port"); ok {
		val, err := asPort(raw)
		if err != nil {
			return target.Target{}, fmt.Errorf("port: %w", err)
		}
		t.Port = val
	}
	if raw, ok := lookupSetting(settings, "weight"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return target.Target{}, fmt.Errorf("weight: %w", err)
		}
		t.Weight = val
	}
	return t, nil
}

// ParseTargetFlag reads "host:port", "host:port@weight" or a URL optionally
// followed by "@weight".
func ParseTargetFlag(s string) (target.Target, error) {
	s = strings.TrimSpace(s)
	t := target.Target{Weight: 1}
	if at := strings.LastIndex(s, "@"); at > 0 {
		w, err := strconv.ParseFloat(s[at+1:], 64)
		if err == nil {
			t.Weight = w
			s = s[:at]
		}
	}
	if strings.Contains(s, "://") {
		t.Address = s
		return t, nil
	}
	idx := strings.LastIndex(s, ":")
	if idx <= 0 {
		return target.Target{}, fmt.Errorf("target %q: expected host:port", s)
	}
	port, err := strconv.ParseUint(s[idx+1:], 10, 16)
	if err != nil {
		return target.Target{}, fmt.Errorf("target %q: invalid port: %w", s, err)
	}
	t.Address = strings.Trim(s[:idx], "[]")
	t.Port = uint16(port)
	return t, nil
}
