package config

import (
	"gopkg.in/yaml.v3"
)

// YAML renders the effective configuration. Secrets are masked and
// durations use Go duration syntax so the output can be fed back in.
func (c Config) YAML() ([]byte, error) {
	targets := make([]map[string]interface{}, 0, len(c.Load.Targets))
	for _, t := range c.Load.Targets {
		entry := map[string]interface{}{"address": t.Address, "weight": t.Weight}
		if t.Port != 0 {
			entry["port"] = t.Port
		}
		targets = append(targets, entry)
	}

	tracing := map[string]interface{}{
		"endpoint":     c.Tracing.Endpoint,
		"protocol":     c.Tracing.Protocol,
		"insecure":     c.Tracing.Insecure,
		"service_name": c.Tracing.ServiceName,
		"sample_rate":  c.Tracing.SampleRate,
		"propagate":    c.Tracing.ShouldPropagate(),
	}

	doc := map[string]interface{}{
		"mode": string(c.Mode),
		"load": map[string]interface{}{
			"rps":              c.Load.RPS,
			"burst":            c.Load.Burst,
			"concurrency":      c.Load.Concurrency,
			"duration":         c.Load.Duration.String(),
			"reuse_connection": c.Load.ReuseConnection,
			"protocol":         c.Load.Protocol,
			"payload":          c.Load.Payload,
			"pace":             c.Load.Pace.String(),
			"timeout":          c.Load.Timeout.String(),
			"flush_interval":   c.Load.FlushInterval.String(),
			"targets":          targets,
		},
		"commander": map[string]interface{}{
			"address": c.Commander.Address,
			"edges":   c.Commander.Edges,
			"token":   mask(c.Commander.Token),
			"store":   c.Commander.Store,
			"redis": map[string]interface{}{
				"address":  c.Commander.Redis.Address,
				"key":      c.Commander.Redis.Key,
				"password": mask(c.Commander.Redis.Password),
				"db":       c.Commander.Redis.DB,
			},
			"metrics_address": c.Commander.MetricsAddress,
			"grace_period":    c.Commander.GracePeriod.String(),
		},
		"edge": map[string]interface{}{
			"commander_address": c.Edge.CommanderAddress,
			"id":                c.Edge.ID,
			"token":             mask(c.Edge.Token),
			"tls":               c.Edge.TLS,
			"insecure":          c.Edge.Insecure,
		},
		"standalone": map[string]interface{}{
			"output": c.Standalone.Output,
		},
		"log": map[string]interface{}{
			"level":        c.Log.Level,
			"format":       c.Log.Format,
			"file":         c.Log.File,
			"max_size_mb":  c.Log.MaxSizeMB,
			"max_backups":  c.Log.MaxBackups,
			"max_age_days": c.Log.MaxAgeDays,
			"compress":     c.Log.Compress,
		},
		"tracing": tracing,
	}
	return yaml.Marshal(doc)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}
