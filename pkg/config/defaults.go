package config

import "strings"

// ApplyDefaults fills unspecified fields with their defaults. Explicit
// values are preserved; zero values are replaced.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyMountDefaults(&cfg.Mount)
	applyMetricsDefaults(&cfg.Metrics)

	for i := range cfg.Leaves {
		applyLeafDefaults(&cfg.Leaves[i])
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalized to uppercase for consistent internal representation.
	cfg.Level = strings.ToUpper(cfg.Level)
}

func applyMountDefaults(cfg *MountConfig) {
	if cfg.FSName == "" {
		cfg.FSName = "spanfs"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:9313"
	}
}

func applyLeafDefaults(cfg *LeafConfig) {
	if cfg.Reflector == nil {
		cfg.Reflector = make(map[string]any)
	}
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}
}
