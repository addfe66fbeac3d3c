// Package config loads, defaults, validates and materializes the spanfs
// configuration.
//
// Configuration sources, in order of precedence:
//  1. CLI flags (mountpoint, --fss, --log)
//  2. Environment variables (SPANFS_*)
//  3. Configuration file (YAML or TOML)
//  4. Defaults
//
// Leaf backends follow the store-factory pattern: the Config carries one
// opaque options map per leaf entry, and the factory for the selected type
// decodes it into that backend's typed options with mapstructure. Adding a
// backend means a new factory case; the Config shape stays put.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the complete spanfs configuration.
type Config struct {
	// Logging controls the diagnostic logger and the per-call log.
	Logging LoggingConfig `mapstructure:"logging"`

	// Mount describes the FUSE presentation of the federation.
	Mount MountConfig `mapstructure:"mount"`

	// Leaves lists the backing filesystems in declaration order. The
	// order is load-bearing: it is the striping order of the federation.
	Leaves []LeafConfig `mapstructure:"leaves" validate:"required,min=1,dive"`

	// Metrics configures the optional Prometheus endpoint.
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	// Level is the minimum diagnostic level: DEBUG, INFO, WARN or ERROR.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// CallLog, when non-empty, is the file every federation operation is
	// recorded to through the call-logging decorator.
	CallLog string `mapstructure:"call_log"`
}

// MountConfig describes the FUSE mount.
type MountConfig struct {
	// Mountpoint is the directory the federation is mounted at.
	Mountpoint string `mapstructure:"mountpoint" validate:"required"`

	// FSName is the name shown in mount tables.
	FSName string `mapstructure:"fs_name"`

	// AllowOther permits other users to access the mount.
	AllowOther bool `mapstructure:"allow_other"`

	// Debug enables FUSE protocol tracing.
	Debug bool `mapstructure:"debug"`
}

// LeafConfig selects and configures one leaf backend. Only the options map
// matching Type is consulted.
type LeafConfig struct {
	// Type selects the backend: reflector, memory, badger or s3.
	Type string `mapstructure:"type" validate:"required,oneof=reflector memory badger s3"`

	// Reflector holds directory-reflector options (path).
	Reflector map[string]any `mapstructure:"reflector"`

	// Memory holds in-memory leaf options (capacity).
	Memory map[string]any `mapstructure:"memory"`

	// Badger holds BadgerDB leaf options (path, capacity).
	Badger map[string]any `mapstructure:"badger"`

	// S3 holds S3 leaf options (region, bucket, endpoint, credentials).
	S3 map[string]any `mapstructure:"s3"`
}

// MetricsConfig configures the Prometheus listener.
type MetricsConfig struct {
	// Enabled turns the listener on.
	Enabled bool `mapstructure:"enabled"`

	// Listen is the address the metrics endpoint binds to.
	Listen string `mapstructure:"listen"`
}

// Load reads the configuration from the given file (optional) and the
// environment. The result is not yet defaulted or validated: the CLI merges
// its flags in first and then calls Finalize.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SPANFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unmarshal only asks for keys viper already knows, so the scalar keys
	// are bound explicitly; otherwise SPANFS_* would be ignored whenever the
	// file does not mention the key.
	for _, key := range []string{
		"logging.level", "logging.call_log",
		"mount.mountpoint", "mount.fs_name", "mount.allow_other", "mount.debug",
		"metrics.enabled", "metrics.listen",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding environment for %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	return &cfg, nil
}

// Finalize applies defaults and validates a fully merged configuration.
func Finalize(cfg *Config) error {
	ApplyDefaults(cfg)
	return Validate(cfg)
}

// Reflectors builds leaf entries for a list of reflector roots, preserving
// order. This is how the CLI's --fss flag becomes configuration.
func Reflectors(roots []string) []LeafConfig {
	leaves := make([]LeafConfig, 0, len(roots))
	for _, root := range roots {
		leaves = append(leaves, LeafConfig{
			Type:      "reflector",
			Reflector: map[string]any{"path": root},
		})
	}
	return leaves
}
