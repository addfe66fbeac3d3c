package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// validConfig is a minimal configuration that passes Finalize.
func validConfig() *Config {
	return &Config{
		Mount: MountConfig{Mountpoint: "/mnt/spanfs"},
		Leaves: []LeafConfig{
			{Type: "memory", Memory: map[string]any{"capacity": 1024}},
		},
	}
}

func TestFinalizeValid(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, Finalize(cfg))

	// Defaults landed.
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "spanfs", cfg.Mount.FSName)
	assert.NotEmpty(t, cfg.Metrics.Listen)
}

func TestFinalizeNormalizesLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "debug"
	require.NoError(t, Finalize(cfg))
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
}

func TestFinalizeRequiresLeaves(t *testing.T) {
	cfg := validConfig()
	cfg.Leaves = nil
	assert.Error(t, Finalize(cfg))
}

func TestFinalizeRequiresMountpoint(t *testing.T) {
	cfg := validConfig()
	cfg.Mount.Mountpoint = ""
	assert.Error(t, Finalize(cfg))
}

func TestFinalizeRejectsUnknownLeafType(t *testing.T) {
	cfg := validConfig()
	cfg.Leaves = []LeafConfig{{Type: "postgres"}}
	assert.Error(t, Finalize(cfg))
}

func TestFinalizeRejectsInvalidLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "LOUD"
	assert.Error(t, Finalize(cfg))
}

func TestFinalizeRejectsDuplicateReflectorRoots(t *testing.T) {
	cfg := validConfig()
	cfg.Leaves = []LeafConfig{
		{Type: "reflector", Reflector: map[string]any{"path": "/data/a"}},
		{Type: "reflector", Reflector: map[string]any{"path": "/data/a"}},
	}
	assert.Error(t, Finalize(cfg))
}

func TestFinalizeRejectsReflectorWithoutPath(t *testing.T) {
	cfg := validConfig()
	cfg.Leaves = []LeafConfig{{Type: "reflector"}}
	assert.Error(t, Finalize(cfg))
}

// A YAML file round-trips through Load with leaf order preserved.
func TestLoadYAMLFile(t *testing.T) {
	doc := map[string]any{
		"logging": map[string]any{"level": "warn", "call_log": "/tmp/calls.log"},
		"mount":   map[string]any{"mountpoint": "/mnt/fed", "allow_other": true},
		"leaves": []map[string]any{
			{"type": "reflector", "reflector": map[string]any{"path": "/data/a"}},
			{"type": "memory", "memory": map[string]any{"capacity": 4096}},
			{"type": "badger", "badger": map[string]any{"path": "/var/lib/spanfs"}},
		},
		"metrics": map[string]any{"enabled": true, "listen": "127.0.0.1:9999"},
	}
	raw, err := yaml.Marshal(doc)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "spanfs.yaml")
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, Finalize(cfg))

	assert.Equal(t, "WARN", cfg.Logging.Level)
	assert.Equal(t, "/tmp/calls.log", cfg.Logging.CallLog)
	assert.Equal(t, "/mnt/fed", cfg.Mount.Mountpoint)
	assert.True(t, cfg.Mount.AllowOther)
	require.Len(t, cfg.Leaves, 3)
	assert.Equal(t, "reflector", cfg.Leaves[0].Type)
	assert.Equal(t, "memory", cfg.Leaves[1].Type)
	assert.Equal(t, "badger", cfg.Leaves[2].Type)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:9999", cfg.Metrics.Listen)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Leaves)
}

func TestReflectors(t *testing.T) {
	leaves := Reflectors([]string{"/data/a", "/data/b"})
	require.Len(t, leaves, 2)
	assert.Equal(t, "reflector", leaves[0].Type)
	assert.Equal(t, "/data/a", leaves[0].Reflector["path"])
	assert.Equal(t, "/data/b", leaves[1].Reflector["path"])
}
