package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendEmbedded, cfg.Backend)
	assert.Equal(t, "default", cfg.Database)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend: ipfs
endpoint: 10.0.0.1:5001
database: graphs
cache_capacity: 64
isolation_default: SERIALIZABLE
snapshot_on_begin: true
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, BackendIPFS, cfg.Backend)
	assert.Equal(t, "10.0.0.1:5001", cfg.Endpoint)
	assert.Equal(t, "graphs", cfg.Database)
	assert.Equal(t, 64, cfg.CacheCapacity)
	assert.Equal(t, "SERIALIZABLE", cfg.IsolationDefault)
	assert.True(t, cfg.SnapshotOnBegin)
	// Unset options keep their defaults.
	assert.Equal(t, 1000, cfg.WALCompactionThreshold)
}

func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: embedded\nshard_count: 4\n"), 0o644))

	_, err := LoadFile(path)
	require.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("IPLDGRAPH_BACKEND", "ipfs")
	t.Setenv("IPLDGRAPH_ENDPOINT", "localhost:5001")
	t.Setenv("IPLDGRAPH_RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("IPLDGRAPH_DEFAULT_PIN", "false")

	cfg := Default()
	require.NoError(t, cfg.LoadFromEnv())
	assert.Equal(t, BackendIPFS, cfg.Backend)
	assert.Equal(t, 5, cfg.RetryMaxAttempts)
	assert.False(t, cfg.DefaultPin)
}

func TestLoadFromEnvRejectsUnknownKey(t *testing.T) {
	t.Setenv("IPLDGRAPH_NOT_AN_OPTION", "1")
	cfg := Default()
	err := cfg.LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown option")
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad backend", func(c *Config) { c.Backend = "postgres" }},
		{"bad endpoint", func(c *Config) { c.Backend = BackendIPFS; c.Endpoint = "no-port" }},
		{"non-numeric port", func(c *Config) { c.Backend = BackendIPFS; c.Endpoint = "host:abc" }},
		{"empty database", func(c *Config) { c.Database = "" }},
		{"bad isolation", func(c *Config) { c.IsolationDefault = "CHAOS" }},
		{"zero threshold", func(c *Config) { c.WALCompactionThreshold = 0 }},
		{"zero cache", func(c *Config) { c.CacheCapacity = 0 }},
		{"zero retries", func(c *Config) { c.RetryMaxAttempts = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
