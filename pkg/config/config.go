// Package config holds the typed configuration for ipldgraph.
//
// Configuration loads from environment variables (IPLDGRAPH_ prefix) or
// from a YAML file. File loading is strict: unknown keys are rejected, so a
// typo in an option name fails fast instead of silently using a default.
//
// Example:
//
//	cfg := config.Default()
//	if err := cfg.LoadFromEnv(); err != nil {
//		log.Fatal().Err(err).Msg("invalid configuration")
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatal().Err(err).Msg("invalid configuration")
//	}
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Backend selects the block-store implementation.
type Backend string

const (
	BackendIPFS     Backend = "ipfs"
	BackendEmbedded Backend = "embedded"
)

// Isolation levels accepted by isolation_default.
var validIsolation = map[string]struct{}{
	"READ_COMMITTED": {}, "REPEATABLE_READ": {}, "SERIALIZABLE": {},
}

// Config is the full option set. YAML tags define the file format; the
// same names (upper-cased, IPLDGRAPH_ prefix) are the environment keys.
type Config struct {
	Backend                Backend `yaml:"backend"`
	Endpoint               string  `yaml:"endpoint"`
	Database               string  `yaml:"database"`
	DefaultPin             bool    `yaml:"default_pin"`
	WALCompactionThreshold int     `yaml:"wal_compaction_threshold"`
	CacheCapacity          int     `yaml:"cache_capacity"`
	RetryMaxAttempts       int     `yaml:"retry_max_attempts"`
	RetryInitialBackoffMS  int     `yaml:"retry_initial_backoff_ms"`
	IsolationDefault       string  `yaml:"isolation_default"`
	SnapshotOnBegin        bool    `yaml:"snapshot_on_begin"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Backend:                BackendEmbedded,
		Endpoint:               "127.0.0.1:5001",
		Database:               "default",
		DefaultPin:             true,
		WALCompactionThreshold: 1000,
		CacheCapacity:          4096,
		RetryMaxAttempts:       3,
		RetryInitialBackoffMS:  100,
		IsolationDefault:       "READ_COMMITTED",
		SnapshotOnBegin:        false,
	}
}

// LoadFile reads a strict YAML config from path. Unknown keys are an error.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg := Default()
	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKeys maps environment suffixes to setters. Anything else under the
// IPLDGRAPH_ prefix is rejected as unknown.
var envKeys = map[string]func(*Config, string) error{
	"BACKEND": func(c *Config, v string) error {
		c.Backend = Backend(strings.ToLower(v))
		return nil
	},
	"ENDPOINT": func(c *Config, v string) error {
		c.Endpoint = v
		return nil
	},
	"DATABASE": func(c *Config, v string) error {
		c.Database = v
		return nil
	},
	"DEFAULT_PIN":              boolSetter(func(c *Config, b bool) { c.DefaultPin = b }),
	"WAL_COMPACTION_THRESHOLD": intSetter(func(c *Config, n int) { c.WALCompactionThreshold = n }),
	"CACHE_CAPACITY":           intSetter(func(c *Config, n int) { c.CacheCapacity = n }),
	"RETRY_MAX_ATTEMPTS":       intSetter(func(c *Config, n int) { c.RetryMaxAttempts = n }),
	"RETRY_INITIAL_BACKOFF_MS": intSetter(func(c *Config, n int) { c.RetryInitialBackoffMS = n }),
	"ISOLATION_DEFAULT": func(c *Config, v string) error {
		c.IsolationDefault = strings.ToUpper(v)
		return nil
	},
	"SNAPSHOT_ON_BEGIN": boolSetter(func(c *Config, b bool) { c.SnapshotOnBegin = b }),
}

func boolSetter(set func(*Config, bool)) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("expected boolean, got %q", v)
		}
		set(c, b)
		return nil
	}
}

func intSetter(set func(*Config, int)) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("expected integer, got %q", v)
		}
		set(c, n)
		return nil
	}
}

// envPrefix for all recognized variables.
const envPrefix = "IPLDGRAPH_"

// LoadFromEnv applies IPLDGRAPH_* variables over the current values.
// Unknown IPLDGRAPH_ keys are rejected.
func (c *Config) LoadFromEnv() error {
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, envPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		key := kv[len(envPrefix):eq]
		value := kv[eq+1:]

		setter, ok := envKeys[key]
		if !ok {
			return fmt.Errorf("config: unknown option %s%s", envPrefix, key)
		}
		if err := setter(c, value); err != nil {
			return fmt.Errorf("config: %s%s: %w", envPrefix, key, err)
		}
	}
	return c.Validate()
}

// Validate checks option values and cross-field requirements.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendIPFS, BackendEmbedded:
	default:
		return fmt.Errorf("config: backend must be %q or %q, got %q", BackendIPFS, BackendEmbedded, c.Backend)
	}
	if c.Backend == BackendIPFS {
		host, port, ok := strings.Cut(c.Endpoint, ":")
		if !ok || host == "" || port == "" {
			return fmt.Errorf("config: endpoint must be host:port, got %q", c.Endpoint)
		}
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("config: endpoint port must be numeric, got %q", port)
		}
	}
	if c.Database == "" {
		return fmt.Errorf("config: database must not be empty")
	}
	if _, ok := validIsolation[c.IsolationDefault]; !ok {
		return fmt.Errorf("config: invalid isolation_default %q", c.IsolationDefault)
	}
	if c.WALCompactionThreshold < 1 {
		return fmt.Errorf("config: wal_compaction_threshold must be positive")
	}
	if c.CacheCapacity < 1 {
		return fmt.Errorf("config: cache_capacity must be positive")
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("config: retry_max_attempts must be positive")
	}
	if c.RetryInitialBackoffMS < 0 {
		return fmt.Errorf("config: retry_initial_backoff_ms must not be negative")
	}
	return nil
}
