// Package config holds the CLI and server configuration surface, loadable
// from a YAML file with flag-friendly defaults.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process configuration.
type Config struct {
	// Dir is the data directory holding the shard files.
	Dir string `yaml:"dir"`

	// Addr is the listen address in serve mode.
	Addr string `yaml:"addr"`

	// CacheMaxMB caps resident cache memory in megabytes. 0 means
	// unbounded.
	CacheMaxMB int64 `yaml:"cache-max-mb"`

	// FlushIntervalSec is the background write-back cadence in seconds.
	FlushIntervalSec int `yaml:"flush-interval-sec"`

	// CacheTTLSec evicts databases idle for this many seconds. 0 disables.
	CacheTTLSec int `yaml:"cache-ttl-sec"`

	// WriteThrough persists every insert synchronously.
	WriteThrough bool `yaml:"write-through"`

	// BatchSize is the shard rotation size and import chunk size.
	BatchSize int `yaml:"batch-size"`
}

// Default returns the configuration used when no file or flags override it.
func Default() Config {
	return Config{
		Dir:              "data",
		Addr:             "127.0.0.1:8080",
		FlushIntervalSec: 5,
	}
}

// Load reads path over the defaults. A missing file is not an error when
// path is empty.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("dir must not be empty")
	}
	if c.CacheMaxMB < 0 {
		return fmt.Errorf("cache-max-mb must not be negative")
	}
	if c.FlushIntervalSec < 0 {
		return fmt.Errorf("flush-interval-sec must not be negative")
	}
	if c.CacheTTLSec < 0 {
		return fmt.Errorf("cache-ttl-sec must not be negative")
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch-size must not be negative")
	}
	return nil
}

// CacheMaxBytes converts the megabyte cap to bytes.
func (c Config) CacheMaxBytes() int64 {
	return c.CacheMaxMB << 20
}

// FlushInterval converts the flush cadence to a duration.
func (c Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalSec) * time.Second
}

// CacheTTL converts the idle TTL to a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSec) * time.Second
}
