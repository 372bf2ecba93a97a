package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "data", cfg.Dir)
	assert.Equal(t, "127.0.0.1:8080", cfg.Addr)
	assert.Equal(t, 5*time.Second, cfg.FlushInterval())
	assert.False(t, cfg.WriteThrough)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectra.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
dir: /var/lib/vectra
addr: 0.0.0.0:9090
cache-max-mb: 256
flush-interval-sec: 30
cache-ttl-sec: 600
write-through: true
batch-size: 500
`), 0640))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/vectra", cfg.Dir)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr)
	assert.Equal(t, int64(256<<20), cfg.CacheMaxBytes())
	assert.Equal(t, 30*time.Second, cfg.FlushInterval())
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL())
	assert.True(t, cfg.WriteThrough)
	assert.Equal(t, 500, cfg.BatchSize)
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectra.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: localhost:1234\n"), 0640))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:1234", cfg.Addr)
	assert.Equal(t, "data", cfg.Dir)
}

func TestLoadUnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectra.yaml")
	require.NoError(t, os.WriteFile(path, []byte("no-such-key: 1\n"), 0640))

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.CacheMaxMB = -1
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Dir = ""
	assert.Error(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
