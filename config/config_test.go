package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, BackendFile, cfg.SnapshotBackend)
	assert.Equal(t, "event_database.csv", cfg.SnapshotPath)
	assert.Equal(t, 2*time.Minute, cfg.RebuildLockTTL)
	assert.Equal(t, int64(50), cfg.DiscoveryWindow)
	assert.False(t, cfg.RedisEnabled())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("SNAPSHOT_BACKEND", "s3")
	t.Setenv("S3_BUCKET", "events")
	t.Setenv("REBUILD_LOCK_TTL", "45s")
	t.Setenv("UPSTREAM_BACKOFF", "fibonacci")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("SNAPSHOT_BOOTSTRAP", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, BackendS3, cfg.SnapshotBackend)
	assert.Equal(t, "events", cfg.S3Bucket)
	assert.Equal(t, 45*time.Second, cfg.RebuildLockTTL)
	assert.Equal(t, "fibonacci", cfg.UpstreamBackoff)
	assert.True(t, cfg.SnapshotBootstrap)
	assert.True(t, cfg.RedisEnabled())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9000\ndiscovery_window: 25\n"), 0o600))

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("DISCOVERY_WINDOW", "75")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, int64(75), cfg.DiscoveryWindow)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown backend", func(c *Config) { c.SnapshotBackend = "ftp" }, "unknown snapshot_backend"},
		{"s3 without bucket", func(c *Config) { c.SnapshotBackend = BackendS3 }, "s3_bucket"},
		{"http without url", func(c *Config) { c.SnapshotBackend = BackendHTTP }, "snapshot_url"},
		{"memory", func(c *Config) { c.SnapshotBackend = BackendMemory }, ""},
		{"zero concurrency", func(c *Config) { c.RebuildConcurrency = 0 }, "rebuild_concurrency"},
		{"bad backoff", func(c *Config) { c.UpstreamBackoff = "random" }, "upstream_backoff"},
		{"bad otlp protocol", func(c *Config) { c.OTLPProtocol = "udp" }, "otlp_protocol"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}
