package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.ZoneBackend)
	assert.Equal(t, "data/zones", cfg.ZoneRoot)
	assert.Equal(t, "pipeline.db", cfg.DatabasePath)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 4, cfg.Workers.Normalize)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
zone_backend: minio
minio:
  endpoint: localhost:9000
  access_key: minioadmin
  secret_key: minioadmin
  bucket_prefix: analytics
database_path: /var/lib/pipeline/runs.db
workers:
  normalize: 8
  clean: 2
retry:
  max_attempts: 5
  initial_delay: 250ms
  max_delay: 10s
listen_addr: ":9090"
log_level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "minio", cfg.ZoneBackend)
	assert.Equal(t, "localhost:9000", cfg.Minio.Endpoint)
	assert.Equal(t, "analytics", cfg.Minio.BucketPrefix)
	assert.Equal(t, "/var/lib/pipeline/runs.db", cfg.DatabasePath)
	assert.Equal(t, 8, cfg.Workers.Normalize)
	assert.Equal(t, 2, cfg.Workers.Clean)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialDelay)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PIPELINE_ZONE_BACKEND", "minio")
	t.Setenv("MINIO_ENDPOINT", "minio.internal:9000")
	t.Setenv("PIPELINE_NORMALIZE_WORKERS", "16")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "minio", cfg.ZoneBackend)
	assert.Equal(t, "minio.internal:9000", cfg.Minio.Endpoint)
	assert.Equal(t, 16, cfg.Workers.Normalize)
	assert.True(t, cfg.Minio.UseSSL)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("PIPELINE_ZONE_BACKEND", "s3")
	_, err := Load("")
	assert.Error(t, err)
}
