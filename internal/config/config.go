// Package config loads pipeline configuration from a YAML file with
// environment overrides. A .env file is honoured when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"learner-analytics-pipeline/internal/zones"
)

// WorkerConfig sizes the per-record worker pools.
type WorkerConfig struct {
	Normalize int `yaml:"normalize"`
	Clean     int `yaml:"clean"`
}

// RetryConfig bounds stage retries.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// UnmarshalYAML accepts Go duration strings ("250ms", "10s") for the delays.
func (r *RetryConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxAttempts  int    `yaml:"max_attempts"`
		InitialDelay string `yaml:"initial_delay"`
		MaxDelay     string `yaml:"max_delay"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.MaxAttempts != 0 {
		r.MaxAttempts = raw.MaxAttempts
	}
	if raw.InitialDelay != "" {
		d, err := time.ParseDuration(raw.InitialDelay)
		if err != nil {
			return fmt.Errorf("retry.initial_delay: %w", err)
		}
		r.InitialDelay = d
	}
	if raw.MaxDelay != "" {
		d, err := time.ParseDuration(raw.MaxDelay)
		if err != nil {
			return fmt.Errorf("retry.max_delay: %w", err)
		}
		r.MaxDelay = d
	}
	return nil
}

// Config is the full pipeline configuration.
type Config struct {
	// Zones backend: "local" or "minio".
	ZoneBackend string            `yaml:"zone_backend"`
	ZoneRoot    string            `yaml:"zone_root"` // local backend only
	Minio       zones.MinioConfig `yaml:"minio"`

	// Run-manifest store (sqlite).
	DatabasePath string `yaml:"database_path"`

	Workers WorkerConfig `yaml:"workers"`
	Retry   RetryConfig  `yaml:"retry"`

	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
}

// Defaults used when neither file nor environment sets a value.
const (
	defaultDatabasePath = "pipeline.db"
	defaultListenAddr   = ":8080"
	defaultZoneBackend  = "local"
	defaultZoneRoot     = "data/zones"
	defaultWorkers      = 4
)

// Load reads path (optional), then applies env overrides. Missing file plus
// env-only configuration is a supported mode.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ZoneBackend:  defaultZoneBackend,
		ZoneRoot:     defaultZoneRoot,
		DatabasePath: defaultDatabasePath,
		ListenAddr:   defaultListenAddr,
		Workers:      WorkerConfig{Normalize: defaultWorkers, Clean: defaultWorkers},
		Retry:        RetryConfig{MaxAttempts: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second},
		LogLevel:     "info",
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.ZoneBackend != "local" && cfg.ZoneBackend != "minio" {
		return nil, fmt.Errorf("unknown zone backend %q", cfg.ZoneBackend)
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry.MaxAttempts = 1
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.ZoneBackend, "PIPELINE_ZONE_BACKEND")
	setString(&cfg.ZoneRoot, "PIPELINE_ZONE_ROOT")
	setString(&cfg.DatabasePath, "PIPELINE_DB_PATH")
	setString(&cfg.ListenAddr, "PIPELINE_LISTEN_ADDR")
	setString(&cfg.LogLevel, "PIPELINE_LOG_LEVEL")
	setString(&cfg.Minio.Endpoint, "MINIO_ENDPOINT")
	setString(&cfg.Minio.AccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.Minio.SecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.Minio.BucketPrefix, "MINIO_BUCKET_PREFIX")
	setBool(&cfg.Minio.UseSSL, "MINIO_USE_SSL")
	setInt(&cfg.Workers.Normalize, "PIPELINE_NORMALIZE_WORKERS")
	setInt(&cfg.Workers.Clean, "PIPELINE_CLEAN_WORKERS")
	setInt(&cfg.Retry.MaxAttempts, "PIPELINE_RETRY_MAX_ATTEMPTS")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
