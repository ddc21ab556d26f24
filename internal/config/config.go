// Package config centralizes runtime configuration, read from environment
// variables (optionally seeded from a .env file) into a typed struct that is
// passed to the components that need it.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the process-wide, read-only configuration established once at
// startup.
type Config struct {
	Address    string `env:"IMAGEVAULT_ADDRESS" envDefault:":8080"`
	LogLevel   string `env:"IMAGEVAULT_LOG_LEVEL" envDefault:"info"`
	LogPretty  bool   `env:"IMAGEVAULT_LOG_PRETTY" envDefault:"false"`
	StorageDir string `env:"IMAGEVAULT_STORAGE_DIR" envDefault:"./uploads"`
	PublicBase string `env:"IMAGEVAULT_PUBLIC_BASE" envDefault:"/uploads"`

	// MaxUploadBytes is enforced both at the transport (MaxBytesReader) and
	// independently inside the pipeline.
	MaxUploadBytes int64 `env:"IMAGEVAULT_MAX_UPLOAD_BYTES" envDefault:"5242880"` // 5 MiB

	// Redis settings enable the background archive/sweep queue. Leaving the
	// address empty disables enqueueing entirely.
	RedisAddr     string `env:"IMAGEVAULT_REDIS_ADDR"`
	RedisPassword string `env:"IMAGEVAULT_REDIS_PASSWORD"`
	RedisDB       int    `env:"IMAGEVAULT_REDIS_DB" envDefault:"0"`

	// S3-compatible archive target, used by the worker only.
	S3Endpoint  string `env:"IMAGEVAULT_S3_ENDPOINT"`
	S3AccessKey string `env:"IMAGEVAULT_S3_ACCESS_KEY"`
	S3SecretKey string `env:"IMAGEVAULT_S3_SECRET_KEY"`
	S3UseSSL    bool   `env:"IMAGEVAULT_S3_USE_SSL" envDefault:"false"`
	S3Region    string `env:"IMAGEVAULT_S3_REGION" envDefault:"us-east-1"`
	S3Bucket    string `env:"IMAGEVAULT_S3_BUCKET" envDefault:"imagevault-archive"`

	WorkerConcurrency int `env:"IMAGEVAULT_WORKERS" envDefault:"4"`

	// SweepInterval is how often the worker re-runs the storage janitor.
	SweepInterval time.Duration `env:"IMAGEVAULT_SWEEP_INTERVAL" envDefault:"1h"`
}

// Load reads configuration from the environment, after loading .env when one
// is present in the working directory.
func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.MaxUploadBytes <= 0 {
		return nil, fmt.Errorf("IMAGEVAULT_MAX_UPLOAD_BYTES must be positive")
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 4
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	return cfg, nil
}

// QueueEnabled reports whether the background queue is configured.
func (c *Config) QueueEnabled() bool { return c.RedisAddr != "" }

// EnsureStorageDir creates the storage root when it does not exist yet.
func (c *Config) EnsureStorageDir() error {
	return os.MkdirAll(c.StorageDir, 0o750)
}
