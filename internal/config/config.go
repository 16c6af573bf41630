// Package config loads engine configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v9"
)

// Config holds all tunables for the on-device sync agent.
type Config struct {
	DataDir  string `env:"FIELDSYNC_DATA_DIR" envDefault:"./data"`
	LogLevel string `env:"FIELDSYNC_LOG_LEVEL" envDefault:"info"`

	// Remote object store (photo blobs).
	MinioEndpoint  string `env:"FIELDSYNC_MINIO_ENDPOINT" envDefault:"localhost:9000"`
	MinioBucket    string `env:"FIELDSYNC_MINIO_BUCKET" envDefault:"field-media"`
	MinioAccessKey string `env:"FIELDSYNC_MINIO_ACCESS_KEY" envDefault:"minioadmin"`
	MinioSecretKey string `env:"FIELDSYNC_MINIO_SECRET_KEY" envDefault:"minioadmin"`
	MinioUseSSL    bool   `env:"FIELDSYNC_MINIO_SSL" envDefault:"false"`

	// Remote document store (record metadata).
	APIBaseURL string `env:"FIELDSYNC_API_URL" envDefault:"http://localhost:8787"`
	APIToken   string `env:"FIELDSYNC_API_TOKEN"`

	// Connectivity probing.
	ProbeAddr     string        `env:"FIELDSYNC_PROBE_ADDR" envDefault:"localhost:8787"`
	ProbeInterval time.Duration `env:"FIELDSYNC_PROBE_INTERVAL" envDefault:"5s"`
	ProbeDebounce time.Duration `env:"FIELDSYNC_PROBE_DEBOUNCE" envDefault:"3s"`

	// Retry policy for failed uploads.
	MaxAttempts      int           `env:"FIELDSYNC_MAX_ATTEMPTS" envDefault:"5"`
	BackoffBase      time.Duration `env:"FIELDSYNC_BACKOFF_BASE" envDefault:"30s"`
	BackoffCap       time.Duration `env:"FIELDSYNC_BACKOFF_CAP" envDefault:"1h"`
	StaleUploadAfter time.Duration `env:"FIELDSYNC_STALE_UPLOAD_AFTER" envDefault:"10m"`

	// Scheduler cadence while online.
	SyncInterval time.Duration `env:"FIELDSYNC_SYNC_INTERVAL" envDefault:"2m"`
	PollInterval time.Duration `env:"FIELDSYNC_POLL_INTERVAL" envDefault:"15s"`

	// Local event push for the field UI.
	ListenAddr string `env:"FIELDSYNC_LISTEN_ADDR" envDefault:"localhost:8090"`

	// Identity context, resolved by the host application.
	OrgID  string `env:"FIELDSYNC_ORG_ID"`
	UserID string `env:"FIELDSYNC_USER_ID"`
}

// Load parses configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
