package config

import (
	"strings"
	"time"

	"github.com/marmos91/bundled/pkg/downloader"
	"github.com/marmos91/bundled/pkg/servicemanager"
)

// ApplyDefaults fills unset configuration fields with their defaults. Zero
// values are replaced, explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyStorageDefaults(&cfg.Storage)
	applyManagerDefaults(&cfg.Manager)
	applyDownloaderDefaults(&cfg.Downloader)
	applyMetricsDefaults(&cfg.Metrics)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// GetDefaultConfig returns a fully defaulted configuration.
func GetDefaultConfig() *Config {
	var cfg Config
	ApplyDefaults(&cfg)

	return &cfg
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.DatabaseDir == "" {
		cfg.DatabaseDir = "/var/lib/bundled/db"
	}
	if cfg.ServicesDir == "" {
		cfg.ServicesDir = "/var/lib/bundled/services"
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = "/var/lib/bundled/downloads"
	}
	// Quotas default to zero: accounting stays active, enforcement is off.
}

func applyManagerDefaults(cfg *ManagerConfig) {
	if cfg.TTL == 0 {
		cfg.TTL = 30 * 24 * time.Hour
	}
	if cfg.RemoveOutdatedPeriod == 0 {
		cfg.RemoveOutdatedPeriod = 24 * time.Hour
	}
	if cfg.MaxConcurrentInstalls == 0 {
		cfg.MaxConcurrentInstalls = servicemanager.DefaultMaxConcurrentInstalls
	}
	if cfg.RetainedVersions == 0 {
		cfg.RetainedVersions = 2
	}
	// MaxServiceRecords defaults to zero: no record cap.
}

func applyDownloaderDefaults(cfg *DownloaderConfig) {
	if cfg.Timeout == 0 {
		cfg.Timeout = downloader.DefaultTimeout
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	// Metrics are opt-in; the port only matters when enabled.
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}
