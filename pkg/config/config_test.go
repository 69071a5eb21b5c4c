package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/bundled/pkg/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "/var/lib/bundled/services", cfg.Storage.ServicesDir)
	assert.Equal(t, 30*24*time.Hour, cfg.Manager.TTL)
	assert.Equal(t, 24*time.Hour, cfg.Manager.RemoveOutdatedPeriod)
	assert.Equal(t, 5, cfg.Manager.MaxConcurrentInstalls)
	assert.Equal(t, 2, cfg.Manager.RetainedVersions)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
storage:
  services_dir: /srv/bundled/services
  services_quota: 10Gi
  download_quota: 512Mi
manager:
  ttl: 48h
  remove_outdated_period: 1h
  max_concurrent_installs: 3
  max_service_records: 40
metrics:
  enabled: true
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "/srv/bundled/services", cfg.Storage.ServicesDir)
	assert.Equal(t, uint64(10*1024*1024*1024), cfg.Storage.ServicesQuota.Uint64())
	assert.Equal(t, uint64(512*1024*1024), cfg.Storage.DownloadQuota.Uint64())
	assert.Equal(t, 48*time.Hour, cfg.Manager.TTL)
	assert.Equal(t, time.Hour, cfg.Manager.RemoveOutdatedPeriod)
	assert.Equal(t, 3, cfg.Manager.MaxConcurrentInstalls)
	assert.Equal(t, 40, cfg.Manager.MaxServiceRecords)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9090, cfg.Metrics.Port)

	// Unset sections still get defaults.
	assert.Equal(t, "/var/lib/bundled/downloads", cfg.Storage.DownloadDir)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: info
`)

	t.Setenv("BUNDLED_LOGGING_LEVEL", "ERROR")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ERROR", cfg.Logging.Level)
}

func TestInvalidLogLevelRejected(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: verbose
`)

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Logging.Level")
}

func TestInvalidQuotaRejected(t *testing.T) {
	path := writeConfig(t, `
storage:
  services_quota: "lots"
`)

	_, err := config.Load(path)
	require.Error(t, err)
}

func TestSaveAndReloadConfig(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Manager.TTL = 12 * time.Hour
	cfg.Storage.ServicesDir = "/srv/services"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, config.SaveConfig(cfg, path))

	loaded, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 12*time.Hour, loaded.Manager.TTL)
	assert.Equal(t, "/srv/services", loaded.Storage.ServicesDir)
}

func TestManagerSettings(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Storage.ServicesDir = "/srv/services"
	cfg.Storage.DownloadDir = "/srv/downloads"
	cfg.Manager.MaxServiceRecords = 10

	settings := cfg.ManagerSettings()

	assert.Equal(t, "/srv/services", settings.ServicesDir)
	assert.Equal(t, "/srv/downloads", settings.DownloadDir)
	assert.Equal(t, cfg.Manager.TTL, settings.TTL)
	assert.Equal(t, 10, settings.MaxServiceRecords)
}
