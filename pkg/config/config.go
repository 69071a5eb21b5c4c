// Package config loads and validates the bundled daemon configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/bundled/internal/bytesize"
	"github.com/marmos91/bundled/internal/logger"
	"github.com/marmos91/bundled/pkg/servicemanager"
)

// Config is the bundled daemon configuration.
//
// Configuration sources, highest precedence first:
//  1. Environment variables (BUNDLED_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Storage configures the on-disk layout and space budgets.
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Manager configures the reconciliation behavior.
	Manager ManagerConfig `mapstructure:"manager" yaml:"manager"`

	// Downloader configures bundle downloads.
	Downloader DownloaderConfig `mapstructure:"downloader" yaml:"downloader"`

	// Metrics configures the Prometheus metrics endpoint.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file
	// path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// StorageConfig configures the on-disk layout and space budgets.
type StorageConfig struct {
	// DatabaseDir holds the service record database.
	DatabaseDir string `mapstructure:"database_dir" validate:"required" yaml:"database_dir"`

	// ServicesDir is the root directory of installed service bundles.
	ServicesDir string `mapstructure:"services_dir" validate:"required" yaml:"services_dir"`

	// DownloadDir is the staging directory for downloads. It is cleared on
	// startup.
	DownloadDir string `mapstructure:"download_dir" validate:"required" yaml:"download_dir"`

	// ServicesQuota caps the total unpacked size of installed bundles.
	// Supports human-readable values like "10GB" or "2Gi". Zero disables
	// the cap.
	ServicesQuota bytesize.ByteSize `mapstructure:"services_quota" yaml:"services_quota,omitempty"`

	// DownloadQuota caps the concurrent download staging size. Zero
	// disables the cap.
	DownloadQuota bytesize.ByteSize `mapstructure:"download_quota" yaml:"download_quota,omitempty"`
}

// ManagerConfig configures reconciliation behavior.
type ManagerConfig struct {
	// TTL is how long a cached service version is kept before the
	// background sweep removes it.
	TTL time.Duration `mapstructure:"ttl" validate:"required,gt=0" yaml:"ttl"`

	// RemoveOutdatedPeriod is the background sweep interval.
	RemoveOutdatedPeriod time.Duration `mapstructure:"remove_outdated_period" validate:"required,gt=0" yaml:"remove_outdated_period"`

	// MaxConcurrentInstalls bounds the install worker pool.
	MaxConcurrentInstalls int `mapstructure:"max_concurrent_installs" validate:"gte=1" yaml:"max_concurrent_installs"`

	// MaxServiceRecords caps the number of stored service records. Zero
	// disables the cap.
	MaxServiceRecords int `mapstructure:"max_service_records" validate:"gte=0" yaml:"max_service_records"`

	// RetainedVersions bounds the cached versions kept per service after a
	// reconciliation pass.
	RetainedVersions int `mapstructure:"retained_versions" validate:"gte=0" yaml:"retained_versions"`
}

// DownloaderConfig configures bundle downloads.
type DownloaderConfig struct {
	// Timeout is the per-download timeout.
	Timeout time.Duration `mapstructure:"timeout" validate:"required,gt=0" yaml:"timeout"`
}

// MetricsConfig configures the Prometheus metrics HTTP endpoint.
// When Enabled is false no metrics are collected.
type MetricsConfig struct {
	// Enabled controls whether the metrics endpoint is served.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// Load loads configuration from file, environment, and defaults.
// An empty configPath uses the default location.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration and returns a user-friendly error when the
// config file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  bundled init\n\n"+
				"Or specify a custom config file:\n"+
				"  bundled <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  bundled init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes the configuration to path in YAML format.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoggerConfig converts the logging section into the logger package's config.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}

// ManagerSettings converts the relevant sections into the service manager's
// config.
func (c *Config) ManagerSettings() servicemanager.Config {
	return servicemanager.Config{
		ServicesDir:           c.Storage.ServicesDir,
		DownloadDir:           c.Storage.DownloadDir,
		TTL:                   c.Manager.TTL,
		RemoveOutdatedPeriod:  c.Manager.RemoveOutdatedPeriod,
		MaxConcurrentInstalls: c.Manager.MaxConcurrentInstalls,
		MaxServiceRecords:     c.Manager.MaxServiceRecords,
		RetainedVersions:      c.Manager.RetainedVersions,
	}
}

// setupViper configures environment variable and config file handling.
// Environment variables use the BUNDLED_ prefix, for example
// BUNDLED_LOGGING_LEVEL=DEBUG.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("BUNDLED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. A missing file is
// not an error; defaults apply instead.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks combines the decode hooks for custom config types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize so
// config files can use human-readable sizes like "1Gi" or "500MB".
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64.
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings to time.Duration so config files can
// use values like "30s" or "5m".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Raw integers are nanoseconds.
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory. Uses XDG_CONFIG_HOME if
// set, otherwise ~/.config, falling back to the current directory.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "bundled")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "bundled")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
