package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Ember Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Backend   BackendConfig   `yaml:"backend"`
	Settings  SettingsConfig  `yaml:"settings"`
	Protocol  ProtocolConfig  `yaml:"protocol"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DeviceConfig contains device identity and behaviour settings.
type DeviceConfig struct {
	// Name is the human-readable device name reported to the backend.
	Name string `yaml:"name"`

	// Board identifies the hardware variant (sent in the check-version request).
	Board string `yaml:"board"`

	// AecMode selects where acoustic echo cancellation runs:
	// "off", "device" or "server".
	AecMode string `yaml:"aec_mode"`

	// ClockTickInterval is the status refresh interval in seconds.
	ClockTickInterval int `yaml:"clock_tick_interval"`
}

// BackendConfig contains activation/version-check backend settings.
type BackendConfig struct {
	// CheckVersionURL is the endpoint queried for firmware and activation state.
	CheckVersionURL string `yaml:"check_version_url"`

	// ActivationURL is the endpoint polled to confirm device activation.
	// If empty, it is derived from the check-version response.
	ActivationURL string `yaml:"activation_url"`

	// Timeout is the per-request HTTP timeout in seconds.
	Timeout int `yaml:"timeout"`
}

// SettingsConfig contains the on-device settings store configuration.
type SettingsConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// ProtocolConfig contains realtime session settings that are not supplied
// by the backend at activation time.
type ProtocolConfig struct {
	// OpenTimeout bounds the blocking audio-channel open call, in seconds.
	OpenTimeout int `yaml:"open_timeout"`

	// KeepAlive is the transport keep-alive interval in seconds.
	KeepAlive int `yaml:"keep_alive"`
}

// TelemetryConfig contains optional InfluxDB telemetry settings.
type TelemetryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: EMBER_SECTION_KEY
// For example: EMBER_SETTINGS_PATH, EMBER_BACKEND_URL
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Name:              "ember",
			Board:             "ember-devkit",
			AecMode:           "off",
			ClockTickInterval: 1,
		},
		Backend: BackendConfig{
			Timeout: 30,
		},
		Settings: SettingsConfig{
			Path:        "./data/ember.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Protocol: ProtocolConfig{
			OpenTimeout: 10,
			KeepAlive:   90,
		},
		Telemetry: TelemetryConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: EMBER_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("EMBER_DEVICE_NAME"); v != "" {
		cfg.Device.Name = v
	}

	// Backend
	if v := os.Getenv("EMBER_BACKEND_URL"); v != "" {
		cfg.Backend.CheckVersionURL = v
	}

	// Settings store
	if v := os.Getenv("EMBER_SETTINGS_PATH"); v != "" {
		cfg.Settings.Path = v
	}

	// Telemetry
	if v := os.Getenv("EMBER_TELEMETRY_TOKEN"); v != "" {
		cfg.Telemetry.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Device validation
	if c.Device.Name == "" {
		errs = append(errs, "device.name is required")
	}
	switch strings.ToLower(c.Device.AecMode) {
	case "", "off", "device", "server":
	default:
		errs = append(errs, "device.aec_mode must be off, device or server")
	}
	if c.Device.ClockTickInterval < 1 {
		errs = append(errs, "device.clock_tick_interval must be at least 1 second")
	}

	// Backend validation
	if c.Backend.CheckVersionURL == "" {
		errs = append(errs, "backend.check_version_url is required (set EMBER_BACKEND_URL environment variable)")
	}
	if c.Backend.Timeout < 1 {
		errs = append(errs, "backend.timeout must be at least 1 second")
	}

	// Settings store validation
	if c.Settings.Path == "" {
		errs = append(errs, "settings.path is required")
	}

	// Protocol validation
	if c.Protocol.OpenTimeout < 1 {
		errs = append(errs, "protocol.open_timeout must be at least 1 second")
	}

	// Telemetry validation
	if c.Telemetry.Enabled {
		if c.Telemetry.URL == "" {
			errs = append(errs, "telemetry.url is required when telemetry is enabled")
		}
		if c.Telemetry.Token == "" {
			errs = append(errs, "telemetry.token is required when telemetry is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetBackendTimeout returns the backend HTTP timeout as a Duration.
func (c *Config) GetBackendTimeout() time.Duration {
	return time.Duration(c.Backend.Timeout) * time.Second
}

// GetOpenTimeout returns the audio-channel open timeout as a Duration.
func (c *Config) GetOpenTimeout() time.Duration {
	return time.Duration(c.Protocol.OpenTimeout) * time.Second
}

// GetKeepAlive returns the transport keep-alive interval as a Duration.
func (c *Config) GetKeepAlive() time.Duration {
	return time.Duration(c.Protocol.KeepAlive) * time.Second
}

// GetClockTickInterval returns the status refresh interval as a Duration.
func (c *Config) GetClockTickInterval() time.Duration {
	return time.Duration(c.Device.ClockTickInterval) * time.Second
}
