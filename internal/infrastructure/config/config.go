package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the device agent.
// Configuration is loaded from YAML and can be overridden by environment
// variables.
type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Buffer  BufferConfig  `yaml:"buffer"`
	Report  ReportConfig  `yaml:"report"`
	Logging LoggingConfig `yaml:"logging"`
}

// DeviceConfig contains the Losant device identity and connection settings.
type DeviceConfig struct {
	// ID is the Losant device ID.
	ID string `yaml:"id"`

	// Key is the Losant application access key.
	Key string `yaml:"key"`

	// Secret is the Losant application access secret.
	Secret string `yaml:"secret"`

	// Secure enables TLS. Default: true.
	Secure bool `yaml:"secure"`

	// Transport selects the connection transport: "tcp" or "websockets".
	Transport string `yaml:"transport"`

	// Endpoint overrides the broker host. Empty uses the platform default.
	Endpoint string `yaml:"endpoint"`

	// RootCA is an optional path to a PEM root certificate bundle.
	RootCA string `yaml:"root_ca"`

	// QoS is the quality-of-service level for state and command traffic.
	QoS int `yaml:"qos"`
}

// BufferConfig contains offline state buffer settings.
type BufferConfig struct {
	// Enabled turns on local queueing of state reports that fail to publish.
	Enabled bool `yaml:"enabled"`

	// Path is the filesystem path to the SQLite queue file.
	Path string `yaml:"path"`
}

// ReportConfig contains state reporting settings.
type ReportConfig struct {
	// Interval is the number of seconds between state reports.
	Interval int `yaml:"interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment
// variable overrides.
//
// The loading order is:
//  1. A .env file in the working directory, if present
//  2. Default values
//  3. YAML file values (override defaults)
//  4. Environment variables (override file values)
//
// Environment variables follow the pattern: LOSANT_SECTION_KEY
// For example: LOSANT_DEVICE_ID, LOSANT_DEVICE_SECRET
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Secure:    true,
			Transport: "tcp",
			QoS:       0,
		},
		Buffer: BufferConfig{
			Enabled: false,
			Path:    "./data/state-queue.db",
		},
		Report: ReportConfig{
			Interval: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Credentials belong in the environment rather than the
// config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOSANT_DEVICE_ID"); v != "" {
		cfg.Device.ID = v
	}
	if v := os.Getenv("LOSANT_DEVICE_KEY"); v != "" {
		cfg.Device.Key = v
	}
	if v := os.Getenv("LOSANT_DEVICE_SECRET"); v != "" {
		cfg.Device.Secret = v
	}
	if v := os.Getenv("LOSANT_DEVICE_ENDPOINT"); v != "" {
		cfg.Device.Endpoint = v
	}
	if v := os.Getenv("LOSANT_BUFFER_PATH"); v != "" {
		cfg.Buffer.Path = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Device.ID == "" {
		errs = append(errs, "device.id is required (or set LOSANT_DEVICE_ID)")
	}
	if c.Device.Key == "" {
		errs = append(errs, "device.key is required (or set LOSANT_DEVICE_KEY)")
	}
	if c.Device.Secret == "" {
		errs = append(errs, "device.secret is required (or set LOSANT_DEVICE_SECRET)")
	}

	switch c.Device.Transport {
	case "tcp", "websockets":
	default:
		errs = append(errs, "device.transport must be tcp or websockets")
	}

	if c.Device.QoS < 0 || c.Device.QoS > 2 {
		errs = append(errs, "device.qos must be 0, 1, or 2")
	}

	if c.Buffer.Enabled && c.Buffer.Path == "" {
		errs = append(errs, "buffer.path is required when buffer.enabled is true")
	}

	if c.Report.Interval < 1 {
		errs = append(errs, "report.interval must be at least 1 second")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
