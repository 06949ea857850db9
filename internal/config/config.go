package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" envconfig:"SERVER"`
	Logging     LoggingConfig     `yaml:"logging" envconfig:"LOGGING"`
	Network     NetworkConfig     `yaml:"network" envconfig:"NETWORK"`
	CRL         CRLConfig         `yaml:"crl" envconfig:"CRL"`
	Device      DeviceConfig      `yaml:"device" envconfig:"DEVICE"`
	Passphrases PassphrasesConfig `yaml:"passphrases" envconfig:"PASSPHRASES"`
	Profile     ProfileConfig     `yaml:"profile" envconfig:"PROFILE"`
	Paths       PathsConfig       `yaml:"paths" envconfig:"PATHS"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8090"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig bounds passphrase-bearing requests
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"5"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"10"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/lcp.log"`
}

// NetworkConfig bounds status-server round trips. The fetch timeout covers
// both the status and the license refresh fetch; both are recoverable, so it
// stays well under user-facing timeouts.
type NetworkConfig struct {
	FetchTimeout time.Duration `yaml:"fetch_timeout" envconfig:"FETCH_TIMEOUT" default:"5s"`
	RetryMax     int           `yaml:"retry_max" envconfig:"RETRY_MAX" default:"2"`
}

// CRLConfig controls certificate revocation list retrieval
type CRLConfig struct {
	URL         string        `yaml:"url" envconfig:"URL" default:"http://crl.edrlab.telesec.de/rl/EDRLab_CA.crl"`
	MaxAge      time.Duration `yaml:"max_age" envconfig:"MAX_AGE" default:"168h"`
	CachePath   string        `yaml:"cache_path" envconfig:"CACHE_PATH" default:"crl.cache"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" envconfig:"FETCH_TIMEOUT" default:"10s"`
}

// DeviceConfig identifies this device to status servers
type DeviceConfig struct {
	Name      string `yaml:"name" envconfig:"NAME"`
	StatePath string `yaml:"state_path" envconfig:"STATE_PATH" default:"device.json"`
}

// PassphrasesConfig controls the encrypted passphrase store
type PassphrasesConfig struct {
	StorePath string `yaml:"store_path" envconfig:"STORE_PATH" default:"passphrases.dat"`
}

// ProfileConfig pins the production probe when set
type ProfileConfig struct {
	// Production forces production mode instead of probing the native
	// client with the bundled test license. Empty means "probe".
	Production *bool `yaml:"production" envconfig:"PRODUCTION"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	DataDir string `yaml:"data_dir" envconfig:"DATA_DIR" default:"data"`
	LogsDir string `yaml:"logs_dir" envconfig:"LOGS_DIR" default:"logs"`
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("LCP", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	configFile := getConfigFilePath()
	if _, err := os.Stat(configFile); err == nil {
		fileConfig, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileConfig, cfg)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// getConfigFilePath returns the config file location, overridable via env
func getConfigFilePath() string {
	if path := os.Getenv("LCP_CONFIG_FILE"); path != "" {
		return path
	}
	return "config.yaml"
}

func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}

// mergeConfigs overlays env values on top of the file config. Environment
// wins whenever it set a non-zero value.
func mergeConfigs(file, env Config) Config {
	merged := file

	if env.Server.Port != 0 {
		merged.Server.Port = env.Server.Port
	}
	if env.Server.ReadTimeout != 0 {
		merged.Server.ReadTimeout = env.Server.ReadTimeout
	}
	if env.Server.WriteTimeout != 0 {
		merged.Server.WriteTimeout = env.Server.WriteTimeout
	}
	if env.Server.IdleTimeout != 0 {
		merged.Server.IdleTimeout = env.Server.IdleTimeout
	}
	if env.Server.ShutdownTimeout != 0 {
		merged.Server.ShutdownTimeout = env.Server.ShutdownTimeout
	}
	if env.Logging.Level != "" {
		merged.Logging.Level = env.Logging.Level
	}
	if env.Logging.Output != "" {
		merged.Logging.Output = env.Logging.Output
	}
	if env.Logging.FilePath != "" {
		merged.Logging.FilePath = env.Logging.FilePath
	}
	if env.Network.FetchTimeout != 0 {
		merged.Network.FetchTimeout = env.Network.FetchTimeout
	}
	if env.Network.RetryMax != 0 {
		merged.Network.RetryMax = env.Network.RetryMax
	}
	if env.CRL.URL != "" {
		merged.CRL.URL = env.CRL.URL
	}
	if env.CRL.MaxAge != 0 {
		merged.CRL.MaxAge = env.CRL.MaxAge
	}
	if env.CRL.CachePath != "" {
		merged.CRL.CachePath = env.CRL.CachePath
	}
	if env.Device.Name != "" {
		merged.Device.Name = env.Device.Name
	}
	if env.Device.StatePath != "" {
		merged.Device.StatePath = env.Device.StatePath
	}
	if env.Passphrases.StorePath != "" {
		merged.Passphrases.StorePath = env.Passphrases.StorePath
	}
	if env.Profile.Production != nil {
		merged.Profile.Production = env.Profile.Production
	}
	if env.Paths.DataDir != "" {
		merged.Paths.DataDir = env.Paths.DataDir
	}
	if env.Paths.LogsDir != "" {
		merged.Paths.LogsDir = env.Paths.LogsDir
	}

	return merged
}

// resolvePaths anchors relative paths under the data directory
func (c *Config) resolvePaths() error {
	dataDir, err := filepath.Abs(c.Paths.DataDir)
	if err != nil {
		return fmt.Errorf("failed to resolve data dir: %w", err)
	}
	c.Paths.DataDir = dataDir

	logsDir, err := filepath.Abs(c.Paths.LogsDir)
	if err != nil {
		return fmt.Errorf("failed to resolve logs dir: %w", err)
	}
	c.Paths.LogsDir = logsDir

	if !filepath.IsAbs(c.CRL.CachePath) {
		c.CRL.CachePath = filepath.Join(dataDir, c.CRL.CachePath)
	}
	if !filepath.IsAbs(c.Device.StatePath) {
		c.Device.StatePath = filepath.Join(dataDir, c.Device.StatePath)
	}
	if !filepath.IsAbs(c.Passphrases.StorePath) {
		c.Passphrases.StorePath = filepath.Join(dataDir, c.Passphrases.StorePath)
	}
	if !filepath.IsAbs(c.Logging.FilePath) {
		c.Logging.FilePath = filepath.Join(logsDir, filepath.Base(c.Logging.FilePath))
	}

	return nil
}

// validate checks configuration consistency
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		return fmt.Errorf("invalid log output: %s", c.Logging.Output)
	}

	if c.Network.FetchTimeout <= 0 {
		return fmt.Errorf("network fetch timeout must be positive")
	}
	if c.Network.FetchTimeout > 30*time.Second {
		return fmt.Errorf("network fetch timeout must not exceed 30s, got %s", c.Network.FetchTimeout)
	}

	if c.CRL.URL == "" {
		return fmt.Errorf("crl url must not be empty")
	}
	if c.CRL.MaxAge <= 0 {
		return fmt.Errorf("crl max age must be positive")
	}

	return nil
}
