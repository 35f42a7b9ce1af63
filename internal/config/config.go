// internal/config/config.go

// Package config loads and validates the migrator's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the migrator.
type Config struct {
	Fetcher   FetcherConfig   `yaml:"fetcher"`
	Batch     BatchConfig     `yaml:"batch"`
	Store     StoreConfig     `yaml:"store"`
	Server    ServerConfig    `yaml:"server"`
	Migration MigrationConfig `yaml:"migration"`
	LogLevel  string          `yaml:"log_level"`
}

// FetcherConfig configures the HTTP fetcher.
type FetcherConfig struct {
	Timeout       Duration          `yaml:"timeout"`
	RetryAttempts int               `yaml:"retry_attempts"`
	RetryDelay    Duration          `yaml:"retry_delay"`
	RateLimit     float64           `yaml:"rate_limit"`
	RateBurst     int               `yaml:"rate_burst"`
	UserAgents    []string          `yaml:"user_agents,omitempty"`
	Headers       map[string]string `yaml:"headers,omitempty"`
}

// BatchConfig configures the batch state database.
type BatchConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// StoreConfig configures the content database.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	ListenAddress string `yaml:"listen_address"`
	MetricsPath   string `yaml:"metrics_path"`
}

// MigrationConfig configures row processing behavior.
type MigrationConfig struct {
	BlogPrefix     string `yaml:"blog_prefix"`
	PublishStatus  string `yaml:"publish_status"`
	AllowOverwrite bool   `yaml:"allow_overwrite"`
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("configuration filename cannot be empty")
	}
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", filename)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %v", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes. ${VAR} references are
// expanded from the environment before parsing.
func LoadFromBytes(data []byte) (*Config, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("configuration data cannot be empty")
	}

	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML configuration: %v", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}
	return &config, nil
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	var config Config
	config.applyDefaults()
	return &config
}

func (c *Config) applyDefaults() {
	if c.Fetcher.Timeout == 0 {
		c.Fetcher.Timeout = Duration(90 * time.Second)
	}
	if c.Fetcher.RetryAttempts == 0 {
		c.Fetcher.RetryAttempts = 1
	}
	if c.Fetcher.RetryDelay == 0 {
		c.Fetcher.RetryDelay = Duration(time.Second)
	}
	if c.Fetcher.RateLimit == 0 {
		c.Fetcher.RateLimit = 2.0
	}
	if c.Fetcher.RateBurst == 0 {
		c.Fetcher.RateBurst = 5
	}
	if c.Batch.Driver == "" {
		c.Batch.Driver = "sqlite3"
	}
	if c.Batch.DSN == "" {
		c.Batch.DSN = "sitemigrator.db"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite3"
	}
	if c.Store.DSN == "" {
		c.Store.DSN = "content.db"
	}
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":8080"
	}
	if c.Server.MetricsPath == "" {
		c.Server.MetricsPath = "/metrics"
	}
	if c.Migration.BlogPrefix == "" {
		c.Migration.BlogPrefix = "blog"
	}
	if c.Migration.PublishStatus == "" {
		c.Migration.PublishStatus = "publish"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the configuration for values the migrator cannot run with.
func (c *Config) Validate() error {
	if c.Fetcher.Timeout < 0 {
		return fmt.Errorf("fetcher.timeout cannot be negative")
	}
	if c.Fetcher.RetryAttempts < 0 {
		return fmt.Errorf("fetcher.retry_attempts cannot be negative")
	}
	if c.Fetcher.RateLimit < 0 {
		return fmt.Errorf("fetcher.rate_limit cannot be negative")
	}
	if err := validDriver(c.Batch.Driver); err != nil {
		return fmt.Errorf("batch.driver: %v", err)
	}
	if err := validDriver(c.Store.Driver); err != nil {
		return fmt.Errorf("store.driver: %v", err)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error")
	}
	return nil
}

func validDriver(driver string) error {
	switch driver {
	case "sqlite3", "mysql", "postgres", "memory":
		return nil
	default:
		return fmt.Errorf("unsupported driver %q", driver)
	}
}

// GenerateTemplate returns a commented starter configuration.
func GenerateTemplate() string {
	return `# Site migrator configuration

fetcher:
  timeout: 90s
  retry_attempts: 1
  retry_delay: 1s
  rate_limit: 2.0     # requests per second
  rate_burst: 5

batch:
  driver: sqlite3     # sqlite3 | mysql | postgres | memory
  dsn: sitemigrator.db

store:
  driver: sqlite3
  dsn: content.db

server:
  listen_address: ":8080"
  metrics_path: /metrics

migration:
  blog_prefix: blog   # /blog/<category>/<slug> source URLs carry the post category
  publish_status: publish
  allow_overwrite: false

log_level: info
`
}

// Duration wraps time.Duration with YAML support for values like "90s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %v", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
