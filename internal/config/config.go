// Package config provides the agent's local file configuration and the
// database-backed remote configuration snapshot.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultHTTPBind is where the local control API listens when the config
// does not say otherwise. Loopback only: the API is not authenticated.
const DefaultHTTPBind = "127.0.0.1:1201"

// DefaultConfigDir returns the default config directory (~/.backhaul).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".backhaul"), nil
}

// DefaultConfigPath returns the default config file path (~/.backhaul/config.yml).
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// Config holds the agent's local configuration. Everything else the agent
// needs lives in the shared database and is loaded as a Remote snapshot.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Database DatabaseConfig `yaml:"database"`
	Client   ClientConfig   `yaml:"client,omitempty"`
	Metrics  MetricsConfig  `yaml:"metrics,omitempty"`
}

// DeviceConfig identifies this device in the shared database.
type DeviceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name,omitempty"`
}

// DatabaseConfig describes the shared Postgres instance.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port,omitempty"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name,omitempty"`
	SSLMode  string `yaml:"sslmode,omitempty"`
}

// ClientConfig holds local agent behavior.
type ClientConfig struct {
	HTTPBind string `yaml:"http_bind,omitempty"`
	LogFile  string `yaml:"log_file,omitempty"`
}

// MetricsConfig controls Prometheus exposure.
type MetricsConfig struct {
	Enabled        bool   `yaml:"enabled,omitempty"`
	PushgatewayURL string `yaml:"pushgateway_url,omitempty"`
}

// Validate checks that the configuration has the fields required to start.
func (c *Config) Validate() error {
	if c.Device.ID == "" {
		return errors.New("device.id is required")
	}
	if c.Database.Host == "" {
		return errors.New("database.host is required")
	}
	if c.Database.User == "" {
		return errors.New("database.user is required")
	}
	if c.Database.Password == "" {
		return errors.New("database.password is required")
	}
	return nil
}

// DatabaseURL builds a Postgres connection string from the database section.
func (c *Config) DatabaseURL() string {
	port := c.Database.Port
	if port == 0 {
		port = 5432
	}
	name := c.Database.Name
	if name == "" {
		name = c.Database.User
	}
	sslmode := c.Database.SSLMode
	if sslmode == "" {
		sslmode = "prefer"
	}
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.Database.User),
		url.QueryEscape(c.Database.Password),
		c.Database.Host, port, name, sslmode)
}

// HTTPBind returns the control API bind address.
func (c *Config) HTTPBind() string {
	if c.Client.HTTPBind == "" {
		return DefaultHTTPBind
	}
	return c.Client.HTTPBind
}

// Load reads and validates the configuration at the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// LoadDefault loads the configuration from the default path.
func LoadDefault() (*Config, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return Load(path)
}
