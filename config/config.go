package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "300ms" or "24h".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// AccountConfig describes the spatial anchors account connection.
type AccountConfig struct {
	Endpoint      string   `yaml:"endpoint"`
	AccountID     string   `yaml:"account_id"`
	AccountKey    string   `yaml:"account_key,omitempty"`
	TenantID      string   `yaml:"tenant_id,omitempty"`
	ClientID      string   `yaml:"client_id,omitempty"`
	ClientSecret  string   `yaml:"client_secret,omitempty"`
	Scope         string   `yaml:"scope,omitempty"`
	WatchInterval Duration `yaml:"watch_interval,omitempty"`
}

// SessionConfig tunes the anchor session manager.
type SessionConfig struct {
	ReadinessInterval Duration `yaml:"readiness_interval,omitempty"`
	DefaultExpiration Duration `yaml:"default_expiration,omitempty"`
	LocateFilter      string   `yaml:"locate_filter,omitempty"`
}

// LokiConfig configures optional log shipping to Loki.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url,omitempty"`
	Labels  map[string]string `yaml:"labels,omitempty"`
}

// LoggingConfig configures the zerolog output.
type LoggingConfig struct {
	Level  string     `yaml:"level,omitempty"`
	Format string     `yaml:"format,omitempty"`
	Loki   LokiConfig `yaml:"loki,omitempty"`
}

// TelemetryConfig configures the metrics collector.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider,omitempty"`
	Listen   string `yaml:"listen,omitempty"`
}

// Config is the root configuration document.
type Config struct {
	Account   AccountConfig   `yaml:"account"`
	Session   SessionConfig   `yaml:"session,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
}

const (
	defaultReadinessInterval = 300 * time.Millisecond
	defaultExpiration        = 24 * time.Hour
)

// ReadinessInterval returns the configured create-readiness poll interval.
func (c *Config) ReadinessInterval() time.Duration {
	if c != nil && c.Session.ReadinessInterval.Duration > 0 {
		return c.Session.ReadinessInterval.Duration
	}
	return defaultReadinessInterval
}

// DefaultExpiration returns the anchor lifetime applied when the caller does
// not pass one.
func (c *Config) DefaultExpiration() time.Duration {
	if c != nil && c.Session.DefaultExpiration.Duration > 0 {
		return c.Session.DefaultExpiration.Duration
	}
	return defaultExpiration
}

// Load reads, schema-validates and decodes the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates and decodes a raw YAML document.
func Parse(data []byte) (*Config, error) {
	var document map[string]interface{}
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validateDocument(document); err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Account.Endpoint == "" {
		return nil, fmt.Errorf("config: account.endpoint is required")
	}
	if cfg.Account.AccountID == "" {
		return nil, fmt.Errorf("config: account.account_id is required")
	}
	return cfg, nil
}
