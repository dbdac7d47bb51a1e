package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration
type Config struct {
	Server          ServerConfig      `yaml:"server"`
	Persistence     PersistenceConfig `yaml:"persistence"`
	Expiry          ExpiryConfig      `yaml:"expiry"`
	Log             LogConfig         `yaml:"log"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// PersistenceConfig selects where and how snapshots are written
type PersistenceConfig struct {
	Backend    string `yaml:"backend"` // json, bolt, rdb or none
	Dir        string `yaml:"dir"`
	DBFilename string `yaml:"dbfilename"`
	InPlace    bool   `yaml:"in_place"` // overwrite the snapshot directly instead of temp file + rename
}

type ExpiryConfig struct {
	SweepInterval Duration `yaml:"sweep_interval"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
	Colors bool   `yaml:"colors"`
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{
		Log: LogConfig{Colors: true},
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 6379
	}

	if c.Persistence.Backend == "" {
		c.Persistence.Backend = "json"
	}
	if c.Persistence.Dir == "" {
		c.Persistence.Dir = "."
	}
	if c.Persistence.DBFilename == "" {
		c.Persistence.DBFilename = "redis_data.json"
	}

	if c.Expiry.SweepInterval <= 0 {
		c.Expiry.SweepInterval = Duration(5 * time.Second)
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.Healthcheck.Host == "" {
		c.Healthcheck.Host = "127.0.0.1"
	}
	if c.Healthcheck.Port == 0 {
		c.Healthcheck.Port = 9121
	}

	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Address is the RESP listen address.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// HealthAddress is the health server listen address.
func (c *Config) HealthAddress() string {
	return net.JoinHostPort(c.Healthcheck.Host, strconv.Itoa(c.Healthcheck.Port))
}

// SnapshotPath joins the persistence dir and file name.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.Persistence.Dir, c.Persistence.DBFilename)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		return parts[2]
	})
}
