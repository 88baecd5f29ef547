// Package config loads coordinator configuration from an optional YAML file
// overlaid with environment variables. Environment variables win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full coordinator configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Domain   DomainConfig   `yaml:"domain"`
	Relay    RelayConfig    `yaml:"relay"`
	Market   MarketConfig   `yaml:"market"`
	Auth     AuthConfig     `yaml:"auth"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig controls the PostgreSQL connection. An empty DSN selects
// the in-memory stores.
type DatabaseConfig struct {
	Driver          string `yaml:"driver"`
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// LoggingConfig controls log level, format and destination.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePrefix string `yaml:"file_prefix"`
}

// DomainConfig identifies this coordinator on the interchain network.
type DomainConfig struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

// RelayConfig points at the messaging relayer. An empty endpoint selects the
// in-process loopback router.
type RelayConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

// MarketConfig points at the NFT market holding escrowed items.
type MarketConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

// AuthConfig carries the credentials for privileged and inbound routes.
type AuthConfig struct {
	AdminSecret string `yaml:"admin_secret"`
	RelayKey    string `yaml:"relay_key"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{Driver: "postgres", MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetime: 300},
		Logging:  LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// AGGREGATOR_CONFIG (if set) and environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("AGGREGATOR_CONFIG")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Domain.Name) == "" {
		return fmt.Errorf("domain name is required (AGGREGATOR_DOMAIN)")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Host, "AGGREGATOR_HOST")
	setInt(&cfg.Server.Port, "AGGREGATOR_PORT")

	setString(&cfg.Database.Driver, "DATABASE_DRIVER")
	setString(&cfg.Database.DSN, "DATABASE_DSN")
	setInt(&cfg.Database.MaxOpenConns, "DATABASE_MAX_OPEN_CONNS")
	setInt(&cfg.Database.MaxIdleConns, "DATABASE_MAX_IDLE_CONNS")
	setInt(&cfg.Database.ConnMaxLifetime, "DATABASE_CONN_MAX_LIFETIME")

	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")
	setString(&cfg.Logging.Output, "LOG_OUTPUT")
	setString(&cfg.Logging.FilePrefix, "LOG_FILE_PREFIX")

	setString(&cfg.Domain.Name, "AGGREGATOR_DOMAIN")
	setString(&cfg.Domain.Address, "AGGREGATOR_ADDRESS")

	setString(&cfg.Relay.Endpoint, "RELAY_ENDPOINT")
	setString(&cfg.Relay.APIKey, "RELAY_API_KEY")

	setString(&cfg.Market.Endpoint, "MARKET_ENDPOINT")
	setString(&cfg.Market.APIKey, "MARKET_API_KEY")

	setString(&cfg.Auth.AdminSecret, "ADMIN_JWT_SECRET")
	setString(&cfg.Auth.RelayKey, "RELAY_INBOUND_KEY")
}

func setString(dst *string, env string) {
	if value, ok := os.LookupEnv(env); ok {
		*dst = strings.TrimSpace(value)
	}
}

func setInt(dst *int, env string) {
	if value, ok := os.LookupEnv(env); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			*dst = parsed
		}
	}
}
