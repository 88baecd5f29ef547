package config

import "testing"

func TestLoadRequiresDomain(t *testing.T) {
	t.Setenv("AGGREGATOR_DOMAIN", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without a domain")
	}
}

func TestLoadAppliesEnvironment(t *testing.T) {
	t.Setenv("AGGREGATOR_DOMAIN", "linea")
	t.Setenv("AGGREGATOR_PORT", "9090")
	t.Setenv("DATABASE_DSN", "postgres://localhost/liquidity")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("RELAY_ENDPOINT", "https://relay.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Domain.Name != "linea" {
		t.Fatalf("unexpected domain %q", cfg.Domain.Name)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("unexpected port %d", cfg.Server.Port)
	}
	if cfg.Database.DSN != "postgres://localhost/liquidity" {
		t.Fatalf("unexpected dsn %q", cfg.Database.DSN)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected log level %q", cfg.Logging.Level)
	}
	if cfg.Relay.Endpoint != "https://relay.example.com" {
		t.Fatalf("unexpected relay endpoint %q", cfg.Relay.Endpoint)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Server.Port != 8080 || cfg.Logging.Level != "info" {
		t.Fatalf("unexpected defaults %#v", cfg)
	}
	cfg.Domain.Name = "linea"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults with a domain must validate: %v", err)
	}
}
