// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// testSecret satisfies the production length check.
const testSecret = "0123456789abcdef0123456789abcdef"

func TestDefaultsAreValid(t *testing.T) {
	cfg := defaultConfig()
	cfg.Security.JWTSecret = testSecret
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.Server.Port != 8474 {
		t.Errorf("expected default port 8474, got %d", cfg.Server.Port)
	}
	if cfg.Client.ReconnectBaseDelay != 500*time.Millisecond {
		t.Errorf("expected 500ms base delay, got %s", cfg.Client.ReconnectBaseDelay)
	}
	if cfg.Client.ReconnectMaxAttempts != 5 {
		t.Errorf("expected 5 reconnect attempts, got %d", cfg.Client.ReconnectMaxAttempts)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CACHE_TTL", "45s")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %s", cfg.Logging.Level)
	}
	if cfg.Client.CacheTTL != 45*time.Second {
		t.Errorf("expected 45s cache TTL, got %s", cfg.Client.CacheTTL)
	}
	want := []string{"https://a.example.com", "https://b.example.com"}
	if len(cfg.Security.CORSOrigins) != 2 ||
		cfg.Security.CORSOrigins[0] != want[0] ||
		cfg.Security.CORSOrigins[1] != want[1] {
		t.Errorf("expected origins %v, got %v", want, cfg.Security.CORSOrigins)
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  port: 8500
security:
  jwt_secret: ` + testSecret + `
nats:
  enabled: false
client:
  poll_interval: 20s
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8500 {
		t.Errorf("expected port 8500 from file, got %d", cfg.Server.Port)
	}
	if cfg.NATS.Enabled {
		t.Error("expected nats disabled from file")
	}
	if cfg.Client.PollInterval != 20*time.Second {
		t.Errorf("expected 20s poll interval, got %s", cfg.Client.PollInterval)
	}
}

func TestEnvBeatsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "server:\n  port: 8500\nsecurity:\n  jwt_secret: " + testSecret + "\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("HTTP_PORT", "9100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("env must beat file: expected 9100, got %d", cfg.Server.Port)
	}
}

func TestValidateRejections(t *testing.T) {
	base := func() *Config {
		cfg := defaultConfig()
		cfg.Security.JWTSecret = testSecret
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing jwt secret", func(c *Config) { c.Security.JWTSecret = "" }},
		{"short secret in production", func(c *Config) {
			c.Server.Environment = "production"
			c.Security.JWTSecret = "short"
		}},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"zero send buffer", func(c *Config) { c.Hub.SendBuffer = 0 }},
		{"ping longer than pong", func(c *Config) {
			c.Hub.PingPeriod = 2 * time.Minute
		}},
		{"nats enabled without url or embedded", func(c *Config) {
			c.NATS.URL = ""
			c.NATS.EmbeddedServer = false
		}},
		{"nats enabled without topic", func(c *Config) { c.NATS.Topic = "" }},
		{"zero reconnect attempts", func(c *Config) { c.Client.ReconnectMaxAttempts = 0 }},
		{"negative poll interval", func(c *Config) { c.Client.PollInterval = -time.Second }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestUnmappedEnvIgnored(t *testing.T) {
	if got := envTransformFunc("PATH"); got != "" {
		t.Errorf("unmapped env var must be dropped, got %q", got)
	}
	if got := envTransformFunc("JWT_SECRET"); got != "security.jwt_secret" {
		t.Errorf("expected security.jwt_secret, got %q", got)
	}
}
