// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

// Package config loads the server configuration with layered sources:
// built-in defaults, an optional YAML file, then environment variables.
// Precedence is ENV > file > defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the root server configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Security SecurityConfig `koanf:"security"`
	Hub      HubConfig      `koanf:"hub"`
	NATS     NATSConfig     `koanf:"nats"`
	Client   ClientConfig   `koanf:"client"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"`
}

// SecurityConfig holds auth and request-limiting settings.
type SecurityConfig struct {
	// JWTSecret signs and verifies connection tokens. Required, and must
	// be at least 32 bytes in production.
	JWTSecret       string        `koanf:"jwt_secret"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// HubConfig shapes server-side fan-out.
type HubConfig struct {
	// SendBuffer is the per-connection outbound queue; a connection that
	// falls this many events behind is dropped as a slow consumer.
	SendBuffer  int           `koanf:"send_buffer"`
	PingPeriod  time.Duration `koanf:"ping_period"`
	PongTimeout time.Duration `koanf:"pong_timeout"`
}

// NATSConfig configures the backend event bridge.
type NATSConfig struct {
	Enabled        bool   `koanf:"enabled"`
	URL            string `koanf:"url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
	Topic          string `koanf:"topic"`
	QueueGroup     string `koanf:"queue_group"`
}

// ClientConfig carries the unified session policy handed to connecting
// clients and used by the bundled client library.
type ClientConfig struct {
	ReconnectBaseDelay   time.Duration `koanf:"reconnect_base_delay"`
	ReconnectMaxAttempts int           `koanf:"reconnect_max_attempts"`
	PollInterval         time.Duration `koanf:"poll_interval"`
	CacheTTL             time.Duration `koanf:"cache_ttl"`
}

// LoggingConfig controls the zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// IsProduction reports whether the server runs with production checks.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Validate checks cross-field constraints that koanf cannot express.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive, got %s", c.Server.Timeout)
	}

	if c.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret is required")
	}
	if c.IsProduction() && len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("security.jwt_secret must be at least 32 characters in production")
	}
	if c.Security.RateLimitReqs < 0 {
		return fmt.Errorf("security.rate_limit_reqs must not be negative")
	}

	if c.Hub.SendBuffer < 1 {
		return fmt.Errorf("hub.send_buffer must be at least 1, got %d", c.Hub.SendBuffer)
	}
	if c.Hub.PingPeriod >= c.Hub.PongTimeout {
		return fmt.Errorf("hub.ping_period (%s) must be shorter than hub.pong_timeout (%s)",
			c.Hub.PingPeriod, c.Hub.PongTimeout)
	}

	if c.NATS.Enabled {
		if c.NATS.URL == "" && !c.NATS.EmbeddedServer {
			return fmt.Errorf("nats.url is required when nats.embedded_server is false")
		}
		if c.NATS.Topic == "" {
			return fmt.Errorf("nats.topic is required when nats is enabled")
		}
	}

	if c.Client.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("client.reconnect_base_delay must be positive")
	}
	if c.Client.ReconnectMaxAttempts < 1 {
		return fmt.Errorf("client.reconnect_max_attempts must be at least 1")
	}
	if c.Client.PollInterval <= 0 {
		return fmt.Errorf("client.poll_interval must be positive")
	}
	if c.Client.CacheTTL <= 0 {
		return fmt.Errorf("client.cache_ttl must be positive")
	}

	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}

	return nil
}
