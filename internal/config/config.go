// Package config provides configuration management for the mailtestd daemon.
package config

import (
	"errors"
	"fmt"
)

// Config holds the daemon configuration.
type Config struct {
	Hostname  string          `toml:"hostname"`
	LogLevel  string          `toml:"log_level"`
	SMTP      ProtocolConfig  `toml:"smtp"`
	POP3      ProtocolConfig  `toml:"pop3"`
	TLS       TLSConfig       `toml:"tls"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Mailboxes []MailboxConfig `toml:"mailbox"`
}

// ProtocolConfig defines settings for a single protocol listener.
type ProtocolConfig struct {
	Enabled      bool     `toml:"enabled"`
	Port         int      `toml:"port"`
	TLS          bool     `toml:"tls"`
	AuthTypes    []string `toml:"auth_types"`
	AuthRequired bool     `toml:"auth_required"`
}

// TLSConfig holds TLS version settings for listeners with TLS enabled.
type TLSConfig struct {
	Protocol string `toml:"protocol"`
}

// MetricsConfig holds configuration for Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Path    string `toml:"path"`
}

// MailboxConfig defines a mailbox seeded into the store at startup.
// Messages are delivered to the mailbox in order before the listeners start.
type MailboxConfig struct {
	Username string   `toml:"username"`
	Secret   string   `toml:"secret"`
	Email    string   `toml:"email"`
	Messages []string `toml:"messages"`
}

// Default returns a Config with sensible default values.
func Default() Config {
	return Config{
		Hostname: "localhost",
		LogLevel: "info",
		SMTP: ProtocolConfig{
			Enabled: true,
			Port:    2525,
		},
		POP3: ProtocolConfig{
			Enabled: true,
			Port:    2110,
		},
		TLS: TLSConfig{
			Protocol: "TLSv1.2",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9101",
			Path:    "/metrics",
		},
	}
}

// Validate checks that the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c.Hostname == "" {
		return errors.New("hostname is required")
	}

	if !c.SMTP.Enabled && !c.POP3.Enabled {
		return errors.New("at least one of smtp and pop3 must be enabled")
	}

	if c.SMTP.Port < 0 || c.SMTP.Port > 65535 {
		return fmt.Errorf("invalid smtp port %d", c.SMTP.Port)
	}

	if c.POP3.Port < 0 || c.POP3.Port > 65535 {
		return fmt.Errorf("invalid pop3 port %d", c.POP3.Port)
	}

	if c.TLS.Protocol != "" && !isValidTLSProtocol(c.TLS.Protocol) {
		return fmt.Errorf("invalid TLS protocol %q (valid: TLSv1, TLSv1.1, TLSv1.2, TLSv1.3)", c.TLS.Protocol)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return errors.New("metrics address is required when metrics are enabled")
		}
		if c.Metrics.Path == "" {
			return errors.New("metrics path is required when metrics are enabled")
		}
	}

	seen := make(map[string]bool)
	for i, m := range c.Mailboxes {
		if m.Username == "" {
			return fmt.Errorf("mailbox %d: username is required", i)
		}
		if seen[m.Username] {
			return fmt.Errorf("mailbox %d: duplicate username %q", i, m.Username)
		}
		seen[m.Username] = true
	}

	return nil
}

func isValidTLSProtocol(p string) bool {
	switch p {
	case "TLSv1", "TLSv1.0", "TLSv1.1", "TLSv1.2", "TLSv1.3":
		return true
	default:
		return false
	}
}
