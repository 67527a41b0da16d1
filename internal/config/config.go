// Package config loads serenityd configuration from a YAML file with
// SERENITY_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the root configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Log        LogConfig        `koanf:"log"`
	Delivery   DeliveryConfig   `koanf:"delivery"`
	Connection ConnectionConfig `koanf:"connection"`
	Polling    PollingConfig    `koanf:"polling"`
	Realtime   RealtimeConfig   `koanf:"realtime"`
	Emergency  EmergencyConfig  `koanf:"emergency"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	MetricsPort     int           `koanf:"metrics_port"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// DeliveryConfig contains delivery queue settings.
type DeliveryConfig struct {
	MaxAttempts       int           `koanf:"max_attempts"`
	InitialBackoff    time.Duration `koanf:"initial_backoff"`
	MaxBackoff        time.Duration `koanf:"max_backoff"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
	WorkerInterval    time.Duration `koanf:"worker_interval"`
	WorkerBatchSize   int           `koanf:"worker_batch_size"`
	Twilio            TwilioConfig  `koanf:"twilio"`
}

// TwilioConfig contains SMS transport credentials.
type TwilioConfig struct {
	Enabled    bool    `koanf:"enabled"`
	AccountSID string  `koanf:"account_sid"`
	AuthToken  string  `koanf:"auth_token"`
	From       string  `koanf:"from"`
	RateLimit  float64 `koanf:"rate_limit"`
}

// ConnectionConfig contains health monitor settings.
type ConnectionConfig struct {
	CheckInterval        time.Duration `koanf:"check_interval"`
	LivenessThreshold    time.Duration `koanf:"liveness_threshold"`
	ReconnectBaseDelay   time.Duration `koanf:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `koanf:"reconnect_max_delay"`
	MaxReconnectAttempts int           `koanf:"max_reconnect_attempts"`
}

// PollingConfig contains fallback polling settings.
type PollingConfig struct {
	DefaultInterval time.Duration `koanf:"default_interval"`
	FingerprintTTL  time.Duration `koanf:"fingerprint_ttl"`
}

// RealtimeConfig contains channel manager and websocket settings.
type RealtimeConfig struct {
	DisplayName     string        `koanf:"display_name"`
	PollInterval    time.Duration `koanf:"poll_interval"`
	PingInterval    time.Duration `koanf:"ping_interval"`
	PongTimeout     time.Duration `koanf:"pong_timeout"`
	SendBufferSize  int           `koanf:"send_buffer_size"`
	HistoryPerUser  int           `koanf:"history_per_user"`
	SupportContacts []string      `koanf:"support_contacts"`
}

// EmergencyConfig contains orchestrator settings.
type EmergencyConfig struct {
	ApprovalTimeout   time.Duration `koanf:"approval_timeout"`
	AutoApprove       bool          `koanf:"auto_approve"`
	StepDelay         time.Duration `koanf:"step_delay"`
	OperatorAddresses []string      `koanf:"operator_addresses"`
	OperatorUserIDs   []string      `koanf:"operator_user_ids"`
	PrivacyAddress    string        `koanf:"privacy_address"`
}

// DefaultConfig returns the baked-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			MetricsPort:     9090,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Delivery: DeliveryConfig{
			MaxAttempts:       3,
			InitialBackoff:    time.Second,
			MaxBackoff:        5 * time.Minute,
			BackoffMultiplier: 2.0,
			WorkerInterval:    5 * time.Second,
			WorkerBatchSize:   100,
			Twilio: TwilioConfig{
				Enabled:   false,
				RateLimit: 10,
			},
		},
		Connection: ConnectionConfig{
			CheckInterval:        10 * time.Second,
			LivenessThreshold:    45 * time.Second,
			ReconnectBaseDelay:   time.Second,
			ReconnectMaxDelay:    30 * time.Second,
			MaxReconnectAttempts: 5,
		},
		Polling: PollingConfig{
			DefaultInterval: 15 * time.Second,
			FingerprintTTL:  10 * time.Minute,
		},
		Realtime: RealtimeConfig{
			DisplayName:    "Serenity",
			PollInterval:   15 * time.Second,
			PingInterval:   25 * time.Second,
			PongTimeout:    60 * time.Second,
			SendBufferSize: 64,
			HistoryPerUser: 200,
		},
		Emergency: EmergencyConfig{
			ApprovalTimeout: 5 * time.Minute,
			AutoApprove:     true,
			StepDelay:       2 * time.Second,
		},
	}
}

// Load reads configuration from the given YAML file (if present), then
// overlays SERENITY_* environment variables. Nested keys use a double
// underscore: SERENITY_SERVER__PORT -> server.port.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("accessing config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("SERENITY_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "SERENITY_")), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks that the configuration contains usable values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("server.metrics_port %d out of range", c.Server.MetricsPort)
	}
	if c.Server.Port == c.Server.MetricsPort {
		return fmt.Errorf("server.port and server.metrics_port must differ")
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log.level %q: must be one of debug, info, warn, error", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("invalid log.format %q: must be json or text", c.Log.Format)
	}
	if c.Delivery.MaxAttempts <= 0 {
		return fmt.Errorf("delivery.max_attempts must be positive")
	}
	if c.Delivery.BackoffMultiplier < 1 {
		return fmt.Errorf("delivery.backoff_multiplier must be >= 1")
	}
	if c.Delivery.Twilio.Enabled {
		if c.Delivery.Twilio.AccountSID == "" || c.Delivery.Twilio.AuthToken == "" || c.Delivery.Twilio.From == "" {
			return fmt.Errorf("delivery.twilio requires account_sid, auth_token and from when enabled")
		}
	}
	if c.Connection.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("connection.max_reconnect_attempts must be positive")
	}
	if c.Connection.ReconnectBaseDelay > c.Connection.ReconnectMaxDelay {
		return fmt.Errorf("connection.reconnect_base_delay exceeds reconnect_max_delay")
	}
	if c.Polling.DefaultInterval <= 0 {
		return fmt.Errorf("polling.default_interval must be positive")
	}
	if c.Emergency.ApprovalTimeout <= 0 {
		return fmt.Errorf("emergency.approval_timeout must be positive")
	}
	return nil
}
