// Package config loads and validates the server configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	CORS     CORSConfig     `yaml:"cors"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Poller   PollerConfig   `yaml:"poller"`
	Live     LiveConfig     `yaml:"live"`
	Alerting AlertingConfig `yaml:"alerting"`
	EventBus EventBusConfig `yaml:"eventbus"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host           string `yaml:"host" validate:"required"`
	Port           int    `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms" validate:"min=0"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms" validate:"min=0"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAgeSeconds  int      `yaml:"max_age_seconds"`
}

type DatabaseConfig struct {
	// InMemory runs the server against the in-memory store. No Postgres
	// connection is made and nothing survives a restart.
	InMemory bool   `yaml:"in_memory"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
}

type AuthConfig struct {
	AdminUsername     string `yaml:"admin_username" validate:"required"`
	AdminPasswordHash string `yaml:"admin_password_hash" validate:"required"`
	JWTSecret         string `yaml:"jwt_secret" validate:"required,min=32"`
	JWTExpiryHours    int    `yaml:"jwt_expiry_hours" validate:"min=1"`
	EncryptionKey     string `yaml:"encryption_key" validate:"required,len=32"`
	DefaultTenantID   string `yaml:"default_tenant_id" validate:"required,uuid"`
}

type PollerConfig struct {
	TickIntervalSeconds int `yaml:"tick_interval_seconds" validate:"min=1"`
	PollTimeoutMS       int `yaml:"poll_timeout_ms" validate:"min=100"`
	Workers             int `yaml:"workers" validate:"min=1"`
	RecoveryThreshold   int `yaml:"recovery_threshold" validate:"min=1"`
}

type LiveConfig struct {
	TickIntervalMS       int `yaml:"tick_interval_ms" validate:"min=100"`
	PollTimeoutMS        int `yaml:"poll_timeout_ms" validate:"min=100"`
	RingSize             int `yaml:"ring_size" validate:"min=2"`
	FlushIntervalSeconds int `yaml:"flush_interval_seconds" validate:"min=5"`
	SlotRefreshSeconds   int `yaml:"slot_refresh_seconds" validate:"min=1"`
}

type AlertingConfig struct {
	CPUThresholdPercent float64 `yaml:"cpu_threshold_percent" validate:"gt=0,lte=100"`
	LatencyThresholdMS  int64   `yaml:"latency_threshold_ms" validate:"min=1"`
	RateDebounceSamples int     `yaml:"rate_debounce_samples" validate:"min=1"`
}

type EventBusConfig struct {
	RouterStateChannelSize int `yaml:"router_state_channel_size"`
	AlertChannelSize       int `yaml:"alert_channel_size"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Load reads configuration from file, applies MIKRONOC_* environment
// variable overrides and validates the result.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration pre-filled with the documented defaults.
// Secrets have no defaults and must come from the file or environment.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeoutMS:  15000,
			WriteTimeoutMS: 15000,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "mikronoc",
			DBName:   "mikronoc",
			SSLMode:  "disable",
			MaxConns: 10,
		},
		Auth: AuthConfig{
			JWTExpiryHours: 24,
		},
		Poller: PollerConfig{
			TickIntervalSeconds: 30,
			PollTimeoutMS:       4000,
			Workers:             12,
			RecoveryThreshold:   3,
		},
		Live: LiveConfig{
			TickIntervalMS:       1000,
			PollTimeoutMS:        2000,
			RingSize:             60,
			FlushIntervalSeconds: 60,
			SlotRefreshSeconds:   30,
		},
		Alerting: AlertingConfig{
			CPUThresholdPercent: 85,
			LatencyThresholdMS:  400,
			RateDebounceSamples: 3,
		},
		EventBus: EventBusConfig{
			RouterStateChannelSize: 64,
			AlertChannelSize:       64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate ensures all required configuration values are set.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if !c.Database.InMemory && (c.Database.Host == "" || c.Database.DBName == "") {
		return fmt.Errorf("database host and dbname are required unless in_memory is set")
	}
	return nil
}

// applyEnvOverrides checks for environment variables with MIKRONOC_ prefix.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIKRONOC_DATABASE_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("MIKRONOC_DATABASE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = p
		}
	}
	if v := os.Getenv("MIKRONOC_DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("MIKRONOC_AUTH_ADMIN_PASSWORD_HASH"); v != "" {
		cfg.Auth.AdminPasswordHash = v
	}
	if v := os.Getenv("MIKRONOC_AUTH_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("MIKRONOC_AUTH_ENCRYPTION_KEY"); v != "" {
		cfg.Auth.EncryptionKey = v
	}
	if v := os.Getenv("MIKRONOC_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func (s *ServerConfig) GetReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

func (s *ServerConfig) GetWriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

// GetDSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

func (a *AuthConfig) GetJWTExpiry() time.Duration {
	return time.Duration(a.JWTExpiryHours) * time.Hour
}

func (p *PollerConfig) GetTickInterval() time.Duration {
	return time.Duration(p.TickIntervalSeconds) * time.Second
}

func (p *PollerConfig) GetPollTimeout() time.Duration {
	return time.Duration(p.PollTimeoutMS) * time.Millisecond
}

func (l *LiveConfig) GetTickInterval() time.Duration {
	return time.Duration(l.TickIntervalMS) * time.Millisecond
}

func (l *LiveConfig) GetPollTimeout() time.Duration {
	return time.Duration(l.PollTimeoutMS) * time.Millisecond
}

func (l *LiveConfig) GetFlushInterval() time.Duration {
	return time.Duration(l.FlushIntervalSeconds) * time.Second
}

func (l *LiveConfig) GetSlotRefresh() time.Duration {
	return time.Duration(l.SlotRefreshSeconds) * time.Second
}
