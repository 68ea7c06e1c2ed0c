// Package config loads runtime settings from the environment and an optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Setting keys. Each one is also read from the environment variable of the same name.
const (
	KeyAppPort          = "APP_PORT"
	KeyDatabaseDriver   = "DATABASE_DRIVER"
	KeyDatabaseDSN      = "DATABASE_DSN"
	KeyPasswordSalt     = "PASSWORD_SALT"
	KeyPasswordDigest   = "PASSWORD_DIGEST"
	KeyOnlineThreshold  = "ONLINE_THRESHOLD"
	KeyRabbitMQURL      = "RABBITMQ_URL"
	KeyRabbitMQQueue    = "RABBITMQ_QUEUE"
	KeyRabbitMQAuditLog = "RABBITMQ_AUDIT_LOG"
	KeyLogLevel         = "LOG_LEVEL"
	KeyConfigFile       = "CONFIG_FILE"
)

// ErrMissingPasswordSalt is returned when no password salt is configured.
var ErrMissingPasswordSalt = errors.New("missing password salt (set PASSWORD_SALT)")

// Config holds resolved application settings.
type Config struct {
	AppPort          string
	DatabaseDriver   string
	DatabaseDSN      string
	PasswordSalt     string
	PasswordDigest   string
	OnlineThreshold  time.Duration
	RabbitMQURL      string
	RabbitMQQueue    string
	RabbitMQAuditLog bool
	LogLevel         string
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyAppPort, ":8080")
	v.SetDefault(KeyDatabaseDriver, "sqlite")
	v.SetDefault(KeyDatabaseDSN, "beast.db")
	v.SetDefault(KeyPasswordDigest, "sha1")
	v.SetDefault(KeyOnlineThreshold, "5m")
	v.SetDefault(KeyRabbitMQQueue, "user_events")
	v.SetDefault(KeyRabbitMQAuditLog, false)
	v.SetDefault(KeyLogLevel, "info")
}

// Load reads settings from the environment and, when CONFIG_FILE is set, from that file.
// Environment variables take precedence over the file.
func Load() (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.AutomaticEnv()

	if path := strings.TrimSpace(v.GetString(KeyConfigFile)); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper resolves a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		AppPort:          v.GetString(KeyAppPort),
		DatabaseDriver:   strings.ToLower(strings.TrimSpace(v.GetString(KeyDatabaseDriver))),
		DatabaseDSN:      v.GetString(KeyDatabaseDSN),
		PasswordSalt:     v.GetString(KeyPasswordSalt),
		PasswordDigest:   strings.ToLower(strings.TrimSpace(v.GetString(KeyPasswordDigest))),
		OnlineThreshold:  v.GetDuration(KeyOnlineThreshold),
		RabbitMQURL:      strings.TrimSpace(v.GetString(KeyRabbitMQURL)),
		RabbitMQQueue:    v.GetString(KeyRabbitMQQueue),
		RabbitMQAuditLog: v.GetBool(KeyRabbitMQAuditLog),
		LogLevel:         v.GetString(KeyLogLevel),
	}

	if cfg.PasswordSalt == "" {
		return nil, ErrMissingPasswordSalt
	}
	if cfg.OnlineThreshold <= 0 {
		return nil, fmt.Errorf("invalid %s: must be a positive duration", KeyOnlineThreshold)
	}
	return cfg, nil
}
