// Package config loads service settings from an optional YAML file with
// LABDESK_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"labdesk.org/internal/reminder"
)

// Config holds all configuration for labd and labctl.
// Environment variables always override YAML values. The JWT secret is
// read from the environment only.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Storage  StorageConfig  `yaml:"storage"`
	Reminder ReminderConfig `yaml:"reminder"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr" env:"LABDESK_HTTP_ADDR" env-default:":8080"`
	GRPCAddr        string        `yaml:"grpc_addr" env:"LABDESK_GRPC_ADDR" env-default:":9090"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" env:"LABDESK_MAX_BODY_BYTES" env-default:"1048576"`
	LoginRate       float64       `yaml:"login_rate" env:"LABDESK_LOGIN_RATE" env-default:"1"`
	LoginBurst      int           `yaml:"login_burst" env:"LABDESK_LOGIN_BURST" env-default:"5"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"LABDESK_ALLOWED_ORIGINS" env-separator:","`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"LABDESK_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// DatabaseConfig selects the store. Driver is postgres, sqlite or memory.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" env:"LABDESK_DB_DRIVER" env-default:"sqlite"`
	DSN             string        `yaml:"dsn" env:"LABDESK_DB_DSN" env-default:"file:labdesk.db"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"LABDESK_DB_MAX_OPEN_CONNS" env-default:"25"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"LABDESK_DB_MAX_IDLE_CONNS" env-default:"10"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"LABDESK_DB_CONN_MAX_LIFETIME" env-default:"15m"`
	AutoMigrate     bool          `yaml:"auto_migrate" env:"LABDESK_DB_AUTO_MIGRATE" env-default:"true"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"-" env:"LABDESK_JWT_SECRET"`
	SessionTTL time.Duration `yaml:"session_ttl" env:"LABDESK_SESSION_TTL" env-default:"12h"`
	BcryptCost int           `yaml:"bcrypt_cost" env:"LABDESK_BCRYPT_COST" env-default:"10"`
}

type StorageConfig struct {
	Root           string `yaml:"root" env:"LABDESK_STORAGE_ROOT" env-default:"./documents"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes" env:"LABDESK_MAX_UPLOAD_BYTES" env-default:"20971520"`
}

type ReminderConfig struct {
	Enabled  bool   `yaml:"enabled" env:"LABDESK_REMINDER_ENABLED" env-default:"true"`
	Time     string `yaml:"time" env:"LABDESK_REMINDER_TIME" env-default:"08:00"`
	Timezone string `yaml:"timezone" env:"LABDESK_REMINDER_TZ" env-default:"Local"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LABDESK_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LABDESK_LOG_FORMAT" env-default:"json"`
}

const minSecretLength = 32

// Load reads path when it exists, then applies the environment. An empty
// path reads the environment only.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, cfg); err != nil {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
			return cfg, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings labd cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Auth.JWTSecret) < minSecretLength {
		errs = append(errs, fmt.Errorf("LABDESK_JWT_SECRET must be at least %d bytes", minSecretLength))
	}
	switch strings.ToLower(c.Database.Driver) {
	case "postgres", "pgx", "postgresql", "sqlite", "sqlite3", "memory":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	if c.Auth.SessionTTL < 0 {
		errs = append(errs, errors.New("session_ttl must not be negative"))
	}
	if c.Reminder.Enabled {
		if _, _, err := reminder.ParseClock(c.Reminder.Time); err != nil {
			errs = append(errs, fmt.Errorf("reminder time: %w", err))
		}
		if _, err := c.Reminder.Location(); err != nil {
			errs = append(errs, fmt.Errorf("reminder timezone: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Location resolves the reminder timezone.
func (r ReminderConfig) Location() (*time.Location, error) {
	if r.Timezone == "" || r.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(r.Timezone)
}

// Memory reports whether the in-process store is selected.
func (d DatabaseConfig) Memory() bool {
	return strings.EqualFold(d.Driver, "memory")
}

// Usage describes every environment variable.
func Usage() (string, error) {
	return cleanenv.GetDescription(&Config{}, nil)
}
