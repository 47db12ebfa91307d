// Package config loads workspace settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"label_pizza/utils/logging"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

/**
 * ==========================================================================
 * ==== All variables used by label_pizza must be loaded here. This is   ====
 * ==== to make the data flow clear so that a user can see what          ====
 * ==== variables are exposed, and how the values are propagated through ====
 * ==== the system.                                                      ====
 * ==========================================================================
 */
type Config struct {
	DatabaseUri string `env:"DATABASE_URI"`

	JwtSecret string        `env:"JWT_SECRET"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"15m"`

	AdminUserId   string `env:"ADMIN_USER_ID"`
	AdminEmail    string `env:"ADMIN_EMAIL"`
	AdminPassword string `env:"ADMIN_PASSWORD"`

	ListenAddr      string   `env:"LISTEN_ADDR" envDefault:":8000"`
	CorsOrigins     []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	RateLimitPerMin int      `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`

	LogFormat    string `env:"LOG_FORMAT" envDefault:"text"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile      string `env:"LOG_FILE"`
	AuditLogFile string `env:"AUDIT_LOG_FILE"`
}

const (
	DatabaseUri   = "DATABASE_URI"
	JwtSecret     = "JWT_SECRET"
	AdminUserId   = "ADMIN_USER_ID"
	AdminEmail    = "ADMIN_EMAIL"
	AdminPassword = "ADMIN_PASSWORD"
)

// ServerKeys are required by every command that starts the http api.
var ServerKeys = []string{DatabaseUri, JwtSecret, AdminUserId, AdminEmail, AdminPassword}

// LoadEnvFile adds the variables of a .env file to the process environment.
// Variables that are already set are not overwritten.
func LoadEnvFile(path string) error {
	slog.Info(fmt.Sprintf("loading env from file %v", path))
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("error loading .env file '%v': %w", path, err)
	}
	return nil
}

// Load parses the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing environment: %w", err)
	}
	return cfg, cfg.validate()
}

// Parse reads the config from the given variables instead of the process
// environment.
func Parse(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("error parsing environment: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid LOG_FORMAT '%v', must be 'text' or 'json'", c.LogFormat)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.RateLimitPerMin < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MIN must be non negative, got %d", c.RateLimitPerMin)
	}
	return nil
}

func (c Config) value(key string) string {
	switch key {
	case DatabaseUri:
		return c.DatabaseUri
	case JwtSecret:
		return c.JwtSecret
	case AdminUserId:
		return c.AdminUserId
	case AdminEmail:
		return c.AdminEmail
	case AdminPassword:
		return c.AdminPassword
	}
	return ""
}

// Require reports every missing key in one error.
func (c Config) Require(keys ...string) error {
	missing := []string{}
	for _, key := range keys {
		if c.value(key) == "" {
			missing = append(missing, key)
			slog.Error("missing required env variable", "key", key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("the following required env vars are missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c Config) LoggingOptions() logging.Options {
	level, _ := logging.ParseLevel(c.LogLevel)
	return logging.Options{Format: c.LogFormat, Level: level}
}
