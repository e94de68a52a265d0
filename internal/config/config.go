// Package config loads runtime settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"time"

	"github.com/joho/godotenv"

	"taskmanager/internal/util"
)

const insecureDevKey = "insecure-dev-key-change-me"

type Config struct {
	Addr           string
	DatabaseDriver string
	DatabaseURL    string
	SecretKey      string
	Debug          bool

	LogLevel  string
	LogFormat string

	SessionBackend string
	SessionTTL     time.Duration
	CookieSecure   bool
	CSRFEnabled    bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LoginRateLimit  int
	LoginRateWindow time.Duration

	RollbarToken       string
	RollbarEnvironment string
}

// Load reads .env (if present) and the environment. With DEBUG enabled a
// missing SECRET_KEY falls back to an insecure development key.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:               util.EnvOrDefault("TASKMANAGER_ADDR", ":8000"),
		DatabaseDriver:     util.EnvOrDefault("DATABASE_DRIVER", "sqlite3"),
		DatabaseURL:        util.EnvOrDefault("DATABASE_URL", "data/taskmanager.db"),
		SecretKey:          util.EnvOrDefault("SECRET_KEY", ""),
		Debug:              util.EnvBool("DEBUG", false),
		LogLevel:           util.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          util.EnvOrDefault("LOG_FORMAT", "text"),
		SessionBackend:     util.EnvOrDefault("SESSION_BACKEND", "db"),
		SessionTTL:         util.EnvDuration("SESSION_TTL", 14*24*time.Hour),
		CookieSecure:       util.EnvBool("SESSION_COOKIE_SECURE", false),
		CSRFEnabled:        util.EnvBool("CSRF_ENABLED", true),
		RedisAddr:          util.EnvOrDefault("REDIS_ADDR", ""),
		RedisPassword:      util.EnvOrDefault("REDIS_PASSWORD", ""),
		RedisDB:            util.EnvInt("REDIS_DB", 0),
		LoginRateLimit:     util.EnvInt("LOGIN_RATE_LIMIT", 10),
		LoginRateWindow:    util.EnvDuration("LOGIN_RATE_WINDOW", time.Minute),
		RollbarToken:       util.EnvOrDefault("ROLLBAR_ACCESS_TOKEN", ""),
		RollbarEnvironment: util.EnvOrDefault("ROLLBAR_ENVIRONMENT", "development"),
	}

	if cfg.SecretKey == "" && cfg.Debug {
		cfg.SecretKey = insecureDevKey
	}
	if cfg.SessionBackend == "redis" && cfg.RedisAddr == "" {
		return nil, errors.New("SESSION_BACKEND=redis requires REDIS_ADDR")
	}
	return cfg, nil
}

// RequireSecret reports a missing SECRET_KEY. Only commands that sign
// cookies need it.
func (c *Config) RequireSecret() error {
	if c.SecretKey == "" {
		return errors.New("SECRET_KEY is not set")
	}
	return nil
}
