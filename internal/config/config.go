package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverBolt     = "bbolt"
)

type Config struct {
	TelegramToken string
	WebhookURL    string
	// WebhookSecret is echoed by Telegram in every webhook request so that
	// forged updates can be rejected.
	WebhookSecret string

	DBDriver    string
	DBPath      string
	DatabaseURL string

	HTTPAddr  string
	SentryDSN string
	LogLevel  slog.Level

	MinRenderInterval time.Duration
	LockLeaseTTL      time.Duration
	MaxControls       int
}

// Load reads the configuration from the environment, after loading an
// optional .env file from the working directory. Variables already set in
// the environment win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		TelegramToken: os.Getenv("TELEGRAM_BOT_API_KEY"),
		WebhookURL:    os.Getenv("TELEGRAM_WEBHOOK_URL"),
		WebhookSecret: os.Getenv("TELEGRAM_WEBHOOK_SECRET"),
		DBDriver:      getenv("DB_DRIVER", DriverSQLite),
		DBPath:        getenv("DB_PATH", "data/opinions.db"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		SentryDSN:     os.Getenv("SENTRY_DSN"),
	}

	var err error
	if cfg.LogLevel, err = parseLevel(getenv("LOG_LEVEL", "info")); err != nil {
		return nil, err
	}
	if cfg.MinRenderInterval, err = parseDuration("MIN_RENDER_INTERVAL", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.LockLeaseTTL, err = parseDuration("LOCK_LEASE_TTL", 30*time.Second); err != nil {
		return nil, err
	}

	cfg.MaxControls = 10
	if s := os.Getenv("MAX_CONTROLS"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("MAX_CONTROLS must be a positive number: %q", s)
		}
		cfg.MaxControls = n
	}

	return cfg, nil
}

// Validate checks the settings the bot needs to serve.
func (c *Config) Validate() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_API_KEY is required")
	}
	if c.WebhookURL != "" && c.WebhookSecret == "" {
		return fmt.Errorf("TELEGRAM_WEBHOOK_SECRET is required with TELEGRAM_WEBHOOK_URL")
	}
	return c.ValidateStorage()
}

// ValidateStorage checks the database settings alone, enough for migrations.
func (c *Config) ValidateStorage() error {
	switch c.DBDriver {
	case DriverSQLite, DriverBolt:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH is required for the %s driver", c.DBDriver)
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be one of sqlite, postgres, bbolt: %q", c.DBDriver)
	}
	if c.LockLeaseTTL <= c.MinRenderInterval {
		return fmt.Errorf("LOCK_LEASE_TTL (%s) must exceed MIN_RENDER_INTERVAL (%s)", c.LockLeaseTTL, c.MinRenderInterval)
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive: %q", key, s)
	}
	return d, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}
