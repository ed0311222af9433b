package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ReminderStorePostgres = "postgres"
	ReminderStoreRedis    = "redis"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL       string   `mapstructure:"REDIS_URL"`
	MigrationsDir  string   `mapstructure:"MIGRATIONS_DIR"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`

	ReminderStore         string        `mapstructure:"REMINDER_STORE"`
	ReminderTimezone      string        `mapstructure:"REMINDER_TIMEZONE"`
	ReminderHour          int           `mapstructure:"REMINDER_HOUR"`
	ReminderSweepInterval time.Duration `mapstructure:"REMINDER_SWEEP_INTERVAL"`
	ReminderBatchSize     int           `mapstructure:"REMINDER_BATCH_SIZE"`

	NotificationWindow   time.Duration `mapstructure:"NOTIFICATION_WINDOW"`
	NotificationPageSize int           `mapstructure:"NOTIFICATION_PAGE_SIZE"`
	ChatPageSize         int           `mapstructure:"CHAT_PAGE_SIZE"`

	WSSendBuffer   int           `mapstructure:"WS_SEND_BUFFER"`
	WSPingInterval time.Duration `mapstructure:"WS_PING_INTERVAL"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"MIGRATIONS_DIR", "AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE",
	"AUTH_SIGNING_KEY", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"REMINDER_STORE", "REMINDER_TIMEZONE", "REMINDER_HOUR",
	"REMINDER_SWEEP_INTERVAL", "REMINDER_BATCH_SIZE", "NOTIFICATION_WINDOW",
	"NOTIFICATION_PAGE_SIZE", "CHAT_PAGE_SIZE", "WS_SEND_BUFFER", "WS_PING_INTERVAL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REMINDER_STORE", ReminderStorePostgres)
	v.SetDefault("REMINDER_TIMEZONE", "Local")
	v.SetDefault("REMINDER_HOUR", 9)
	v.SetDefault("REMINDER_SWEEP_INTERVAL", "1m")
	v.SetDefault("REMINDER_BATCH_SIZE", 100)
	v.SetDefault("NOTIFICATION_WINDOW", "24h")
	v.SetDefault("NOTIFICATION_PAGE_SIZE", 10)
	v.SetDefault("CHAT_PAGE_SIZE", 20)
	v.SetDefault("WS_SEND_BUFFER", 256)
	v.SetDefault("WS_PING_INTERVAL", "30s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: Identity comes from the X-User-ID header and every caller is admin.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Location resolves REMINDER_TIMEZONE.
func (c *Config) Location() (*time.Location, error) {
	if c.ReminderTimezone == "" || c.ReminderTimezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.ReminderTimezone)
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf(
			"AUTH_ISSUER or AUTH_SIGNING_KEY must be set outside development (current ENV=%q)", c.Env)
	}

	switch c.ReminderStore {
	case ReminderStorePostgres:
	case ReminderStoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when REMINDER_STORE is %q", ReminderStoreRedis)
		}
	default:
		return fmt.Errorf("REMINDER_STORE must be %q or %q, got %q",
			ReminderStorePostgres, ReminderStoreRedis, c.ReminderStore)
	}

	if c.ReminderHour < 0 || c.ReminderHour > 23 {
		return fmt.Errorf("REMINDER_HOUR must be between 0 and 23, got %d", c.ReminderHour)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("REMINDER_TIMEZONE: %w", err)
	}
	if c.ReminderSweepInterval <= 0 {
		return fmt.Errorf("REMINDER_SWEEP_INTERVAL must be positive")
	}
	if c.NotificationWindow <= 0 {
		return fmt.Errorf("NOTIFICATION_WINDOW must be positive")
	}
	if c.NotificationPageSize <= 0 || c.ChatPageSize <= 0 {
		return fmt.Errorf("page sizes must be positive")
	}

	return nil
}
