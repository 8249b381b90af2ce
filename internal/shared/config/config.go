package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the platform
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	EventStore EventStoreConfig `mapstructure:"eventstore"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Line       LineConfig       `mapstructure:"line"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	EHR        EHRConfig        `mapstructure:"ehr"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	Env            string        `mapstructure:"env"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RateLimitRPS   int           `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// DSN returns the PostgreSQL connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// RedisConfig configures the short-lived send claims taken by the
// reminder dispatcher. An empty Addr disables the Redis guard.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	ClaimTTL time.Duration `mapstructure:"claim_ttl"`
}

// EventStoreConfig holds configuration for the EventStoreDB domain event bus.
type EventStoreConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Insecure bool   `mapstructure:"insecure"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// AuthConfig configures API authentication. Outside production the API
// runs without tokens as DevTenantID, or the X-Tenant-ID header.
type AuthConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret"`
	CronSecret  string `mapstructure:"cron_secret"`
	DevTenantID string `mapstructure:"dev_tenant_id"`
}

// LineConfig holds the process-wide LINE defaults. Tenants override the
// channel token through tenant settings.
type LineConfig struct {
	APIBaseURL   string  `mapstructure:"api_base_url"`
	ChannelToken string  `mapstructure:"channel_token"`
	PushRate     float64 `mapstructure:"push_rate"`
	PushBurst    int     `mapstructure:"push_burst"`
}

// DispatchConfig holds reminder and scenario batch settings
type DispatchConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
	RunInServer  bool          `mapstructure:"run_in_server"`
}

// EHRConfig tunes calls to EHR backends. Which backend a tenant uses, and
// its credentials, are tenant settings.
type EHRConfig struct {
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	PushConcurrency int           `mapstructure:"push_concurrency"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// bindings maps config keys to the environment variables that feed them.
var bindings = map[string]string{
	"server.port":             "SERVER_PORT",
	"server.env":              "ENV",
	"server.request_timeout":  "SERVER_REQUEST_TIMEOUT",
	"server.rate_limit_rps":   "RATE_LIMIT_RPS",
	"server.rate_limit_burst": "RATE_LIMIT_BURST",
	"database.host":           "DB_HOST",
	"database.port":           "DB_PORT",
	"database.user":           "DB_USER",
	"database.password":       "DB_PASSWORD",
	"database.name":           "DB_NAME",
	"database.sslmode":        "DB_SSLMODE",
	"database.max_conns":      "DB_MAX_CONNS",
	"database.min_conns":      "DB_MIN_CONNS",
	"redis.addr":              "REDIS_ADDR",
	"redis.password":          "REDIS_PASSWORD",
	"redis.db":                "REDIS_DB",
	"redis.claim_ttl":         "REDIS_CLAIM_TTL",
	"eventstore.enabled":      "EVENTSTORE_ENABLED",
	"eventstore.host":         "EVENTSTORE_HOST",
	"eventstore.port":         "EVENTSTORE_PORT",
	"eventstore.insecure":     "EVENTSTORE_INSECURE",
	"eventstore.username":     "EVENTSTORE_USERNAME",
	"eventstore.password":     "EVENTSTORE_PASSWORD",
	"auth.jwt_secret":         "JWT_SECRET",
	"auth.cron_secret":        "CRON_SECRET",
	"auth.dev_tenant_id":      "DEV_TENANT_ID",
	"line.api_base_url":       "LINE_API_BASE_URL",
	"line.channel_token":      "LINE_CHANNEL_ACCESS_TOKEN",
	"line.push_rate":          "LINE_PUSH_RATE",
	"line.push_burst":         "LINE_PUSH_BURST",
	"dispatch.concurrency":    "DISPATCH_CONCURRENCY",
	"dispatch.tick_interval":  "DISPATCH_TICK_INTERVAL",
	"dispatch.run_in_server":  "DISPATCH_RUN_IN_SERVER",
	"ehr.request_timeout":     "EHR_REQUEST_TIMEOUT",
	"ehr.push_concurrency":    "EHR_PUSH_CONCURRENCY",
	"log.level":               "LOG_LEVEL",
	"log.pretty":              "LOG_PRETTY",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.env", "development")
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.rate_limit_rps", 50)
	v.SetDefault("server.rate_limit_burst", 100)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "clinic")
	v.SetDefault("database.password", "clinic")
	v.SetDefault("database.name", "clinic")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 2)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.claim_ttl", 20*time.Minute)

	v.SetDefault("eventstore.enabled", false)
	v.SetDefault("eventstore.host", "localhost")
	v.SetDefault("eventstore.port", 2113)
	v.SetDefault("eventstore.insecure", true)

	v.SetDefault("auth.jwt_secret", "dev-secret-change-in-prod")

	v.SetDefault("line.api_base_url", "https://api.line.me")
	v.SetDefault("line.push_rate", 20.0)
	v.SetDefault("line.push_burst", 10)

	v.SetDefault("dispatch.concurrency", 8)
	v.SetDefault("dispatch.tick_interval", 5*time.Minute)
	v.SetDefault("dispatch.run_in_server", false)

	v.SetDefault("ehr.request_timeout", 15*time.Second)
	v.SetDefault("ehr.push_concurrency", 4)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Load reads configuration from the environment, after loading an optional
// .env file from the working directory.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT out of range: %d", c.Server.Port)
	}
	if c.Dispatch.Concurrency <= 0 {
		return fmt.Errorf("DISPATCH_CONCURRENCY must be positive, got %d", c.Dispatch.Concurrency)
	}
	if c.Line.PushRate <= 0 {
		return fmt.Errorf("LINE_PUSH_RATE must be positive, got %v", c.Line.PushRate)
	}
	if c.IsProduction() && c.Auth.JWTSecret == "dev-secret-change-in-prod" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	return nil
}

// IsProduction returns true if running in production
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}
