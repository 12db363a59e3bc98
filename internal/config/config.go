package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Enforcement EnforcementConfig `mapstructure:"enforcement"`
	Defaults    DefaultsConfig    `mapstructure:"defaults"`
	Catalog     CatalogConfig     `mapstructure:"catalog"`
	Retention   RetentionConfig   `mapstructure:"retention"`
	Notify      NotifyConfig      `mapstructure:"notify"`
}

// ServerConfig defines listener addresses and HTTP timeouts
type ServerConfig struct {
	BindAddress  string   `mapstructure:"bind_address"`
	APIPort      int      `mapstructure:"api_port"`
	MetricsPort  int      `mapstructure:"metrics_port"`
	ReadTimeout  string   `mapstructure:"read_timeout"`
	WriteTimeout string   `mapstructure:"write_timeout"`
	CORSOrigins  []string `mapstructure:"cors_origins"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type     string         `mapstructure:"type"` // "redis" or "postgres"
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig defines the Redis connection
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// PostgresConfig defines the PostgreSQL connection
type PostgresConfig struct {
	DSN         string `mapstructure:"dsn"`
	MaxConns    int32  `mapstructure:"max_conns"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MinJWTSecretLength is the shortest accepted HS256 signing secret
const MinJWTSecretLength = 32

// AuthConfig defines identity token verification
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	PINMaxAge string `mapstructure:"pin_max_age"`
}

// EnforcementConfig defines heartbeat accounting policy
type EnforcementConfig struct {
	HeartbeatInterval  string `mapstructure:"heartbeat_interval"`
	PauseGrace         string `mapstructure:"pause_grace"`
	ConfigCacheTTL     string `mapstructure:"config_cache_ttl"`
	ConfigCacheSize    int    `mapstructure:"config_cache_size"`
	HistoryMaxSessions int    `mapstructure:"history_max_sessions"`
	HistoryMaxDays     int    `mapstructure:"history_max_days"`
}

// DefaultsConfig is applied when a profile config is created lazily.
// A limit of 0 means unlimited.
type DefaultsConfig struct {
	WeekdayLimitMinutes int    `mapstructure:"weekday_limit_minutes"`
	WeekendLimitMinutes int    `mapstructure:"weekend_limit_minutes"`
	ResetHour           int    `mapstructure:"reset_hour"`
	EducationalExempt   bool   `mapstructure:"educational_exempt"`
	TimeZone            string `mapstructure:"time_zone"`
}

// CatalogConfig defines the static title catalog
type CatalogConfig struct {
	EducationalTitles []string `mapstructure:"educational_titles"`
	Titles            []string `mapstructure:"titles"`
	Strict            bool     `mapstructure:"strict"` // unknown titles are rejected
	CacheSize         int      `mapstructure:"cache_size"`
	CacheTTL          string   `mapstructure:"cache_ttl"`
}

// RetentionConfig defines history purging
type RetentionConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Days    int    `mapstructure:"days"`
	RunAt   string `mapstructure:"run_at"`
}

// NotifyConfig defines event publishing
type NotifyConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("SCREENTIME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.api_port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.cors_origins", []string{})

	// Storage defaults
	v.SetDefault("storage.type", "redis")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.max_conns", 10)
	v.SetDefault("storage.postgres.auto_migrate", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.pin_max_age", "5m")

	// Enforcement defaults
	v.SetDefault("enforcement.heartbeat_interval", "30s")
	v.SetDefault("enforcement.pause_grace", "300s")
	v.SetDefault("enforcement.config_cache_ttl", "30s")
	v.SetDefault("enforcement.config_cache_size", 10000)
	v.SetDefault("enforcement.history_max_sessions", 500)
	v.SetDefault("enforcement.history_max_days", 92)

	// Profile config defaults
	v.SetDefault("defaults.weekday_limit_minutes", 120)
	v.SetDefault("defaults.weekend_limit_minutes", 180)
	v.SetDefault("defaults.reset_hour", 6)
	v.SetDefault("defaults.educational_exempt", true)
	v.SetDefault("defaults.time_zone", "UTC")

	// Catalog defaults
	v.SetDefault("catalog.educational_titles", []string{})
	v.SetDefault("catalog.titles", []string{})
	v.SetDefault("catalog.strict", false)
	v.SetDefault("catalog.cache_size", 5000)
	v.SetDefault("catalog.cache_ttl", "10m")

	// Retention defaults
	v.SetDefault("retention.enabled", true)
	v.SetDefault("retention.days", 90)
	v.SetDefault("retention.run_at", "03:30")

	// Notify defaults
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.nats_url", "nats://127.0.0.1:4222")
	v.SetDefault("notify.subject_prefix", "screentime")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	switch cfg.Storage.Type {
	case "", "redis":
		cfg.Storage.Type = "redis"
	case "postgres":
		if cfg.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for postgres storage")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	durations := map[string]string{
		"server.read_timeout":            cfg.Server.ReadTimeout,
		"server.write_timeout":           cfg.Server.WriteTimeout,
		"auth.pin_max_age":               cfg.Auth.PINMaxAge,
		"enforcement.heartbeat_interval": cfg.Enforcement.HeartbeatInterval,
		"enforcement.pause_grace":        cfg.Enforcement.PauseGrace,
		"enforcement.config_cache_ttl":   cfg.Enforcement.ConfigCacheTTL,
		"catalog.cache_ttl":              cfg.Catalog.CacheTTL,
	}
	for key, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", key)
		}
	}

	if interval, _ := time.ParseDuration(cfg.Enforcement.HeartbeatInterval); interval == 0 {
		return fmt.Errorf("enforcement.heartbeat_interval must be positive")
	}

	if cfg.Defaults.ResetHour < 0 || cfg.Defaults.ResetHour > 23 {
		return fmt.Errorf("defaults.reset_hour must be between 0 and 23, got %d", cfg.Defaults.ResetHour)
	}
	for key, limit := range map[string]int{
		"defaults.weekday_limit_minutes": cfg.Defaults.WeekdayLimitMinutes,
		"defaults.weekend_limit_minutes": cfg.Defaults.WeekendLimitMinutes,
	} {
		if limit == 0 {
			continue
		}
		if limit < 15 || limit > 480 || limit%15 != 0 {
			return fmt.Errorf("%s must be 0 or a multiple of 15 between 15 and 480, got %d", key, limit)
		}
	}
	if _, err := time.LoadLocation(cfg.Defaults.TimeZone); err != nil {
		return fmt.Errorf("invalid defaults.time_zone %q: %w", cfg.Defaults.TimeZone, err)
	}

	if cfg.Retention.Enabled {
		if cfg.Retention.Days <= 0 {
			return fmt.Errorf("retention.days must be positive")
		}
		if _, err := time.Parse("15:04", cfg.Retention.RunAt); err != nil {
			return fmt.Errorf("invalid retention.run_at %q (expected HH:MM)", cfg.Retention.RunAt)
		}
	}

	if cfg.Notify.Enabled && cfg.Notify.NATSURL == "" {
		return fmt.Errorf("notify.nats_url is required when notify is enabled")
	}

	if len(cfg.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d characters", MinJWTSecretLength)
	}

	return nil
}

// ParseDuration parses a duration string with a fallback
func ParseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
