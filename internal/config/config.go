package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Upstream     UpstreamConfig     `mapstructure:"upstream"`
	Session      SessionConfig      `mapstructure:"session"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Notification NotificationConfig `mapstructure:"notification"`
	Listing      ListingConfig      `mapstructure:"listing"`
	Security     SecurityConfig     `mapstructure:"security"`
	Events       EventsConfig       `mapstructure:"events"`
	Audit        AuditConfig        `mapstructure:"audit"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
	Log          LogConfig          `mapstructure:"log"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
	Mode           string        `mapstructure:"mode"`
}

type UpstreamConfig struct {
	// BaseURL is the clinic API root; federation calls go to BaseURL + "/aws".
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SessionConfig struct {
	CookieName   string        `mapstructure:"cookie_name"`
	HeaderName   string        `mapstructure:"header_name"`
	IdleTTL      time.Duration `mapstructure:"idle_ttl"`
	StoreTTL     time.Duration `mapstructure:"store_ttl"`
	SecureCookie bool          `mapstructure:"secure_cookie"`
	// HostTokenSecret verifies host id tokens when set.
	HostTokenSecret string `mapstructure:"host_token_secret"`
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds a lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type NotificationConfig struct {
	Workers         int           `mapstructure:"workers"`
	QueueSize       int           `mapstructure:"queue_size"`
	Timeout         time.Duration `mapstructure:"timeout"`
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

type ListingConfig struct {
	Debounce        time.Duration `mapstructure:"debounce"`
	DefaultPageSize int           `mapstructure:"default_page_size"`
	MaxPageSize     int           `mapstructure:"max_page_size"`
}

type SecurityConfig struct {
	FrameAncestors    []string `mapstructure:"frame_ancestors"`
	AllowedOrigins    []string `mapstructure:"allowed_origins"`
	AllowedMethods    []string `mapstructure:"allowed_methods"`
	AllowedHeaders    []string `mapstructure:"allowed_headers"`
	RateLimitEnabled  bool     `mapstructure:"rate_limit_enabled"`
	RequestsPerSecond float64  `mapstructure:"requests_per_second"`
	Burst             int      `mapstructure:"burst"`
	MaxBodyBytes      int64    `mapstructure:"max_body_bytes"`
}

type EventsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Channel string `mapstructure:"channel"`
}

type AuditConfig struct {
	Retention       time.Duration `mapstructure:"retention"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	HealthPort      int           `mapstructure:"health_port"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool   `mapstructure:"prometheus_enabled"`
	MetricsNamespace  string `mapstructure:"metrics_namespace"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

// envOverrides lists the CLINIC_* variables applied after the config file.
type envOverrides struct {
	ServerPort      *int           `envconfig:"SERVER_PORT"`
	UpstreamBaseURL *string        `envconfig:"UPSTREAM_BASE_URL"`
	UpstreamTimeout *time.Duration `envconfig:"UPSTREAM_TIMEOUT"`
	HostTokenSecret *string        `envconfig:"HOST_TOKEN_SECRET"`
	RedisEnabled    *bool          `envconfig:"REDIS_ENABLED"`
	RedisURL        *string        `envconfig:"REDIS_URL"`
	DatabaseHost    *string        `envconfig:"DATABASE_HOST"`
	DatabasePort    *int           `envconfig:"DATABASE_PORT"`
	DatabaseUser    *string        `envconfig:"DATABASE_USER"`
	DatabasePass    *string        `envconfig:"DATABASE_PASSWORD"`
	DatabaseName    *string        `envconfig:"DATABASE_NAME"`
	FrameAncestors  []string       `envconfig:"FRAME_ANCESTORS"`
	AllowedOrigins  []string       `envconfig:"ALLOWED_ORIGINS"`
	ListingDebounce *time.Duration `envconfig:"LISTING_DEBOUNCE"`
	LogLevel        *string        `envconfig:"LOG_LEVEL"`
}

const envPrefix = "CLINIC"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 35*time.Second)
	v.SetDefault("server.max_header_bytes", 1<<20)
	v.SetDefault("server.mode", "release")

	v.SetDefault("upstream.base_url", "http://localhost:5000/api")
	v.SetDefault("upstream.timeout", 30*time.Second)

	v.SetDefault("session.cookie_name", "clinic_session")
	v.SetDefault("session.header_name", "X-Session-ID")
	v.SetDefault("session.idle_ttl", 12*time.Hour)
	v.SetDefault("session.store_ttl", 30*24*time.Hour)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("notification.workers", 4)
	v.SetDefault("notification.queue_size", 256)
	v.SetDefault("notification.timeout", 10*time.Second)
	v.SetDefault("notification.breaker_failures", 5)
	v.SetDefault("notification.breaker_timeout", 30*time.Second)

	v.SetDefault("listing.debounce", 500*time.Millisecond)
	v.SetDefault("listing.default_page_size", 10)
	v.SetDefault("listing.max_page_size", 100)

	v.SetDefault("security.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("security.allowed_headers", []string{"Origin", "Content-Type", "Accept", "X-Request-ID", "X-Session-ID"})
	v.SetDefault("security.requests_per_second", 20.0)
	v.SetDefault("security.burst", 40)
	v.SetDefault("security.max_body_bytes", 20<<20)

	v.SetDefault("events.channel", "clinic_requests.lifecycle")

	v.SetDefault("audit.retention", 90*24*time.Hour)
	v.SetDefault("audit.cleanup_interval", 24*time.Hour)
	v.SetDefault("audit.health_port", 8081)

	v.SetDefault("monitoring.prometheus_enabled", true)
	v.SetDefault("monitoring.metrics_namespace", "clinic_requests")

	v.SetDefault("log.level", "info")
}

// LoadConfig reads config.yaml, when present, then applies CLINIC_* overrides.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/app/config")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return load(v)
}

// LoadFile reads an explicit config file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return fmt.Errorf("failed to process environment: %w", err)
	}

	if env.ServerPort != nil {
		cfg.Server.Port = *env.ServerPort
	}
	if env.UpstreamBaseURL != nil {
		cfg.Upstream.BaseURL = *env.UpstreamBaseURL
	}
	if env.UpstreamTimeout != nil {
		cfg.Upstream.Timeout = *env.UpstreamTimeout
	}
	if env.HostTokenSecret != nil {
		cfg.Session.HostTokenSecret = *env.HostTokenSecret
	}
	if env.RedisEnabled != nil {
		cfg.Redis.Enabled = *env.RedisEnabled
	}
	if env.RedisURL != nil {
		cfg.Redis.URL = *env.RedisURL
	}
	if env.DatabaseHost != nil {
		cfg.Database.Host = *env.DatabaseHost
	}
	if env.DatabasePort != nil {
		cfg.Database.Port = *env.DatabasePort
	}
	if env.DatabaseUser != nil {
		cfg.Database.User = *env.DatabaseUser
	}
	if env.DatabasePass != nil {
		cfg.Database.Password = *env.DatabasePass
	}
	if env.DatabaseName != nil {
		cfg.Database.Name = *env.DatabaseName
	}
	if len(env.FrameAncestors) > 0 {
		cfg.Security.FrameAncestors = env.FrameAncestors
	}
	if len(env.AllowedOrigins) > 0 {
		cfg.Security.AllowedOrigins = env.AllowedOrigins
	}
	if env.ListingDebounce != nil {
		cfg.Listing.Debounce = *env.ListingDebounce
	}
	if env.LogLevel != nil {
		cfg.Log.Level = *env.LogLevel
	}
	return nil
}

// MinListingDebounce is the floor between a list query and its fetch.
const MinListingDebounce = 500 * time.Millisecond

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Upstream.BaseURL) == "" {
		return errors.New("upstream.base_url is required")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Listing.Debounce < MinListingDebounce {
		return fmt.Errorf("listing.debounce must be at least %s", MinListingDebounce)
	}
	if c.Notification.Workers <= 0 {
		return errors.New("notification.workers must be positive")
	}
	if c.Notification.QueueSize <= 0 {
		return errors.New("notification.queue_size must be positive")
	}
	return nil
}
