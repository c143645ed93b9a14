// Package config loads the contactbook runtime configuration.
//
// Values are resolved in three layers: built-in defaults, an optional YAML
// file, then environment variables (a local .env file is loaded first when
// present). Later layers win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is read when CONFIG_FILE is not set and the file exists.
const DefaultConfigPath = "config/contactbook.yaml"

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Mail      MailConfig      `yaml:"mail"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Images    ImagesConfig    `yaml:"images"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host" env:"SERVER_HOST"`
	Port            int           `yaml:"port" env:"SERVER_PORT"`
	CORSOrigins     string        `yaml:"cors_origins" env:"CORS_ALLOWED_ORIGINS"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AllowedOrigins splits the comma separated origin list.
func (s ServerConfig) AllowedOrigins() []string {
	return splitCSV(s.CORSOrigins)
}

// DatabaseConfig selects and tunes the persistence backend. An empty DSN
// selects the in-memory store.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" env:"DATABASE_DRIVER"`
	DSN             string        `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	AutoMigrate     bool          `yaml:"auto_migrate" env:"DATABASE_AUTO_MIGRATE"`
}

// AuthConfig holds JWT settings.
type AuthConfig struct {
	SecretKey       string        `yaml:"secret_key" env:"SECRET_KEY_JWT"`
	Algorithm       string        `yaml:"algorithm" env:"ALGORITHM"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL"`
	EmailTokenTTL   time.Duration `yaml:"email_token_ttl" env:"EMAIL_TOKEN_TTL"`
}

// MailConfig holds outbound SMTP settings. An empty Server disables delivery.
type MailConfig struct {
	Server    string `yaml:"server" env:"MAIL_SERVER"`
	Port      int    `yaml:"port" env:"MAIL_PORT"`
	Username  string `yaml:"username" env:"MAIL_USERNAME"`
	Password  string `yaml:"password" env:"MAIL_PASSWORD"`
	From      string `yaml:"from" env:"MAIL_FROM"`
	FromName  string `yaml:"from_name" env:"MAIL_FROM_NAME"`
	StartTLS  bool   `yaml:"starttls" env:"MAIL_STARTTLS"`
	SSLTLS    bool   `yaml:"ssl_tls" env:"MAIL_SSL_TLS"`
	Workers   int    `yaml:"workers" env:"MAIL_WORKERS"`
	QueueSize int    `yaml:"queue_size" env:"MAIL_QUEUE_SIZE"`
}

// Enabled reports whether an SMTP server is configured.
func (m MailConfig) Enabled() bool { return strings.TrimSpace(m.Server) != "" }

// RedisConfig points at the Redis instance used for rate limiting and caching.
// An empty Host disables Redis.
type RedisConfig struct {
	Host     string        `yaml:"host" env:"REDIS_DOMAIN"`
	Port     int           `yaml:"port" env:"REDIS_PORT"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB"`
	UserTTL  time.Duration `yaml:"user_cache_ttl" env:"REDIS_USER_CACHE_TTL"`
}

// Enabled reports whether Redis is configured.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

// Addr returns host:port.
func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%d", r.Host, r.Port) }

// RateLimitConfig bounds per-client request rates on protected routes.
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled" env:"RATE_LIMIT_ENABLED"`
	Requests int           `yaml:"requests" env:"RATE_LIMIT_REQUESTS"`
	Window   time.Duration `yaml:"window" env:"RATE_LIMIT_WINDOW"`
}

// ImagesConfig holds Cloudinary credentials for avatar uploads.
type ImagesConfig struct {
	CloudName string `yaml:"cloud_name" env:"CLD_NAME"`
	APIKey    string `yaml:"api_key" env:"CLD_API_KEY"`
	APISecret string `yaml:"api_secret" env:"CLD_API_SECRET"`
	BaseURL   string `yaml:"base_url" env:"CLD_BASE_URL"`
}

// Enabled reports whether avatar uploads are configured.
func (i ImagesConfig) Enabled() bool {
	return i.CloudName != "" && i.APIKey != "" && i.APISecret != ""
}

// SchedulerConfig holds cron specs for housekeeping jobs. An empty spec
// disables the job.
type SchedulerConfig struct {
	LimiterCleanup string `yaml:"limiter_cleanup" env:"SCHEDULE_LIMITER_CLEANUP"`
	BirthdayDigest string `yaml:"birthday_digest" env:"SCHEDULE_BIRTHDAY_DIGEST"`
}

// LoggingConfig mirrors logger.LoggingConfig.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
	Output string `yaml:"output" env:"LOG_OUTPUT"`
}

// Default returns the configuration used when nothing else is provided.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			CORSOrigins:     "http://localhost:8000",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Auth: AuthConfig{
			Algorithm:       "HS256",
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 7 * 24 * time.Hour,
			EmailTokenTTL:   24 * time.Hour,
		},
		Mail: MailConfig{
			Port:      465,
			FromName:  "Contacts Systems",
			SSLTLS:    true,
			Workers:   2,
			QueueSize: 100,
		},
		Redis: RedisConfig{
			Port:    6379,
			UserTTL: 15 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Requests: 1,
			Window:   20 * time.Second,
		},
		Scheduler: SchedulerConfig{
			LimiterCleanup: "@every 5m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load resolves configuration from defaults, YAML and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}
	return LoadFromPath(path, explicit)
}

// LoadFromPath is Load with an explicit YAML path. When required is false a
// missing file is ignored.
func LoadFromPath(path string, required bool) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !required:
		default:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.SecretKey) == "" {
		return errors.New("config: SECRET_KEY_JWT is required")
	}
	switch c.Auth.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("config: unsupported jwt algorithm %q", c.Auth.Algorithm)
	}
	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 || c.Auth.EmailTokenTTL <= 0 {
		return errors.New("config: token lifetimes must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		return errors.New("config: rate limit requires positive requests and window")
	}
	if c.Mail.Enabled() && strings.TrimSpace(c.Mail.From) == "" {
		return errors.New("config: MAIL_FROM is required when MAIL_SERVER is set")
	}
	return nil
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
