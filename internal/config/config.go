// Package config loads the clinicauth-server configuration: built-in
// defaults, then an optional YAML file, then environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"

	clinicAuth "github.com/MrEthical07/clinicAuth"
)

// Config is the root server configuration.
type Config struct {
	Environment string          `yaml:"environment" env:"CLINICAUTH_ENV"`
	HTTP        HTTPConfig      `yaml:"http"`
	Log         LogConfig       `yaml:"log"`
	Redis       RedisConfig     `yaml:"redis"`
	Postgres    PostgresConfig  `yaml:"postgres"`
	Kafka       KafkaConfig     `yaml:"kafka"`
	Auth        AuthConfig      `yaml:"auth"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	Metrics     MetricsConfig   `yaml:"metrics"`
}

// HTTPConfig contains listener settings.
type HTTPConfig struct {
	Addr            string        `yaml:"addr" env:"CLINICAUTH_HTTP_ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"CLINICAUTH_HTTP_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"CLINICAUTH_HTTP_WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"CLINICAUTH_HTTP_IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"CLINICAUTH_SHUTDOWN_TIMEOUT"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

// PostgresConfig holds the account database. DurableLedger moves refresh
// tokens from Redis to the refresh_tokens table.
type PostgresConfig struct {
	DSN           string `yaml:"dsn" env:"DATABASE_URL"`
	MaxConns      int32  `yaml:"max_conns" env:"DATABASE_MAX_CONNS"`
	DurableLedger bool   `yaml:"durable_ledger" env:"DATABASE_DURABLE_LEDGER"`
	Migrate       bool   `yaml:"migrate" env:"DATABASE_MIGRATE"`
}

// KafkaConfig enables the notification publisher when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
	Topic   string   `yaml:"topic" env:"KAFKA_NOTIFICATION_TOPIC"`
}

type AuthConfig struct {
	SigningMethod  string        `yaml:"signing_method" env:"JWT_SIGNING_METHOD"`
	Secret         string        `yaml:"secret" env:"JWT_SECRET"`
	PrivateKeyFile string        `yaml:"private_key_file" env:"JWT_PRIVATE_KEY_FILE"`
	PublicKeyFile  string        `yaml:"public_key_file" env:"JWT_PUBLIC_KEY_FILE"`
	Issuer         string        `yaml:"issuer" env:"JWT_ISSUER"`
	Audience       string        `yaml:"audience" env:"JWT_AUDIENCE"`
	AccessTTL      time.Duration `yaml:"access_ttl" env:"JWT_ACCESS_TTL"`
	RefreshTTL     time.Duration `yaml:"refresh_ttl" env:"JWT_REFRESH_TTL"`
	CookieSecure   bool          `yaml:"cookie_secure" env:"COOKIE_SECURE"`
	ResetBaseURL   string        `yaml:"reset_base_url" env:"PASSWORD_RESET_BASE_URL"`
	AuditEnabled   bool          `yaml:"audit" env:"AUDIT_ENABLED"`

	SuperAdminEmail        string `yaml:"super_admin_email" env:"SUPER_ADMIN_EMAIL"`
	SuperAdminPasswordHash string `yaml:"super_admin_password_hash" env:"SUPER_ADMIN_PASSWORD_HASH"`
}

// RateLimitConfig is the per-IP limit on credential endpoints.
type RateLimitConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second" env:"RATE_LIMIT_RPS"`
	Burst             int           `yaml:"burst" env:"RATE_LIMIT_BURST"`
	IdleTTL           time.Duration `yaml:"idle_ttl" env:"RATE_LIMIT_IDLE_TTL"`
}

type MetricsConfig struct {
	Enabled    bool `yaml:"enabled" env:"METRICS_ENABLED"`
	Histograms bool `yaml:"histograms" env:"METRICS_HISTOGRAMS"`
	OTel       bool `yaml:"otel" env:"METRICS_OTEL"`
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Environment: "development",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 20 * time.Second,
		},
		Log:   LogConfig{Level: "info"},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Postgres: PostgresConfig{
			MaxConns: 10,
		},
		Kafka: KafkaConfig{
			Topic: "clinicauth.notifications",
		},
		Auth: AuthConfig{
			SigningMethod: "hs256",
			Issuer:        "clinicauth",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			CookieSecure:  true,
			ResetBaseURL:  "http://localhost:3000",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 5,
			Burst:             10,
			IdleTTL:           10 * time.Minute,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.HTTP.Addr == "" {
		errs = append(errs, "http.addr is required")
	}
	if c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required")
	}
	if c.Postgres.DSN == "" {
		errs = append(errs, "postgres.dsn is required (set DATABASE_URL)")
	}
	if c.Postgres.MaxConns < 1 {
		errs = append(errs, "postgres.max_conns must be positive")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, "kafka.topic is required when brokers are set")
	}

	switch c.Auth.SigningMethod {
	case "hs256":
		const minSecretLength = 32
		if len(c.Auth.Secret) < minSecretLength {
			errs = append(errs, "auth.secret must be at least 32 characters (set JWT_SECRET)")
		}
	case "ed25519":
		if c.Auth.PrivateKeyFile == "" || c.Auth.PublicKeyFile == "" {
			errs = append(errs, "auth.private_key_file and auth.public_key_file are required for ed25519")
		}
	default:
		errs = append(errs, fmt.Sprintf("auth.signing_method %q is not supported", c.Auth.SigningMethod))
	}
	if (c.Auth.SuperAdminEmail == "") != (c.Auth.SuperAdminPasswordHash == "") {
		errs = append(errs, "auth.super_admin_email and auth.super_admin_password_hash must be set together")
	}

	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, "rate_limit values must be non-negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// EngineConfig maps the server settings onto the engine defaults, reading
// key files for ed25519.
func (c *Config) EngineConfig() (clinicAuth.Config, error) {
	cfg := clinicAuth.DefaultConfig()

	cfg.JWT.SigningMethod = c.Auth.SigningMethod
	cfg.JWT.Issuer = c.Auth.Issuer
	cfg.JWT.Audience = c.Auth.Audience
	if c.Auth.AccessTTL > 0 {
		cfg.JWT.AccessTTL = c.Auth.AccessTTL
	}
	if c.Auth.RefreshTTL > 0 {
		cfg.JWT.RefreshTTL = c.Auth.RefreshTTL
	}

	switch c.Auth.SigningMethod {
	case "hs256":
		cfg.JWT.PrivateKey = []byte(c.Auth.Secret)
	case "ed25519":
		priv, err := os.ReadFile(c.Auth.PrivateKeyFile)
		if err != nil {
			return clinicAuth.Config{}, fmt.Errorf("reading private key: %w", err)
		}
		pub, err := os.ReadFile(c.Auth.PublicKeyFile)
		if err != nil {
			return clinicAuth.Config{}, fmt.Errorf("reading public key: %w", err)
		}
		cfg.JWT.PrivateKey = priv
		cfg.JWT.PublicKey = pub
	}

	cfg.Cookies.Secure = c.Auth.CookieSecure
	cfg.PasswordReset.BaseURL = c.Auth.ResetBaseURL
	cfg.SuperAdmin.Email = c.Auth.SuperAdminEmail
	cfg.SuperAdmin.PasswordHash = c.Auth.SuperAdminPasswordHash
	cfg.Audit.Enabled = c.Auth.AuditEnabled
	cfg.Metrics.Enabled = c.Metrics.Enabled
	cfg.Metrics.EnableLatencyHistograms = c.Metrics.Histograms

	if err := cfg.Validate(); err != nil {
		return clinicAuth.Config{}, err
	}
	return cfg, nil
}
