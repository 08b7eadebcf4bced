package config

import (
	"fmt"
	"time"

	"github.com/edufelip/meer-api/internal/identity"
	pkgconfig "github.com/edufelip/meer-api/pkg/config"
	"github.com/edufelip/meer-api/pkg/database"
	"github.com/edufelip/meer-api/pkg/tracing"
)

// defaultJWTSecret is only acceptable in development.
const defaultJWTSecret = "change-this-to-a-secure-secret-for-dev"

const minJWTSecretLength = 32

// Config holds all configuration for the auth service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Version     string `env:"SERVICE_VERSION" envDefault:"dev"`

	// HTTP server
	HTTPPort            int           `env:"HTTP_PORT" envDefault:"8080"`
	HTTPReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	HTTPShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"20s"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"meer"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"meer_secret"`
	PostgresDB   string `env:"POSTGRES_DB" envDefault:"meer"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	DBMaxConns   int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns   int32  `env:"DB_MIN_CONNS" envDefault:"2"`

	SlowQueryThresholdMs int `env:"DB_SLOW_QUERY_THRESHOLD_MS" envDefault:"200"`

	// Redis is optional; an empty address disables the shared key cache.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka is optional; no brokers means registration events are dropped.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`

	// JWT
	JWTSecret           string `env:"SECURITY_JWT_SECRET" envDefault:"change-this-to-a-secure-secret-for-dev"`
	JWTIssuer           string `env:"SECURITY_JWT_ISSUER" envDefault:"meer"`
	JWTAccessTTLMinutes int    `env:"SECURITY_JWT_ACCESS_TTL_MINUTES" envDefault:"60"`
	JWTRefreshTTLDays   int    `env:"SECURITY_JWT_REFRESH_TTL_DAYS" envDefault:"7"`
	BcryptCost          int    `env:"BCRYPT_COST" envDefault:"12"`

	// Google Sign-In
	GoogleAndroidClientID string   `env:"SECURITY_GOOGLE_ANDROID_CLIENT_ID"`
	GoogleIOSClientID     string   `env:"SECURITY_GOOGLE_IOS_CLIENT_ID"`
	GoogleWebClientID     string   `env:"SECURITY_GOOGLE_WEB_CLIENT_ID"`
	GoogleCertsURL        string   `env:"GOOGLE_CERTS_URL" envDefault:"https://www.googleapis.com/oauth2/v3/certs"`
	GoogleIssuers         []string `env:"GOOGLE_ISSUERS" envDefault:"accounts.google.com,https://accounts.google.com" envSeparator:","`

	// Sign in with Apple
	AppleBundleID string `env:"SECURITY_APPLE_BUNDLE_ID"`
	AppleKeysURL  string `env:"APPLE_KEYS_URL" envDefault:"https://appleid.apple.com/auth/keys"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// OpenTelemetry
	OTelEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTelInsecure   bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	OTelSampleRate float64 `env:"OTEL_TRACES_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load auth config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.JWTAccessTTLMinutes <= 0 {
		return fmt.Errorf("SECURITY_JWT_ACCESS_TTL_MINUTES must be positive, got %d", c.JWTAccessTTLMinutes)
	}
	if c.JWTRefreshTTLDays <= 0 {
		return fmt.Errorf("SECURITY_JWT_REFRESH_TTL_DAYS must be positive, got %d", c.JWTRefreshTTLDays)
	}
	if c.RefreshTTL() <= c.AccessTTL() {
		return fmt.Errorf("refresh token TTL (%s) must exceed access token TTL (%s)", c.RefreshTTL(), c.AccessTTL())
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.OTelSampleRate < 0 || c.OTelSampleRate > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLE_RATE must be within [0, 1], got %v", c.OTelSampleRate)
	}

	// In non-development environments, require an explicitly set, strong JWT secret.
	if !c.IsDevelopment() {
		if c.JWTSecret == defaultJWTSecret {
			return fmt.Errorf("SECURITY_JWT_SECRET must be explicitly set via environment variable in %q mode", c.Environment)
		}
		if len(c.JWTSecret) < minJWTSecretLength {
			return fmt.Errorf("SECURITY_JWT_SECRET must be at least %d characters long, got %d", minJWTSecretLength, len(c.JWTSecret))
		}
	}
	return nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// AccessTTL is the lifetime of access tokens.
func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.JWTAccessTTLMinutes) * time.Minute
}

// RefreshTTL is the lifetime of refresh tokens.
func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.JWTRefreshTTLDays) * 24 * time.Hour
}

// Postgres returns the connection settings for the user directory.
func (c *Config) Postgres() *database.PostgresConfig {
	return &database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// Redis returns the Redis settings.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

// GoogleClients returns the OAuth client id registered per platform.
func (c *Config) GoogleClients() identity.ClientIDs {
	return identity.ClientIDs{
		Android: c.GoogleAndroidClientID,
		IOS:     c.GoogleIOSClientID,
		Web:     c.GoogleWebClientID,
	}
}

// Tracing returns the OpenTelemetry settings.
func (c *Config) Tracing(serviceName string) tracing.Config {
	return tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: c.Version,
		Environment:    c.Environment,
		OTLPEndpoint:   c.OTelEndpoint,
		SampleRate:     c.OTelSampleRate,
		Insecure:       c.OTelInsecure,
		Enabled:        c.OTelEnabled,
	}
}
