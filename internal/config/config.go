package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/waqas385/wacommerce/pkg/config"
	"github.com/waqas385/wacommerce/pkg/database"
	"github.com/waqas385/wacommerce/pkg/tracing"
)

// Config holds all configuration for the cart service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"CART_HTTP_PORT" envDefault:"8003"`

	// Postgres
	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"storefront"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"storefront"`
	PostgresDB       string `env:"POSTGRES_DB" envDefault:"storefront"`
	PostgresSSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"disable"`

	// Redis
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Product snapshots cached in Redis, in minutes.
	ProductCacheTTL int `env:"PRODUCT_CACHE_TTL_MINUTES" envDefault:"10"`

	// Cart sessions evicted after this much inactivity, in minutes.
	SessionTTL   int `env:"CART_SESSION_TTL_MINUTES" envDefault:"30"`
	SessionSweep int `env:"CART_SESSION_SWEEP_SECONDS" envDefault:"60"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Tracing
	TracingEnabled  bool    `env:"TRACING_ENABLED" envDefault:"false"`
	OTLPEndpoint    string  `env:"OTLP_ENDPOINT" envDefault:"localhost:4318"`
	TraceSampleRate float64 `env:"TRACE_SAMPLE_RATE" envDefault:"1.0"`

	// CIDRs allowed to reach the pprof endpoints; empty disables them.
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.0/8" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load cart config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.SessionTTL < 1 {
		return fmt.Errorf("invalid session TTL: %d minutes", c.SessionTTL)
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		return fmt.Errorf("invalid trace sample rate: %f", c.TraceSampleRate)
	}
	return nil
}

// Postgres returns the pool configuration derived from the environment.
func (c *Config) Postgres() database.PostgresConfig {
	return database.PostgresConfig{
		Host:     c.PostgresHost,
		Port:     c.PostgresPort,
		User:     c.PostgresUser,
		Password: c.PostgresPassword,
		DBName:   c.PostgresDB,
		SSLMode:  c.PostgresSSLMode,
	}
}

// Redis returns the client configuration derived from the environment.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

// Tracing returns the tracer configuration for this service.
func (c *Config) Tracing(version string) tracing.Config {
	return tracing.Config{
		ServiceName:    "cart",
		ServiceVersion: version,
		Environment:    c.Environment,
		OTLPEndpoint:   c.OTLPEndpoint,
		SampleRate:     c.TraceSampleRate,
		Enabled:        c.TracingEnabled,
	}
}

// ProductCacheTTLDuration returns the product snapshot cache TTL.
func (c *Config) ProductCacheTTLDuration() time.Duration {
	return time.Duration(c.ProductCacheTTL) * time.Minute
}

// SessionTTLDuration returns the idle session eviction TTL.
func (c *Config) SessionTTLDuration() time.Duration {
	return time.Duration(c.SessionTTL) * time.Minute
}

// SessionSweepInterval returns how often idle sessions are swept.
func (c *Config) SessionSweepInterval() time.Duration {
	return time.Duration(c.SessionSweep) * time.Second
}
