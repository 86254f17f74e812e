package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the application.
type Config struct {
	Server  ServerConfig
	DB      DBConfig
	Log     LogConfig
	Coupon  CouponConfig
	Sweeper SweeperConfig
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port            string `envconfig:"SERVER_PORT" default:"3000"`
	ShutdownTimeout int    `envconfig:"SHUTDOWN_TIMEOUT" default:"30"` // seconds
}

// DBConfig holds database-related configuration.
// WARNING: Default password is for local development only.
// In production, always set DB_PASSWORD via environment variable.
// In production, set DB_SSLMODE to "require" or "verify-full".
type DBConfig struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER" default:"postgres"`
	Password string `envconfig:"DB_PASSWORD" default:"postgres"` // CHANGE IN PRODUCTION
	Name     string `envconfig:"DB_NAME" default:"coupon_book_db"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"` // Use "require" in production
	MaxConns int    `envconfig:"DB_MAX_CONNS" default:"25"`
	MinConns int    `envconfig:"DB_MIN_CONNS" default:"5"`
}

// DSN returns the PostgreSQL connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d&pool_min_conns=%d",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode, c.MaxConns, c.MinConns)
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Pretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// CouponConfig holds the coupon lifecycle tunables.
type CouponConfig struct {
	// LockTTLSeconds is how long a redemption lock is held before it
	// logically expires.
	LockTTLSeconds int `envconfig:"LOCK_TTL_SECONDS" default:"300"`
	// TxMaxRetries bounds retries of serialization/deadlock failures
	// before an operation reports contention.
	TxMaxRetries int `envconfig:"TX_MAX_RETRIES" default:"3"`
	// LockTimeoutMS bounds how long a blocking FOR UPDATE may wait
	// inside a distribution transaction.
	LockTimeoutMS int `envconfig:"LOCK_TIMEOUT_MS" default:"3000"`
	// CodeCharset is the alphabet generated codes are drawn from.
	CodeCharset string `envconfig:"CODE_CHARSET" default:"ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"`
}

// LockTTL returns the lock TTL as a duration.
func (c CouponConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// SweeperConfig holds the expired-lock sweeper configuration.
// The sweeper only keeps the read path tidy; lazy expiry inside the
// transition transactions is what correctness relies on.
type SweeperConfig struct {
	Enabled         bool `envconfig:"SWEEPER_ENABLED" default:"true"`
	IntervalSeconds int  `envconfig:"SWEEPER_INTERVAL_SECONDS" default:"60"`
}

// Interval returns the sweep interval as a duration.
func (c SweeperConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Load parses environment variables into the Config struct.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
