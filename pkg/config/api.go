package config

import (
	"fmt"
	"strings"
)

// APIConfig contains the read-only query API settings.
type APIConfig struct {
	Enabled     bool              `yaml:"enabled" mapstructure:"enabled"`
	Listen      string            `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string          `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
	Annotators  []AnnotatorConfig `yaml:"annotators,omitempty" mapstructure:"annotators"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// AnnotatorConfig is an operator allowed to write failure annotations.
// PasswordHash is a bcrypt hash; plain text passwords are never stored.
type AnnotatorConfig struct {
	Username     string `yaml:"username" mapstructure:"username"`
	PasswordHash string `yaml:"password_hash" mapstructure:"password_hash"`
}

// Validate checks the API configuration for errors.
func (c *APIConfig) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must be positive")
	}

	seen := make(map[string]struct{}, len(c.Annotators))

	for i, a := range c.Annotators {
		if a.Username == "" {
			return fmt.Errorf("annotator %d: username is required", i)
		}

		if _, ok := seen[a.Username]; ok {
			return fmt.Errorf("annotator %d: duplicate username %q", i, a.Username)
		}

		seen[a.Username] = struct{}{}

		if !strings.HasPrefix(a.PasswordHash, "$2") {
			return fmt.Errorf("annotator %q: password_hash must be a bcrypt hash", a.Username)
		}
	}

	return nil
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver       string               `yaml:"driver" mapstructure:"driver"`
	TablePrefix  string               `yaml:"table_prefix" mapstructure:"table_prefix"`
	MaxOpenConns int                  `yaml:"max_open_conns,omitempty" mapstructure:"max_open_conns"`
	SQLite       SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres     PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
	MySQL        MySQLConfig          `yaml:"mysql,omitempty" mapstructure:"mysql"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// MySQLConfig contains MySQL/MariaDB connection settings.
type MySQLConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
}

// Validate checks the database configuration for errors.
func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case "sqlite":
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path is required")
		}
	case "postgres":
		if c.Postgres.Host == "" || c.Postgres.Database == "" {
			return fmt.Errorf("postgres.host and postgres.database are required")
		}
	case "mysql":
		if c.MySQL.Host == "" || c.MySQL.Database == "" {
			return fmt.Errorf("mysql.host and mysql.database are required")
		}
	default:
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}

	return nil
}
