// pkg/config/database.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Supported sink drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig holds sink connection parameters. The sink is PostgreSQL in
// production; SQLite is supported for local development and tests.
type DatabaseConfig struct {
	Driver string

	// PostgreSQL parameters
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// SQLite parameter
	Path string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Statement timeout
	StatementTimeout time.Duration
}

// LoadDatabaseConfig loads sink configuration from environment variables.
func LoadDatabaseConfig() (*DatabaseConfig, error) {
	driver := getEnv("DB_DRIVER", DriverPostgres)

	cfg := &DatabaseConfig{
		Driver: driver,

		MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime:  time.Duration(getEnvAsInt("DB_CONN_MAX_LIFETIME_SECONDS", 1800)) * time.Second,
		ConnMaxIdleTime:  time.Duration(getEnvAsInt("DB_CONN_MAX_IDLE_TIME_SECONDS", 600)) * time.Second,
		StatementTimeout: time.Duration(getEnvAsInt("DB_STATEMENT_TIMEOUT_SECONDS", 300)) * time.Second,
	}

	switch driver {
	case DriverPostgres:
		user := os.Getenv("POSTGRES_USER")
		if user == "" {
			return nil, errors.New("POSTGRES_USER environment variable is required")
		}

		password := os.Getenv("POSTGRES_PASSWORD")
		if password == "" {
			return nil, errors.New("POSTGRES_PASSWORD environment variable is required")
		}

		database := os.Getenv("POSTGRES_DB")
		if database == "" {
			return nil, errors.New("POSTGRES_DB environment variable is required")
		}

		cfg.User = user
		cfg.Password = password
		cfg.Database = database
		cfg.Host = getEnv("POSTGRES_HOST", "localhost")
		cfg.Port = getEnvAsInt("POSTGRES_PORT", 5432)
		cfg.SSLMode = getEnv("POSTGRES_SSLMODE", "disable")

	case DriverSQLite:
		cfg.Path = getEnv("SQLITE_PATH", "data/trips.db")
		// A single writer; pooling does more harm than good here.
		cfg.MaxOpenConns = 1

	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	return cfg, nil
}

// DSN returns the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == DriverSQLite {
		return c.Path
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Database,
		c.SSLMode,
	)
}
