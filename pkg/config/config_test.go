// pkg/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Database:     &DatabaseConfig{Driver: DriverSQLite, Path: "trips.db"},
		InputPath:    "trips.csv",
		Table:        "trips",
		ChunkSize:    1000,
		BatchSize:    100,
		DistanceUnit: "km",
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing input", func(c *Config) { c.InputPath = "" }},
		{"missing table", func(c *Config) { c.Table = "" }},
		{"zero chunk size", func(c *Config) { c.ChunkSize = 0 }},
		{"negative batch size", func(c *Config) { c.BatchSize = -1 }},
		{"bad distance unit", func(c *Config) { c.DistanceUnit = "furlongs" }},
		{"negative retries", func(c *Config) { c.RetryAttempts = -1 }},
		{"nil database", func(c *Config) { c.Database = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadDatabaseConfigSQLite(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/test-trips.db")

	cfg, err := LoadDatabaseConfig()
	require.NoError(t, err)
	require.Equal(t, DriverSQLite, cfg.Driver)
	require.Equal(t, "/tmp/test-trips.db", cfg.Path)
	require.Equal(t, 1, cfg.MaxOpenConns, "sqlite is single-writer")
	require.Equal(t, "/tmp/test-trips.db", cfg.DSN())
}

func TestLoadDatabaseConfigPostgres(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("POSTGRES_USER", "etl")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("POSTGRES_DB", "trips")
	t.Setenv("POSTGRES_PORT", "5433")

	cfg, err := LoadDatabaseConfig()
	require.NoError(t, err)
	require.Equal(t, DriverPostgres, cfg.Driver)
	require.Equal(t, 5433, cfg.Port)
	require.Contains(t, cfg.DSN(), "dbname=trips")
	require.Contains(t, cfg.DSN(), "sslmode=disable")
}

func TestLoadDatabaseConfigPostgresRequiresCredentials(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("POSTGRES_USER", "")
	t.Setenv("POSTGRES_PASSWORD", "")
	t.Setenv("POSTGRES_DB", "")

	_, err := LoadDatabaseConfig()
	require.Error(t, err)
	require.Contains(t, err.Error(), "POSTGRES_USER")
}

func TestLoadDatabaseConfigUnknownDriver(t *testing.T) {
	t.Setenv("DB_DRIVER", "oracle")
	_, err := LoadDatabaseConfig()
	require.Error(t, err)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "km", cfg.DistanceUnit)
	require.True(t, cfg.UseSourceDistance)
	require.Equal(t, 3, cfg.RetryAttempts)
	require.Equal(t, 500*time.Millisecond, cfg.RetryDelay)
	require.Equal(t, ":8080", cfg.ListenAddr)

	// Run parameters have no defaults; an unconfigured run must not validate.
	require.Error(t, cfg.Validate())
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STR", "value")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "not-a-number")
	t.Setenv("TEST_BOOL", "true")

	require.Equal(t, "value", getEnv("TEST_STR", "fallback"))
	require.Equal(t, "fallback", getEnv("TEST_UNSET_KEY", "fallback"))
	require.Equal(t, 42, getEnvAsInt("TEST_INT", 7))
	require.Equal(t, 7, getEnvAsInt("TEST_BAD_INT", 7))
	require.True(t, getEnvAsBool("TEST_BOOL", false))
	require.False(t, getEnvAsBool("TEST_UNSET_KEY", false))
}
