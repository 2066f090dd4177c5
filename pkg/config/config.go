// pkg/config/config.go
package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Config represents the application configuration. Database credentials and
// tuning knobs come from the environment. The per-run ETL parameters (input,
// table, chunk size, batch size) are explicit and have no hidden defaults:
// the caller sets them and Validate rejects a run that is missing any.
type Config struct {
	Database *DatabaseConfig

	// ETL run parameters (required, no defaults)
	InputPath string
	Table     string
	ChunkSize int
	BatchSize int

	// Cleaning behavior
	DistanceUnit      string // "km" or "mi"; how to read the source distance column
	UseSourceDistance bool   // prefer the source distance column over haversine

	// Exclusion log
	ExclusionLogPath      string
	OverwriteExclusionLog bool

	// Load retry settings
	RetryAttempts int
	RetryDelay    time.Duration

	// HTTP API
	ListenAddr string

	// Logging
	LogLevel  string
	LogFormat string
}

// LoadConfig loads the environment-backed configuration. The explicit run
// parameters are left zero for the caller (CLI flags) to fill in.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DistanceUnit:          getEnv("DISTANCE_UNIT", "km"),
		UseSourceDistance:     getEnvAsBool("USE_SOURCE_DISTANCE", true),
		ExclusionLogPath:      getEnv("EXCLUSION_LOG", "data/logs/exclusions.csv"),
		OverwriteExclusionLog: getEnvAsBool("EXCLUSION_LOG_OVERWRITE", false),
		RetryAttempts:         getEnvAsInt("RETRY_ATTEMPTS", 3),
		RetryDelay:            time.Duration(getEnvAsInt("RETRY_DELAY_MS", 500)) * time.Millisecond,
		ListenAddr:            getEnv("LISTEN_ADDR", ":8080"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "json"),
	}

	dbConfig, err := LoadDatabaseConfig()
	if err != nil {
		return nil, errors.New("failed to load database configuration: " + err.Error())
	}
	cfg.Database = dbConfig

	return cfg, nil
}

// Validate ensures all required run configuration is present and valid.
// A missing chunk or batch size is a configuration error, not a silent
// fallback.
func (c *Config) Validate() error {
	if c.Database == nil {
		return errors.New("database configuration is required")
	}

	if c.InputPath == "" {
		return errors.New("input path is required")
	}

	if c.Table == "" {
		return errors.New("target table name is required")
	}

	if c.ChunkSize <= 0 {
		return errors.New("chunk size is required and must be positive")
	}

	if c.BatchSize <= 0 {
		return errors.New("batch size is required and must be positive")
	}

	if c.DistanceUnit != "km" && c.DistanceUnit != "mi" {
		return errors.New("distance unit must be \"km\" or \"mi\"")
	}

	if c.RetryAttempts < 0 {
		return errors.New("retry attempts cannot be negative")
	}

	return nil
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
