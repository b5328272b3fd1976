package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	NodeEnv  string
	Port     string
	Database DatabaseConfig
	Redis    RedisConfig
	Import   ImportConfig
	Log      LogConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Alter    bool

	// EmbeddedDataPath is where the embedded postgres keeps its files
	EmbeddedDataPath string
	EmbeddedPort     int
}

// RedisConfig holds the redis connection used for commit locks.
// An empty Address disables redis and falls back to in-process locks.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// ImportConfig holds tuning for the Arkik import engine
type ImportConfig struct {
	PlantID              string
	PlantCode            string
	CallTimeout          time.Duration // per lookup/write call
	MaxRetries           int
	RetryBackoff         time.Duration
	Parallelism          int
	LockTTL              time.Duration
	AutoAcceptThreshold  float64
	AdjacentDays         bool // widen order search to +/- 1 day
	AllowAssignedTargets bool
	SessionTTL           time.Duration
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string
	Format string // json or text
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		NodeEnv: getEnv("NODE_ENV", "development"),
		Port:    getEnv("PORT", "3210"),
		Database: DatabaseConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "arkik"),
			Alter:    getEnvBool("DB_ALTER", false),

			EmbeddedDataPath: getEnv("PG_EMBEDDED_PATH", "./db_data"),
			EmbeddedPort:     getEnvInt("PG_EMBEDDED_PORT", 5433),
		},
		Redis: RedisConfig{
			Address:  os.Getenv("REDIS_ADDRESS"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Import: ImportConfig{
			PlantID:              os.Getenv("ARKIK_PLANT_ID"),
			PlantCode:            getEnv("ARKIK_PLANT_CODE", "P001"),
			CallTimeout:          getEnvDuration("ARKIK_CALL_TIMEOUT", 10*time.Second),
			MaxRetries:           getEnvInt("ARKIK_MAX_RETRIES", 3),
			RetryBackoff:         getEnvDuration("ARKIK_RETRY_BACKOFF", 200*time.Millisecond),
			Parallelism:          getEnvInt("ARKIK_PARALLELISM", 8),
			LockTTL:              getEnvDuration("ARKIK_LOCK_TTL", 30*time.Second),
			AutoAcceptThreshold:  getEnvFloat("ARKIK_AUTO_ACCEPT_THRESHOLD", 80),
			AdjacentDays:         getEnvBool("ARKIK_ADJACENT_DAYS", true),
			AllowAssignedTargets: getEnvBool("ARKIK_ALLOW_ASSIGNED_TARGETS", false),
			SessionTTL:           getEnvDuration("ARKIK_SESSION_TTL", 4*time.Hour),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if cfg.Import.Parallelism < 1 {
		return nil, fmt.Errorf("ARKIK_PARALLELISM must be at least 1, got %d", cfg.Import.Parallelism)
	}
	if cfg.Import.MaxRetries < 0 {
		return nil, fmt.Errorf("ARKIK_MAX_RETRIES must not be negative, got %d", cfg.Import.MaxRetries)
	}

	return cfg, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultValue
}
