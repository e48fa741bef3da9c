package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
// ⭐ SSOT: every environment variable is read here and nowhere else
type Config struct {
	Env string // development, staging, production

	// Database
	Database DatabaseConfig

	// Redis (signal sink, heartbeats, run-lock)
	Redis RedisConfig

	// Backtest evaluator (external service, consumed as a pure function)
	Backtest BacktestConfig

	// Strategy / universe contract files (YAML, validated at startup)
	StrategyConfigPath string
	UniverseConfigPath string

	// ArtifactDir is the immutable model artifact store root.
	ArtifactDir string

	// Inference worker
	Worker WorkerConfig

	// Ops status server
	OpsPort string

	// Logging
	LogLevel  string
	LogFormat string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// BacktestConfig holds the external backtest evaluator endpoint
type BacktestConfig struct {
	BaseURL        string
	Timeout        time.Duration
	RequestsPerSec float64
}

// WorkerConfig holds decision worker settings
type WorkerConfig struct {
	// WorkerID identifies this inference process in heartbeat keys.
	WorkerID string

	// TickInterval is the inference cadence per pair.
	TickInterval time.Duration

	// HeartbeatInterval is the liveness heartbeat cadence; the heartbeat
	// key TTL is twice this interval.
	HeartbeatInterval time.Duration

	// SignalTTL bounds each emitted signal's valid_until deadline.
	SignalTTL time.Duration

	// FXMaxAge is the staleness bound on currency reference rates.
	// Signals fail closed beyond it.
	FXMaxAge time.Duration
}

// Load reads configuration from environment variables
// ⭐ SSOT: this is the only function that calls os.Getenv()
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Env: getEnv("ENV", "development"),

		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},

		Backtest: BacktestConfig{
			BaseURL:        os.Getenv("BACKTEST_ENGINE_URL"),
			Timeout:        getEnvAsDuration("BACKTEST_TIMEOUT", "5m"),
			RequestsPerSec: getEnvAsFloat("BACKTEST_RPS", 2.0),
		},

		StrategyConfigPath: os.Getenv("STRATEGY_CONFIG"),
		UniverseConfigPath: os.Getenv("UNIVERSE_CONFIG"),

		ArtifactDir: getEnv("ARTIFACT_DIR", "artifacts"),

		Worker: WorkerConfig{
			WorkerID:          getEnv("WORKER_ID", ""),
			TickInterval:      getEnvAsDuration("WORKER_TICK_INTERVAL", "1m"),
			HeartbeatInterval: getEnvAsDuration("WORKER_HEARTBEAT_INTERVAL", "30s"),
			SignalTTL:         getEnvAsDuration("SIGNAL_TTL", "90s"),
			FXMaxAge:          getEnvAsDuration("FX_MAX_AGE", "5m"),
		},

		OpsPort: getEnv("OPS_PORT", "8090"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks required configuration values.
// A missing required key is a startup-time fatal error, never a silent default.
func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Backtest.BaseURL == "" {
		return fmt.Errorf("BACKTEST_ENGINE_URL is required")
	}
	if c.StrategyConfigPath == "" {
		return fmt.Errorf("STRATEGY_CONFIG is required")
	}
	if c.UniverseConfigPath == "" {
		return fmt.Errorf("UNIVERSE_CONFIG is required")
	}
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}
	if c.Worker.TickInterval <= 0 {
		return fmt.Errorf("WORKER_TICK_INTERVAL must be positive")
	}
	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("WORKER_HEARTBEAT_INTERVAL must be positive")
	}
	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{
		".env",
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
