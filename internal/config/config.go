package config

import (
	"os"
	"strconv"
	"time"

	"deepwork/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Database  DatabaseConfig
	Ephemeral EphemeralConfig
	Server    ServerConfig
	Heartbeat HeartbeatConfig
	Scoring   ScoringConfig
}

// DatabaseConfig holds durable store connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// EphemeralConfig holds live-session cache settings
type EphemeralConfig struct {
	// Backend selects the ephemeral store adapter: "redis" for the
	// shared production cache, "memory" for single-node development.
	Backend  string
	RedisURL string
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port            string
	ShutdownTimeout time.Duration
}

// HeartbeatConfig holds the cadence filter tunables
type HeartbeatConfig struct {
	// MinInterval is the floor below which a heartbeat is accepted but
	// ignored, suppressing double-counting from retries and duplicate tabs
	MinInterval time.Duration
	// MaxGap is the ceiling above which a heartbeat is flagged as a
	// suspected suspension or tamper signal (advisory, log-only)
	MaxGap time.Duration
	// ExpectedInterval is the client's intended cadence; idle heartbeats
	// credit this many seconds to the idle counter
	ExpectedInterval time.Duration
}

// ScoringConfig holds the point economy tunables
type ScoringConfig struct {
	PointsPerMinute       int
	CompletionBonus       int
	PenaltyPerDistraction int
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	dbConfig, err := loadDatabaseConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load database configuration")
	}

	ephemeralConfig, err := loadEphemeralConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load ephemeral store configuration")
	}

	config := &Config{
		Database:  *dbConfig,
		Ephemeral: *ephemeralConfig,
		Server:    loadServerConfig(),
		Heartbeat: loadHeartbeatConfig(),
		Scoring:   loadScoringConfig(),
	}

	if config.Heartbeat.MinInterval >= config.Heartbeat.MaxGap {
		return nil, errors.ConfigInvalid("HEARTBEAT_MIN_INTERVAL must be below HEARTBEAT_MAX_GAP")
	}

	return config, nil
}

func loadDatabaseConfig() (*DatabaseConfig, error) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		return nil, errors.ConfigInvalid("DATABASE_URL is required")
	}

	return &DatabaseConfig{
		URL:             url,
		MaxOpenConns:    getEnvIntOrDefault("DB_MAX_OPEN_CONNS", 20),
		ConnMaxLifetime: getEnvDurationOrDefault("DB_CONN_MAX_LIFETIME", 30*time.Minute),
	}, nil
}

func loadEphemeralConfig() (*EphemeralConfig, error) {
	backend := getEnvOrDefault("EPHEMERAL_BACKEND", "redis")
	switch backend {
	case "redis", "memory":
	default:
		return nil, errors.ConfigInvalid("EPHEMERAL_BACKEND must be redis or memory")
	}

	redisURL := getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0")
	if backend == "redis" && redisURL == "" {
		return nil, errors.ConfigInvalid("REDIS_URL is required for the redis backend")
	}

	return &EphemeralConfig{
		Backend:  backend,
		RedisURL: redisURL,
	}, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Port:            getEnvOrDefault("PORT", "8080"),
		ShutdownTimeout: getEnvDurationOrDefault("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func loadHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		MinInterval:      getEnvDurationOrDefault("HEARTBEAT_MIN_INTERVAL", 3*time.Second),
		MaxGap:           getEnvDurationOrDefault("HEARTBEAT_MAX_GAP", 60*time.Second),
		ExpectedInterval: getEnvDurationOrDefault("HEARTBEAT_EXPECTED_INTERVAL", 5*time.Second),
	}
}

func loadScoringConfig() ScoringConfig {
	return ScoringConfig{
		PointsPerMinute:       getEnvIntOrDefault("POINTS_PER_MINUTE", 10),
		CompletionBonus:       getEnvIntOrDefault("COMPLETION_BONUS", 50),
		PenaltyPerDistraction: getEnvIntOrDefault("PENALTY_PER_DISTRACTION", 10),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
