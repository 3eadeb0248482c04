package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all application configuration
type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	ListenAddr string
	CronSecret string

	DaysAhead      int
	StalenessHours int
	BatchWorkers   int
	MatchTimeout   time.Duration

	MinTuningSample  int
	TuningWindowDays int

	NewsAPIURL string
	NewsAPIKey string

	LogLevel string
}

// Load initializes configuration from environment variables
func Load() (*Config, error) {
	// Load environment variables from .env file if present
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg(".env file not found, relying on actual environment variables")
	}

	cfg := &Config{
		DBHost:     getEnvWithDefault("DB_HOST", "localhost"),
		DBPort:     getEnvWithDefault("DB_PORT", "5432"),
		DBUser:     getEnvWithDefault("DB_USER", "postgres"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnvWithDefault("DB_NAME", "predictor"),
		DBSSLMode:  getEnvWithDefault("DB_SSLMODE", "disable"),

		ListenAddr: getEnvWithDefault("LISTEN_ADDR", ":8080"),
		CronSecret: os.Getenv("CRON_SECRET"),

		DaysAhead:      getEnvIntWithDefault("DAYS_AHEAD", 7),
		StalenessHours: getEnvIntWithDefault("STALENESS_HOURS", 24),
		BatchWorkers:   getEnvIntWithDefault("BATCH_WORKERS", 4),
		MatchTimeout:   time.Duration(getEnvIntWithDefault("MATCH_TIMEOUT_SECONDS", 15)) * time.Second,

		MinTuningSample:  getEnvIntWithDefault("MIN_TUNING_SAMPLE", 20),
		TuningWindowDays: getEnvIntWithDefault("TUNING_WINDOW_DAYS", 7),

		NewsAPIURL: os.Getenv("NEWS_API_URL"),
		NewsAPIKey: os.Getenv("NEWS_API_KEY"),

		LogLevel: getEnvWithDefault("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Helper functions for environment variable handling
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
