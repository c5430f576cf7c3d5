package bootstrap

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerAddr string
	LogLevel   string

	HMACKey []byte

	DatabaseDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ActivityInterval time.Duration
	SweepInterval    time.Duration
	StaleThreshold   time.Duration
	MetricsInterval  time.Duration

	WorkerCount     int
	WorkerQueueSize int
}

func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),

		HMACKey: []byte(getEnv("HMAC_KEY", "change-me-in-production")),

		DatabaseDSN: getEnv("DATABASE_DSN", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		ActivityInterval: getEnvDuration("ACTIVITY_INTERVAL_SECONDS", 30) * time.Second,
		SweepInterval:    getEnvDuration("SWEEP_INTERVAL_SECONDS", 60) * time.Second,
		StaleThreshold:   getEnvDuration("STALE_THRESHOLD_MINUTES", 5) * time.Minute,
		MetricsInterval:  getEnvDuration("METRICS_INTERVAL_HOURS", 24) * time.Hour,

		WorkerCount:     getEnvInt("WORKER_COUNT", 8),
		WorkerQueueSize: getEnvInt("WORKER_QUEUE_SIZE", 1024),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue))
}
