package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Stream   StreamConfig
	Worker   WorkerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds validation settings for externally issued access tokens.
// This service never mints tokens; identity issuance lives in the auth service.
type JWTConfig struct {
	Secret string
}

// StreamConfig holds streaming session defaults.
type StreamConfig struct {
	DefaultMaxViewers int
	DefaultQuality    string
	// ViewerMilestones are currentCount thresholds that trigger a
	// viewer_milestone notification, e.g. "10,50,100".
	ViewerMilestones []int
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	// RollupIntervalSec is how often live sessions get a snapshot rollup.
	// 0 disables periodic snapshots.
	RollupIntervalSec int
	// NotifyWebhookURL is where notification events are delivered; empty
	// means log-only delivery.
	NotifyWebhookURL string
	// NotifyMode selects how the server hands off notifications: "queue"
	// (Redis jobs drained by the worker) or "log" for development.
	NotifyMode string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "livestream"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "change-me-in-production"),
		},
		Stream: StreamConfig{
			DefaultMaxViewers: getEnvInt("STREAM_DEFAULT_MAX_VIEWERS", 100),
			DefaultQuality:    getEnv("STREAM_DEFAULT_QUALITY", "HD"),
			ViewerMilestones:  splitInts(getEnv("STREAM_VIEWER_MILESTONES", "10,50,100"), ","),
		},
		Worker: WorkerConfig{
			RollupIntervalSec: getEnvInt("WORKER_ROLLUP_INTERVAL_SEC", 60),
			NotifyWebhookURL:  getEnv("NOTIFY_WEBHOOK_URL", ""),
			NotifyMode:        getEnv("NOTIFY_MODE", "queue"),
		},
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitInts(s, sep string) []int {
	var out []int
	for _, v := range strings.Split(s, sep) {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			out = append(out, n)
		}
	}
	return out
}
