package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	PublicBaseURL  string
	Redis          RedisConfig
	Retention      RetentionConfig
	UploadDir      string
	MaxUploadBytes int64
	// RequireRedis makes readiness fail while the shared store is
	// unreachable. Liveness never depends on it either way.
	RequireRedis bool
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type RetentionConfig struct {
	TextWindow    time.Duration
	FileWindow    time.Duration
	SweepInterval time.Duration
	PresenceTTL   time.Duration
}

func Load() *Config {
	// Parse allowed origins (comma-separated)
	originsStr := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	origins := strings.Split(originsStr, ",")

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		PublicBaseURL:  getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       0,
		},
		Retention: RetentionConfig{
			TextWindow:    getDuration("TEXT_RETENTION", 30*time.Minute),
			FileWindow:    getDuration("FILE_RETENTION", 10*time.Minute),
			SweepInterval: getDuration("SWEEP_INTERVAL", 30*time.Second),
			PresenceTTL:   getDuration("PRESENCE_TTL", 24*time.Hour),
		},
		UploadDir:      getEnv("UPLOAD_DIR", "./uploads"),
		MaxUploadBytes: getInt64("MAX_UPLOAD_BYTES", 100<<20),
		RequireRedis:   getBool("REQUIRE_REDIS", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
