package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	StorageType     string
	DataSourceName  string
	DatabaseURL     string
	PresenceBackend string
	RedisURL        string
	JWTSecret       string
	PresenceTTL     time.Duration
	SendQueueSize   int
	SaveAttempts    int
	HistoryLimit    int
	AllowedOrigins  []string
}

// Load reads .env when present, then the process environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file loaded, using environment")
	}

	return Config{
		StorageType:     getenv("STORAGE_TYPE", "memory"),
		DataSourceName:  getenv("DATA_SOURCE_NAME", "collab.db"),
		DatabaseURL:     getenv("DATABASE_URL", ""),
		PresenceBackend: getenv("PRESENCE_BACKEND", "memory"),
		RedisURL:        getenv("REDIS_URL", "redis://localhost:6379/0"),
		JWTSecret:       getenv("JWT_SECRET", ""),
		PresenceTTL:     time.Duration(getenvInt("PRESENCE_TTL_SECONDS", 300)) * time.Second,
		SendQueueSize:   getenvInt("SEND_QUEUE_SIZE", 256),
		SaveAttempts:    getenvInt("SAVE_ATTEMPTS", 3),
		HistoryLimit:    getenvInt("HISTORY_LIMIT", 200),
		AllowedOrigins:  splitList(getenv("ALLOWED_ORIGINS", "*")),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		logrus.WithField("key", key).Warn("Ignoring invalid integer setting")
		return fallback
	}
	return parsed
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
