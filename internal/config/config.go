// Package config provides configuration for the assistant server and CLI.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the assistant configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Storage
	StorageDriver string
	DatabaseURL   string
	PebblePath    string

	// Responder
	Mode          string
	RemoteURL     string
	RemoteTimeout time.Duration
	KnowledgeFile string

	// Conversation
	ThinkingMin      time.Duration
	ThinkingMax      time.Duration
	MaxMessageLength int
	MaxSessions      int
	SessionIdleTTL   time.Duration

	// WebSocket
	WSPingInterval   time.Duration
	WSWriteTimeout   time.Duration
	WSReadTimeout    time.Duration
	WSMaxMessageSize int64
	WSRatePerSec     int

	HTTPRatePerSec int

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables. A .env file in the
// working directory is read first when present; real environment variables
// win over it.
func Load() *Config {
	_ = godotenv.Load(".env")

	cfg := &Config{
		HTTPPort:         getEnvInt("HTTP_PORT", 8080),
		StorageDriver:    getEnv("STORAGE_DRIVER", "sqlite"),
		DatabaseURL:      getEnv("DATABASE_URL", "file:csassistant.db?cache=shared&mode=rwc"),
		PebblePath:       getEnv("PEBBLE_PATH", "csassistant.pebble"),
		Mode:             getEnv("CSA_MODE", "LOCAL"),
		RemoteURL:        getEnv("CSA_REMOTE_URL", "http://localhost:5000"),
		RemoteTimeout:    time.Duration(getEnvInt("CSA_REMOTE_TIMEOUT_MS", 10000)) * time.Millisecond,
		KnowledgeFile:    getEnv("CSA_KNOWLEDGE_FILE", ""),
		ThinkingMin:      time.Duration(getEnvInt("CSA_THINKING_MIN_MS", 1000)) * time.Millisecond,
		ThinkingMax:      time.Duration(getEnvInt("CSA_THINKING_MAX_MS", 2000)) * time.Millisecond,
		MaxMessageLength: getEnvInt("CSA_MAX_MESSAGE_LENGTH", 2000),
		MaxSessions:      getEnvInt("CSA_MAX_SESSIONS", 1000),
		SessionIdleTTL:   time.Duration(getEnvInt("CSA_SESSION_IDLE_MS", 30*60*1000)) * time.Millisecond,
		WSPingInterval:   time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WSWriteTimeout:   time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		WSReadTimeout:    time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		WSMaxMessageSize: int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 64*1024)),
		WSRatePerSec:     getEnvInt("WS_RATE_PER_SEC", 5),
		HTTPRatePerSec:   getEnvInt("HTTP_RATE_PER_SEC", 20),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}
	if cfg.ThinkingMax < cfg.ThinkingMin {
		cfg.ThinkingMax = cfg.ThinkingMin
	}
	return cfg
}

// StorageDSN returns the DSN for the configured storage driver.
func (c *Config) StorageDSN() string {
	if c.StorageDriver == "pebble" {
		return c.PebblePath
	}
	return c.DatabaseURL
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
