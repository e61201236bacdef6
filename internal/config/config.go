package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration
type Config struct {
	Port       string
	MongoDBURI string
	RedisURL   string // optional; empty disables cross-instance progress fan-out

	JWTSecret string

	// API keys allowed to call the service-to-service endpoints,
	// stored as argon2id hashes (comma-separated in the env).
	APIKeyHashes []string

	// Prompt flow routing config file (YAML, hot-reloaded).
	PromptFlowConfigPath string

	// Execution retention window in days. Terminal executions older
	// than this are removed by the cleanup job and the TTL index.
	RetentionDays int

	// Per-tenant execution rate limit (requests per minute).
	ExecuteRateLimit int
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	var keyHashes []string
	if raw := getEnv("API_KEY_HASHES", ""); raw != "" {
		keyHashes = strings.Split(raw, ",")
		for i := range keyHashes {
			keyHashes[i] = strings.TrimSpace(keyHashes[i])
		}
	}

	return &Config{
		Port:       getEnv("PORT", "3001"),
		MongoDBURI: getEnv("MONGODB_URI", "mongodb://localhost:27017/flowhub"),
		RedisURL:   getEnv("REDIS_URL", ""),

		JWTSecret:    getEnv("JWT_SECRET", ""),
		APIKeyHashes: keyHashes,

		PromptFlowConfigPath: getEnv("PROMPTFLOW_CONFIG", "promptflows.yaml"),

		RetentionDays:    getIntEnv("EXECUTION_RETENTION_DAYS", 30),
		ExecuteRateLimit: getIntEnv("EXECUTE_RATE_LIMIT_PER_MIN", 60),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
