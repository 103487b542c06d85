// Package config loads booking engine configuration from environment
// variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Calendar provider (Cal.com-compatible v2 REST surface).
	CalBaseURL string

	// Practitioner directory. When DirectoryPath is set the catalog is read
	// from a JSON file at startup; otherwise the redis-backed store (or the
	// built-in default catalog) is used.
	DirectoryPath string

	// Widget presentation. Language affects date/time formatting only.
	Language string // "en" or "fr"
	Timezone string // IANA zone, e.g. "America/Toronto"

	// Primary selects which dropdown the visitor sees first, "service" or
	// "practitioner".
	Primary string

	// SessionTTL is the abandonment budget for an incomplete booking flow.
	SessionTTL time.Duration

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	CORSAllowedOrigins []string
}

// DefaultSessionTTL is the session abandonment budget. The widget flow is
// forcibly expired after this long without a confirmed booking.
const DefaultSessionTTL = 5 * time.Minute

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CalBaseURL:         getEnv("CALCOM_BASE_URL", "https://api.cal.com/v2"),
		DirectoryPath:      getEnv("DIRECTORY_PATH", ""),
		Language:           normalizeLanguage(getEnv("WIDGET_LANGUAGE", "en")),
		Timezone:           getEnv("WIDGET_TIMEZONE", "America/Toronto"),
		Primary:            normalizePrimary(getEnv("WIDGET_PRIMARY", "service")),
		SessionTTL:         getEnvAsDuration("SESSION_TTL", DefaultSessionTTL),
		RedisAddr:          getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisTLS:           getEnvAsBool("REDIS_TLS", false),
		CORSAllowedOrigins: splitAndTrim(getEnv("CORS_ALLOWED_ORIGINS", "*")),
	}
}

func normalizeLanguage(lang string) string {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "fr":
		return "fr"
	default:
		return "en"
	}
}

func normalizePrimary(primary string) string {
	switch strings.ToLower(strings.TrimSpace(primary)) {
	case "practitioner":
		return "practitioner"
	default:
		return "service"
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a
// default value.
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
