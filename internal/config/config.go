package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Keycloak
	KeycloakURL           string
	KeycloakRealm         string
	KeycloakClientID      string
	KeycloakRedirectURI   string
	KeycloakAdminURL      string // defaults to KeycloakURL
	KeycloakAdminRealm    string
	KeycloakAdminUsername string
	KeycloakAdminPassword string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Admin token cache
	AdminTokenSkew time.Duration

	// Sessions
	SessionSecret string
	SessionTTL    time.Duration
	SessionStore  string // "memory" or "redis"
	RedisURL      string

	// Edge
	AuthRateLimit float64 // requests per second per IP on sign-in/sign-up
	AuthRateBurst int
	CORSOrigins   []string
	TrustProxy    bool // honour X-Forwarded-For; only behind a proxy that rewrites it

	// Observability
	OTLPEndpoint string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		KeycloakURL:           getEnv("KEYCLOAK_URL", "http://localhost:8180"),
		KeycloakRealm:         getEnv("KEYCLOAK_REALM", "marche-conclu"),
		KeycloakClientID:      getEnv("KEYCLOAK_CLIENT_ID", "marketplace-app"),
		KeycloakRedirectURI:   getEnv("KEYCLOAK_REDIRECT_URI", "marcheconclu://callback"),
		KeycloakAdminURL:      getEnv("KEYCLOAK_ADMIN_URL", ""),
		KeycloakAdminRealm:    getEnv("KEYCLOAK_ADMIN_REALM", "master"),
		KeycloakAdminUsername: getEnv("KEYCLOAK_ADMIN_USERNAME", ""),
		KeycloakAdminPassword: getEnv("KEYCLOAK_ADMIN_PASSWORD", ""),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		AdminTokenSkew: getEnvDuration("ADMIN_TOKEN_SKEW", 30*time.Second),

		SessionSecret: getEnv("SESSION_SECRET", "marketplace-default-dev-secret-change-me"),
		SessionTTL:    getEnvDuration("SESSION_TTL", 30*24*time.Hour),
		SessionStore:  getEnv("SESSION_STORE", "memory"),
		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),

		AuthRateLimit: getEnvFloat("AUTH_RATE_LIMIT", 1),
		AuthRateBurst: getEnvInt("AUTH_RATE_BURST", 5),
		CORSOrigins:   getEnvList("CORS_ORIGINS"),
		TrustProxy:    getEnvBool("TRUST_PROXY", false),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}
}

// Validate reports settings the server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.KeycloakAdminUsername == "" || c.KeycloakAdminPassword == "" {
		errs = append(errs, errors.New("KEYCLOAK_ADMIN_USERNAME and KEYCLOAK_ADMIN_PASSWORD are required"))
	}
	if c.SessionStore != "memory" && c.SessionStore != "redis" {
		errs = append(errs, errors.New("SESSION_STORE must be memory or redis"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma-separated value, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
