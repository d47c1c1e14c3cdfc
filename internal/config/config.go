package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Server
	Port        string
	Environment string

	// Database
	DatabaseURL string

	// JWT
	JWTSecret          string
	JWTExpirationHours int

	// Storage
	StoragePath string

	// Background Workers
	WorkerCount int

	// CORS
	AllowedOrigins []string

	// Email (Resend)
	ResendAPIKey string
	FromEmail    string

	// SMS gateway
	SMSGatewayURL   string
	SMSGatewayToken string

	// Sentry
	SentryDSN string

	// Signing
	PublicBaseURL     string
	SignatureTTLHours int
	EmailSendLimit    int
	MasterKey         string

	// Timestamp authority (RFC 3161). Empty TSAURL uses the local clock.
	TSAURL            string
	TSATimeoutSeconds int

	// GeoIP (MaxMind GeoLite2 City database)
	GeoIPDBPath string

	// Redis backs the chain lock and the public rate limiter when set
	RedisURL string

	PublicRateLimitPerMinute int

	// LegacyDualWrite mirrors every ledger event into audit_logs
	LegacyDualWrite bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:                     getEnv("PORT", "8080"),
		Environment:              getEnv("ENVIRONMENT", "development"),
		DatabaseURL:              getEnv("DATABASE_URL", ""),
		JWTSecret:                getEnv("JWT_SECRET", ""),
		JWTExpirationHours:       getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
		StoragePath:              getEnv("STORAGE_PATH", "./storage"),
		WorkerCount:              getEnvAsInt("WORKER_COUNT", 5),
		AllowedOrigins:           getEnvAsSlice("ALLOWED_ORIGINS", []string{"*"}),
		ResendAPIKey:             getEnv("RESEND_API_KEY", ""),
		FromEmail:                getEnv("FROM_EMAIL", "firmas@fintera.app"),
		SMSGatewayURL:            getEnv("SMS_GATEWAY_URL", ""),
		SMSGatewayToken:          getEnv("SMS_GATEWAY_TOKEN", ""),
		SentryDSN:                getEnv("SENTRY_DSN", ""),
		PublicBaseURL:            strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:3000"), "/"),
		SignatureTTLHours:        getEnvAsInt("SIGNATURE_TTL_HOURS", 168),
		EmailSendLimit:           getEnvAsInt("EMAIL_SEND_LIMIT", 5),
		MasterKey:                getEnv("MASTER_KEY", ""),
		TSAURL:                   getEnv("TSA_URL", ""),
		TSATimeoutSeconds:        getEnvAsInt("TSA_TIMEOUT_SECONDS", 10),
		GeoIPDBPath:              getEnv("GEOIP_DB_PATH", ""),
		RedisURL:                 getEnv("REDIS_URL", ""),
		PublicRateLimitPerMinute: getEnvAsInt("PUBLIC_RATE_LIMIT_PER_MINUTE", 30),
		LegacyDualWrite:          getEnvAsBool("LEGACY_DUAL_WRITE", false),
	}

	// Validate required configuration
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" && cfg.IsProduction() {
		return nil, fmt.Errorf("JWT_SECRET is required in production")
	}
	if cfg.MasterKey == "" && cfg.IsProduction() {
		return nil, fmt.Errorf("MASTER_KEY is required in production")
	}
	if cfg.TSAURL == "" && cfg.IsProduction() {
		return nil, fmt.Errorf("TSA_URL is required in production")
	}

	// Set default secrets for development
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret-change-in-production"
	}
	if cfg.MasterKey == "" {
		cfg.MasterKey = "dev-master-key-change-in-production"
	}

	return cfg, nil
}

// IsProduction reports whether the service runs with production settings
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// SignatureTTL is how long a signing link stays valid
func (c *Config) SignatureTTL() time.Duration {
	return time.Duration(c.SignatureTTLHours) * time.Hour
}

// TSATimeout bounds one timestamp authority round trip
func (c *Config) TSATimeout() time.Duration {
	return time.Duration(c.TSATimeoutSeconds) * time.Second
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt reads an environment variable as integer
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool reads an environment variable as boolean
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice reads an environment variable as comma-separated slice
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, ",")
}
