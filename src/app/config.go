package app

import (
	"log"
	"os"
	"strconv"
	"strings"
)

type AppConfig struct {
	// =========================== REQUIRED ===========================

	// Database configuration (required)
	DSN *string
	// Redis configuration (required)
	RedisAddr *string
	// Private key of the issuer account used to sign reward payouts (required)
	IssuerPrivateKey *string
	// Secret for verifying bearer tokens from the forum frontend (required)
	JWTSecret *string
	// External ledger JSON-RPC endpoint (required)
	RPCURL *string

	// =========================== OPTIONAL ===========================

	// Logging configuration
	LogLevel *string

	// HTTP server configuration
	Port *string
	Host *string

	// Environment ("dev", "staging", "prod")
	Environment *string

	// CORS configuration
	AllowOrigins *[]string

	// Ledger configuration
	ChainID       *int64
	TokenContract *string
	Confirmations *uint64

	// Challenge configuration
	ChallengeTTLSeconds *int

	// Reward worker configuration
	RewardQueue            *string
	SweepIntervalSeconds   *int
	FinalityTimeoutSeconds *int
	MaxSubmitAttempts      *int

	// Migration configuration
	MigrationPath *string
}

func NewAppConfig() *AppConfig {
	config := &AppConfig{}

	// Load required configuration
	loadRequiredConfig(config)

	// Load optional configuration with defaults
	loadOptionalConfig(config)

	return config
}

// loadRequiredConfig loads all required configuration values and fails fast if any are missing
func loadRequiredConfig(config *AppConfig) {
	// Database URL (required)
	dsn := os.Getenv("DB_URL")
	if dsn == "" {
		log.Fatalf("REQUIRED: DB_URL not set in environment")
	}
	config.DSN = &dsn

	// Redis URL (required)
	redisAddr := os.Getenv("REDIS_URL")
	if redisAddr == "" {
		log.Fatalf("REQUIRED: REDIS_URL not set in environment")
	}
	config.RedisAddr = &redisAddr

	// Issuer private key for signing payouts (required)
	issuerKey := os.Getenv("ISSUER_PRIVATE_KEY")
	if issuerKey == "" {
		log.Fatalf("REQUIRED: ISSUER_PRIVATE_KEY not set in environment")
	}
	// Remove 0x prefix if it exists
	issuerKey = strings.TrimPrefix(issuerKey, "0x")
	config.IssuerPrivateKey = &issuerKey

	// JWT secret for verifying bearer tokens (required)
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatalf("REQUIRED: JWT_SECRET not set in environment")
	}
	config.JWTSecret = &jwtSecret

	// Ledger RPC endpoint (required)
	rpcURL := os.Getenv("RPC_URL")
	if rpcURL == "" {
		log.Fatalf("REQUIRED: RPC_URL not set in environment")
	}
	config.RPCURL = &rpcURL

	// CORS origins (required in production, optional in development)
	loadCORSConfig(config)
}

// loadOptionalConfig loads all optional configuration values with sensible defaults
func loadOptionalConfig(config *AppConfig) {
	// HTTP server port (default: 8080)
	port := getEnvWithDefault("PORT", "8080")
	config.Port = &port

	host := getEnvWithDefault("HOST", "localhost:"+port)
	config.Host = &host

	environment := getEnvWithDefault("ENVIRONMENT", "dev")
	config.Environment = &environment

	// Log level (default: debug)
	// Available levels: "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled"
	logLevel := getEnvWithDefault("LOG_LEVEL", "debug")
	config.LogLevel = &logLevel

	// Ledger chain id (default: Sepolia)
	chainID := getEnvInt64WithDefault("CHAIN_ID", 11155111)
	config.ChainID = &chainID

	// Platform token contract; empty disables "terra" payouts
	tokenContract := os.Getenv("TOKEN_CONTRACT")
	config.TokenContract = &tokenContract

	confirmations := uint64(getEnvIntWithDefault("CONFIRMATIONS", 1))
	config.Confirmations = &confirmations

	// Challenge TTL in seconds (default: 5 minutes)
	challengeTTL := getEnvIntWithDefault("CHALLENGE_TTL_SECONDS", 300)
	config.ChallengeTTLSeconds = &challengeTTL

	// Reward worker configuration
	rewardQueue := getEnvWithDefault("REWARD_QUEUE", "reward_queue")
	config.RewardQueue = &rewardQueue

	sweepInterval := getEnvIntWithDefault("SWEEP_INTERVAL_SECONDS", 60)
	config.SweepIntervalSeconds = &sweepInterval

	finalityTimeout := getEnvIntWithDefault("FINALITY_TIMEOUT_SECONDS", 120)
	config.FinalityTimeoutSeconds = &finalityTimeout

	maxSubmitAttempts := getEnvIntWithDefault("MAX_SUBMIT_ATTEMPTS", 3)
	config.MaxSubmitAttempts = &maxSubmitAttempts

	// Migration path (default: file://migrations)
	migrationPath := getEnvWithDefault("MIGRATION_PATH", "file://migrations")
	config.MigrationPath = &migrationPath
}

// loadCORSConfig handles CORS origins configuration with environment-specific behavior
func loadCORSConfig(config *AppConfig) {
	allowOriginsStr := os.Getenv("ALLOW_ORIGINS")
	var allowOrigins []string

	if allowOriginsStr != "" {
		// Parse comma-separated origins
		origins := strings.Split(allowOriginsStr, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowOrigins = append(allowOrigins, origin)
			}
		}
	} else {
		// Handle missing ALLOW_ORIGINS based on environment
		environment := os.Getenv("ENVIRONMENT")
		if environment == "development" || environment == "dev" || environment == "" {
			// Default to localhost in development
			allowOrigins = []string{"http://localhost:5173"}
		} else {
			log.Fatalf("REQUIRED: ALLOW_ORIGINS not set in environment (required in production)")
		}
	}

	config.AllowOrigins = &allowOrigins
}

// getEnvIntWithDefault parses an integer environment variable with default fallback
func getEnvIntWithDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if parsed, err := strconv.Atoi(value); err == nil {
		return parsed
	}

	log.Printf("Warning: Invalid %s value '%s', using default %d", key, value, defaultValue)
	return defaultValue
}

// getEnvInt64WithDefault parses an int64 environment variable with default fallback
func getEnvInt64WithDefault(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
		return parsed
	}

	log.Printf("Warning: Invalid %s value '%s', using default %d", key, value, defaultValue)
	return defaultValue
}

// getEnvWithDefault returns environment variable value or default if not set
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
