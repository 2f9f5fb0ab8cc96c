package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Lockout   LockoutConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string
	Port string
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// CommandTimeout bounds every cache command; the service must never
	// block indefinitely on an unreachable Redis.
	CommandTimeout time.Duration
	DialTimeout    time.Duration
}

// JWTConfig holds session token configuration
type JWTConfig struct {
	Secret      string
	TokenExpiry time.Duration
	Issuer      string
	Audience    string
}

// LockoutConfig holds account lockout policy configuration
type LockoutConfig struct {
	MaxFailedAttempts int
	LockDuration      time.Duration
}

// RateLimitConfig holds per-class fixed-window thresholds
type RateLimitConfig struct {
	RegistrationLimit   int
	RegistrationWindow  time.Duration
	LoginLimit          int
	LoginWindow         time.Duration
	PasswordResetLimit  int
	PasswordResetWindow time.Duration
	APILimit            int
	APIWindow           time.Duration
	QueryLimit          int
	QueryWindow         time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "taskvault"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:           getEnv("REDIS_ADDR", "localhost:6379"),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             getIntEnv("REDIS_DB", 0),
			CommandTimeout: getDurationEnv("REDIS_COMMAND_TIMEOUT", 2*time.Second),
			DialTimeout:    getDurationEnv("REDIS_DIAL_TIMEOUT", 2*time.Second),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", ""),
			TokenExpiry: getDurationEnv("JWT_TOKEN_EXPIRY", 7*24*time.Hour),
			Issuer:      getEnv("JWT_ISSUER", "taskvault"),
			Audience:    getEnv("JWT_AUDIENCE", "taskvault-api"),
		},
		Lockout: LockoutConfig{
			MaxFailedAttempts: getIntEnv("LOCKOUT_MAX_FAILED_ATTEMPTS", 5),
			LockDuration:      getDurationEnv("LOCKOUT_DURATION", 30*time.Minute),
		},
		RateLimit: RateLimitConfig{
			RegistrationLimit:   getIntEnv("RATELIMIT_REGISTRATION", 3),
			RegistrationWindow:  getDurationEnv("RATELIMIT_REGISTRATION_WINDOW", time.Hour),
			LoginLimit:          getIntEnv("RATELIMIT_LOGIN", 10),
			LoginWindow:         getDurationEnv("RATELIMIT_LOGIN_WINDOW", 15*time.Minute),
			PasswordResetLimit:  getIntEnv("RATELIMIT_PASSWORD_RESET", 5),
			PasswordResetWindow: getDurationEnv("RATELIMIT_PASSWORD_RESET_WINDOW", time.Hour),
			APILimit:            getIntEnv("RATELIMIT_API", 100),
			APIWindow:           getDurationEnv("RATELIMIT_API_WINDOW", 15*time.Minute),
			QueryLimit:          getIntEnv("RATELIMIT_QUERY", 30),
			QueryWindow:         getDurationEnv("RATELIMIT_QUERY_WINDOW", time.Minute),
		},
	}
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + d.Port +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.DBName +
		" sslmode=" + d.SSLMode
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv returns an integer from environment variable or default
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getDurationEnv returns duration from environment variable or default
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
