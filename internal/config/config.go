// Package config loads process configuration from the environment.
// A .env file in the working directory is applied first when present;
// variables already set in the environment win.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full runtime configuration shared by server, worker and CLIs.
type Config struct {
	App      AppConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Redis    RedisConfig
	AMQP     AMQPConfig
	Security SecurityConfig
	Worker   WorkerConfig
}

// AppConfig holds process-level settings.
type AppConfig struct {
	Env      string
	Port     string
	LogLevel string
}

// IsProduction reports whether the process runs in production mode.
func (a AppConfig) IsProduction() bool {
	return a.Env == "production"
}

// DatabaseConfig holds central and tenant database settings.
type DatabaseConfig struct {
	CentralURL        string
	TenantUser        string
	TenantPassword    string
	MaxPools          int
	MaxConnsPerTenant int
	PoolIdleTimeout   time.Duration
	Prewarm           bool
}

// JWTConfig holds token settings.
type JWTConfig struct {
	Secret        string
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	RotateRefresh bool
}

// RedisConfig holds Redis connection settings. Empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AMQPConfig holds the broker URL. Empty URL means events are handled inline.
type AMQPConfig struct {
	URL string
}

// SecurityConfig holds login hardening settings.
type SecurityConfig struct {
	EncryptionKey   string // 32 bytes, hex encoded; seals 2FA secrets
	LoginRateLimit  int
	LoginRateWindow time.Duration
	MagicLinkTTL    time.Duration
	BaseDomain      string
	AppURL          string
}

// WorkerConfig holds background schedules.
type WorkerConfig struct {
	AggregateSchedule string
	CleanupSchedule   string
	OutboxInterval    time.Duration
	TenantRefresh     time.Duration
}

// Load reads .env (if any) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(), nil
}

// FromEnv builds Config from the current environment only.
func FromEnv() *Config {
	return &Config{
		App: AppConfig{
			Env:      getEnv("APP_ENV", "development"),
			Port:     getEnv("APP_PORT", "8080"),
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			CentralURL:        getEnv("CENTRAL_DATABASE_URL", ""),
			TenantUser:        getEnv("TENANT_DB_USER", ""),
			TenantPassword:    getEnv("TENANT_DB_PASSWORD", ""),
			MaxPools:          getEnvInt("TENANT_MAX_POOLS", 100),
			MaxConnsPerTenant: getEnvInt("TENANT_MAX_CONNS_PER_POOL", 10),
			PoolIdleTimeout:   getEnvDuration("TENANT_POOL_IDLE_TIMEOUT", 30*time.Minute),
			Prewarm:           getEnvBool("PREWARM_POOLS", false),
		},
		JWT: JWTConfig{
			Secret:        getEnv("JWT_SECRET", ""),
			Issuer:        getEnv("JWT_ISSUER", "hybridauth"),
			AccessTTL:     getEnvDuration("JWT_ACCESS_TTL", 15*time.Minute),
			RefreshTTL:    getEnvDuration("JWT_REFRESH_TTL", 30*24*time.Hour),
			RotateRefresh: getEnvBool("JWT_ROTATE_REFRESH", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		AMQP: AMQPConfig{
			URL: getEnv("AMQP_URL", ""),
		},
		Security: SecurityConfig{
			EncryptionKey:   getEnv("ENCRYPTION_KEY", ""),
			LoginRateLimit:  getEnvInt("LOGIN_RATE_LIMIT", 5),
			LoginRateWindow: getEnvDuration("LOGIN_RATE_WINDOW", time.Minute),
			MagicLinkTTL:    getEnvDuration("MAGIC_LINK_TTL", 15*time.Minute),
			BaseDomain:      getEnv("BASE_DOMAIN", ""),
			AppURL:          getEnv("APP_URL", "http://localhost:8080"),
		},
		Worker: WorkerConfig{
			AggregateSchedule: getEnv("WORKER_AGGREGATE_SCHEDULE", "5 0 * * *"),
			CleanupSchedule:   getEnv("WORKER_CLEANUP_SCHEDULE", "@hourly"),
			OutboxInterval:    getEnvDuration("WORKER_OUTBOX_INTERVAL", 5*time.Second),
			TenantRefresh:     getEnvDuration("WORKER_TENANT_REFRESH", 5*time.Minute),
		},
	}
}

// Validate checks settings that would make the process unsafe to start.
func (c *Config) Validate() error {
	if c.Database.CentralURL == "" {
		return errors.New("CENTRAL_DATABASE_URL is required")
	}
	if c.JWT.Secret == "" {
		if c.App.IsProduction() {
			return errors.New("JWT_SECRET is required in production")
		}
		c.JWT.Secret = "development-secret-change-me"
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	if _, err := c.Security.Key(); err != nil {
		return err
	}
	return nil
}

// Key decodes the 32-byte encryption key.
func (s SecurityConfig) Key() ([]byte, error) {
	if s.EncryptionKey == "" {
		return nil, errors.New("ENCRYPTION_KEY is required")
	}
	key, err := hex.DecodeString(s.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
