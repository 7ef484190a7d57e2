package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/crozierhq/crozier/pkg/authz"
	"github.com/crozierhq/crozier/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration
	Redis RedisConfig

	// Authentication configuration
	Auth AuthConfig

	// Authorization configuration
	Authz AuthzConfig

	// Role catalog configuration
	Roles RolesConfig

	// Cascade configuration
	Cascade CascadeConfig

	// Reconciler configuration
	Reconciler ReconcilerConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	URL         string
	ReplicaURLs string // Comma-separated read replica URLs
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// Mode selects the authenticator: "static" (hashed API tokens) or "oidc"
	Mode string

	// OIDC settings (required when Mode is "oidc")
	OIDCIssuerURL string
	OIDCClientID  string
}

// AuthzConfig holds decision engine configuration
type AuthzConfig struct {
	// ContextPolicy selects how the acting grant is chosen for
	// multi-role actors: "primary" or "first"
	ContextPolicy string

	// Actor directory caches
	ActorCacheSize int
	ActorCacheTTL  time.Duration
	RedisCacheTTL  time.Duration
}

// RolesConfig holds role catalog configuration
type RolesConfig struct {
	File  string
	Watch bool
}

// CascadeConfig holds subtree cascade configuration
type CascadeConfig struct {
	// LeaseTTL bounds how long a crashed cascade can block its root subtree
	LeaseTTL time.Duration
}

// ReconcilerConfig holds background reconciler configuration
type ReconcilerConfig struct {
	Schedule           string
	AuditRetentionDays int
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond int
	Burst             int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel  observability.LogLevel
	LogFormat string // "json" or "text"

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Auth:          loadAuthConfig(),
		Authz:         loadAuthzConfig(),
		Roles:         loadRolesConfig(),
		Cascade:       loadCascadeConfig(),
		Reconciler:    loadReconcilerConfig(),
		RateLimit:     loadRateLimitConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("CROZIER_HOST", "0.0.0.0"),
		Port:            getEnv("CROZIER_PORT", "8080"),
		ReadTimeout:     getEnvDuration("CROZIER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("CROZIER_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("CROZIER_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("CROZIER_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("CROZIER_HEALTH_PORT", "9090"),
	}
}

// loadDatabaseConfig loads database configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:         getEnv("CROZIER_DATABASE_URL", ""),
		ReplicaURLs: getEnv("CROZIER_DATABASE_REPLICA_URLS", ""),
		MaxConns:    getEnvInt("CROZIER_DATABASE_MAX_CONNS", 25),
		MinConns:    getEnvInt("CROZIER_DATABASE_MIN_CONNS", 5),
		Timeout:     getEnvDuration("CROZIER_DATABASE_TIMEOUT", 10*time.Second),
		MaxLifetime: getEnvDuration("CROZIER_DATABASE_MAX_LIFETIME", 30*time.Minute),
		MaxIdleTime: getEnvDuration("CROZIER_DATABASE_MAX_IDLE_TIME", 5*time.Minute),
	}
}

// loadRedisConfig loads Redis configuration from environment
func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("CROZIER_REDIS_URL", ""),
		Password:   getEnv("CROZIER_REDIS_PASSWORD", ""),
		DB:         getEnvInt("CROZIER_REDIS_DB", 0),
		MaxRetries: getEnvInt("CROZIER_REDIS_MAX_RETRIES", 3),
		PoolSize:   getEnvInt("CROZIER_REDIS_POOL_SIZE", 10),
	}
}

// loadAuthConfig loads authentication configuration from environment
func loadAuthConfig() AuthConfig {
	return AuthConfig{
		Mode:          getEnv("CROZIER_AUTH_MODE", "static"),
		OIDCIssuerURL: getEnv("CROZIER_OIDC_ISSUER_URL", ""),
		OIDCClientID:  getEnv("CROZIER_OIDC_CLIENT_ID", ""),
	}
}

// loadAuthzConfig loads decision engine configuration from environment
func loadAuthzConfig() AuthzConfig {
	return AuthzConfig{
		ContextPolicy:  getEnv("CROZIER_CONTEXT_POLICY", "primary"),
		ActorCacheSize: getEnvInt("CROZIER_ACTOR_CACHE_SIZE", 10000),
		ActorCacheTTL:  getEnvDuration("CROZIER_ACTOR_CACHE_TTL", 30*time.Second),
		RedisCacheTTL:  getEnvDuration("CROZIER_REDIS_CACHE_TTL", 5*time.Minute),
	}
}

// loadRolesConfig loads role catalog configuration from environment
func loadRolesConfig() RolesConfig {
	return RolesConfig{
		File:  getEnv("CROZIER_ROLES_FILE", "roles.yaml"),
		Watch: getEnvBool("CROZIER_ROLES_WATCH", true),
	}
}

// loadCascadeConfig loads cascade configuration from environment
func loadCascadeConfig() CascadeConfig {
	return CascadeConfig{
		LeaseTTL: getEnvDuration("CROZIER_CASCADE_LEASE_TTL", 2*time.Minute),
	}
}

// loadReconcilerConfig loads reconciler configuration from environment
func loadReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Schedule:           getEnv("CROZIER_RECONCILE_SCHEDULE", "*/5 * * * *"),
		AuditRetentionDays: getEnvInt("CROZIER_AUDIT_RETENTION_DAYS", 90),
	}
}

// loadRateLimitConfig loads rate limiting configuration from environment
func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("CROZIER_RATE_LIMIT_ENABLED", true),
		RequestsPerSecond: getEnvInt("CROZIER_RATE_LIMIT_RPS", 50),
		Burst:             getEnvInt("CROZIER_RATE_LIMIT_BURST", 100),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("CROZIER_LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("CROZIER_LOG_FORMAT", "json")),
		MetricsEnabled:     getEnvBool("CROZIER_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("CROZIER_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("CROZIER_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("CROZIER_OTEL_SERVICE_NAME", "crozier"),
		OTelServiceVersion: getEnv("CROZIER_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("CROZIER_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate database config
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	// Validate auth config
	switch c.Auth.Mode {
	case "static":
		// Static tokens live in the database, nothing more to check
	case "oidc":
		if c.Auth.OIDCIssuerURL == "" {
			return fmt.Errorf("OIDC issuer URL is required for oidc auth mode")
		}
		if c.Auth.OIDCClientID == "" {
			return fmt.Errorf("OIDC client ID is required for oidc auth mode")
		}
	default:
		return fmt.Errorf("invalid auth mode: %s (must be static or oidc)", c.Auth.Mode)
	}

	// Validate authz config
	if _, err := authz.ParseContextPolicy(c.Authz.ContextPolicy); err != nil {
		return fmt.Errorf("invalid context policy: %w", err)
	}
	if c.Authz.ActorCacheSize <= 0 {
		return fmt.Errorf("actor cache size must be positive")
	}

	// Validate roles config
	if c.Roles.File == "" {
		return fmt.Errorf("roles file is required")
	}

	// Validate cascade config
	if c.Cascade.LeaseTTL <= 0 {
		return fmt.Errorf("cascade lease TTL must be positive")
	}

	// Validate rate limit config
	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate limit RPS must be positive when rate limiting is enabled")
		}
		if c.RateLimit.Burst < c.RateLimit.RequestsPerSecond {
			return fmt.Errorf("rate limit burst must be at least the RPS")
		}
	}

	// Validate log format
	if c.Observability.LogFormat != "json" && c.Observability.LogFormat != "text" {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Observability.LogFormat)
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
