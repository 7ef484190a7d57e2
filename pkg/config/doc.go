// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	CROZIER_HOST="0.0.0.0"
//	CROZIER_PORT="8080"
//	CROZIER_HEALTH_PORT="9090"
//	CROZIER_READ_TIMEOUT="15s"
//	CROZIER_WRITE_TIMEOUT="15s"
//
// Database settings:
//
//	CROZIER_DATABASE_URL="postgres://localhost/crozier"
//	CROZIER_DATABASE_REPLICA_URLS="postgres://r1/crozier,postgres://r2/crozier"
//	CROZIER_DATABASE_MAX_CONNS="25"
//	CROZIER_REDIS_URL="redis://localhost:6379"
//
// Authentication and authorization:
//
//	CROZIER_AUTH_MODE="static"  # static, oidc
//	CROZIER_OIDC_ISSUER_URL="https://accounts.example.com"
//	CROZIER_OIDC_CLIENT_ID="crozier-api"
//	CROZIER_CONTEXT_POLICY="primary"  # primary, first
//	CROZIER_ROLES_FILE="roles.yaml"
//
// Cascade and reconciler:
//
//	CROZIER_CASCADE_LEASE_TTL="2m"
//	CROZIER_RECONCILE_SCHEDULE="*/5 * * * *"
//	CROZIER_AUDIT_RETENTION_DAYS="90"
//
// Observability settings:
//
//	CROZIER_LOG_LEVEL="info"  # debug, info, warn, error
//	CROZIER_LOG_FORMAT="json"  # json, text
//	CROZIER_METRICS_ENABLED="true"
//	CROZIER_OTEL_ENABLED="true"
//	CROZIER_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/storage/postgres: Uses database configuration
//   - pkg/observability: Uses observability configuration
package config
