package config

import (
	"os"
	"testing"
	"time"

	"github.com/crozierhq/crozier/pkg/observability"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvBool tests the getEnvBool helper function
func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue bool
		envValue     string
		want         bool
	}{
		{
			name:         "returns true for 'true'",
			key:          "TEST_BOOL",
			defaultValue: false,
			envValue:     "true",
			want:         true,
		},
		{
			name:         "returns true for '1'",
			key:          "TEST_BOOL",
			defaultValue: false,
			envValue:     "1",
			want:         true,
		},
		{
			name:         "returns false for 'false'",
			key:          "TEST_BOOL",
			defaultValue: true,
			envValue:     "false",
			want:         false,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_BOOL_NOT_SET",
			defaultValue: true,
			envValue:     "",
			want:         true,
		},
		{
			name:         "returns true for 'TRUE' (case insensitive)",
			key:          "TEST_BOOL",
			defaultValue: false,
			envValue:     "TRUE",
			want:         true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			} else {
				os.Unsetenv(tt.key)
			}

			got := getEnvBool(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvInt tests the getEnvInt helper function
func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		want         int
	}{
		{
			name:         "returns parsed int",
			key:          "TEST_INT",
			defaultValue: 10,
			envValue:     "42",
			want:         42,
		},
		{
			name:         "returns default for invalid int",
			key:          "TEST_INT",
			defaultValue: 10,
			envValue:     "invalid",
			want:         10,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_INT_NOT_SET",
			defaultValue: 10,
			envValue:     "",
			want:         10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			} else {
				os.Unsetenv(tt.key)
			}

			got := getEnvInt(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvDuration tests the getEnvDuration helper function
func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue time.Duration
		envValue     string
		want         time.Duration
	}{
		{
			name:         "returns parsed duration",
			key:          "TEST_DURATION",
			defaultValue: 10 * time.Second,
			envValue:     "30s",
			want:         30 * time.Second,
		},
		{
			name:         "returns default for invalid duration",
			key:          "TEST_DURATION",
			defaultValue: 10 * time.Second,
			envValue:     "invalid",
			want:         10 * time.Second,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_DURATION_NOT_SET",
			defaultValue: 10 * time.Second,
			envValue:     "",
			want:         10 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			} else {
				os.Unsetenv(tt.key)
			}

			got := getEnvDuration(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestParseLogLevel tests the parseLogLevel function
func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  observability.LogLevel
	}{
		{
			name:  "debug",
			level: "debug",
			want:  observability.DebugLevel,
		},
		{
			name:  "DEBUG uppercase",
			level: "DEBUG",
			want:  observability.DebugLevel,
		},
		{
			name:  "info",
			level: "info",
			want:  observability.InfoLevel,
		},
		{
			name:  "warn",
			level: "warn",
			want:  observability.WarnLevel,
		},
		{
			name:  "warning",
			level: "warning",
			want:  observability.WarnLevel,
		},
		{
			name:  "error",
			level: "error",
			want:  observability.ErrorLevel,
		},
		{
			name:  "invalid defaults to info",
			level: "invalid",
			want:  observability.InfoLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseLogLevel(tt.level)
			if got != tt.want {
				t.Errorf("parseLogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestLoadServerConfig tests the loadServerConfig function
func TestLoadServerConfig(t *testing.T) {
	// Save current env and restore after test
	originalEnv := map[string]string{
		"CROZIER_HOST":             os.Getenv("CROZIER_HOST"),
		"CROZIER_PORT":             os.Getenv("CROZIER_PORT"),
		"CROZIER_READ_TIMEOUT":     os.Getenv("CROZIER_READ_TIMEOUT"),
		"CROZIER_WRITE_TIMEOUT":    os.Getenv("CROZIER_WRITE_TIMEOUT"),
		"CROZIER_IDLE_TIMEOUT":     os.Getenv("CROZIER_IDLE_TIMEOUT"),
		"CROZIER_SHUTDOWN_TIMEOUT": os.Getenv("CROZIER_SHUTDOWN_TIMEOUT"),
		"CROZIER_HEALTH_PORT":      os.Getenv("CROZIER_HEALTH_PORT"),
	}
	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	tests := []struct {
		name string
		env  map[string]string
		want ServerConfig
	}{
		{
			name: "defaults",
			env:  map[string]string{},
			want: ServerConfig{
				Host:            "0.0.0.0",
				Port:            "8080",
				ReadTimeout:     15 * time.Second,
				WriteTimeout:    15 * time.Second,
				IdleTimeout:     60 * time.Second,
				ShutdownTimeout: 30 * time.Second,
				HealthPort:      "9090",
			},
		},
		{
			name: "custom values",
			env: map[string]string{
				"CROZIER_HOST":             "localhost",
				"CROZIER_PORT":             "3000",
				"CROZIER_READ_TIMEOUT":     "30s",
				"CROZIER_WRITE_TIMEOUT":    "30s",
				"CROZIER_IDLE_TIMEOUT":     "120s",
				"CROZIER_SHUTDOWN_TIMEOUT": "60s",
				"CROZIER_HEALTH_PORT":      "9091",
			},
			want: ServerConfig{
				Host:            "localhost",
				Port:            "3000",
				ReadTimeout:     30 * time.Second,
				WriteTimeout:    30 * time.Second,
				IdleTimeout:     120 * time.Second,
				ShutdownTimeout: 60 * time.Second,
				HealthPort:      "9091",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear all env vars
			for k := range originalEnv {
				os.Unsetenv(k)
			}

			// Set test env vars
			for k, v := range tt.env {
				os.Setenv(k, v)
			}

			got := loadServerConfig()
			if got != tt.want {
				t.Errorf("loadServerConfig() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

// TestLoadDatabaseConfig tests the loadDatabaseConfig function
func TestLoadDatabaseConfig(t *testing.T) {
	// Save current env and restore after test
	envVars := []string{
		"CROZIER_DATABASE_URL",
		"CROZIER_DATABASE_REPLICA_URLS",
		"CROZIER_DATABASE_MAX_CONNS",
		"CROZIER_DATABASE_MIN_CONNS",
		"CROZIER_DATABASE_TIMEOUT",
		"CROZIER_DATABASE_MAX_LIFETIME",
		"CROZIER_DATABASE_MAX_IDLE_TIME",
	}
	originalEnv := make(map[string]string)
	for _, k := range envVars {
		originalEnv[k] = os.Getenv(k)
	}
	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("defaults", func(t *testing.T) {
		for _, k := range envVars {
			os.Unsetenv(k)
		}

		cfg := loadDatabaseConfig()
		if cfg.URL != "" {
			t.Errorf("URL = %v, want empty", cfg.URL)
		}
		if cfg.MaxConns != 25 {
			t.Errorf("MaxConns = %v, want 25", cfg.MaxConns)
		}
		if cfg.MinConns != 5 {
			t.Errorf("MinConns = %v, want 5", cfg.MinConns)
		}
		if cfg.Timeout != 10*time.Second {
			t.Errorf("Timeout = %v, want 10s", cfg.Timeout)
		}
		if cfg.MaxLifetime != 30*time.Minute {
			t.Errorf("MaxLifetime = %v, want 30m", cfg.MaxLifetime)
		}
	})

	t.Run("custom values", func(t *testing.T) {
		for _, k := range envVars {
			os.Unsetenv(k)
		}

		os.Setenv("CROZIER_DATABASE_URL", "postgres://localhost/crozier")
		os.Setenv("CROZIER_DATABASE_REPLICA_URLS", "postgres://replica1,postgres://replica2")
		os.Setenv("CROZIER_DATABASE_MAX_CONNS", "50")
		os.Setenv("CROZIER_DATABASE_MIN_CONNS", "10")
		os.Setenv("CROZIER_DATABASE_TIMEOUT", "20s")

		cfg := loadDatabaseConfig()
		if cfg.URL != "postgres://localhost/crozier" {
			t.Errorf("URL = %v, want postgres://localhost/crozier", cfg.URL)
		}
		if cfg.ReplicaURLs != "postgres://replica1,postgres://replica2" {
			t.Errorf("ReplicaURLs = %v, want postgres://replica1,postgres://replica2", cfg.ReplicaURLs)
		}
		if cfg.MaxConns != 50 {
			t.Errorf("MaxConns = %v, want 50", cfg.MaxConns)
		}
		if cfg.MinConns != 10 {
			t.Errorf("MinConns = %v, want 10", cfg.MinConns)
		}
		if cfg.Timeout != 20*time.Second {
			t.Errorf("Timeout = %v, want 20s", cfg.Timeout)
		}
	})
}

// TestLoadAuthConfig tests the loadAuthConfig function
func TestLoadAuthConfig(t *testing.T) {
	envVars := []string{
		"CROZIER_AUTH_MODE",
		"CROZIER_OIDC_ISSUER_URL",
		"CROZIER_OIDC_CLIENT_ID",
	}
	originalEnv := make(map[string]string)
	for _, k := range envVars {
		originalEnv[k] = os.Getenv(k)
	}
	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("defaults to static mode", func(t *testing.T) {
		for _, k := range envVars {
			os.Unsetenv(k)
		}

		cfg := loadAuthConfig()
		if cfg.Mode != "static" {
			t.Errorf("Mode = %v, want static", cfg.Mode)
		}
	})

	t.Run("oidc mode from env", func(t *testing.T) {
		for _, k := range envVars {
			os.Unsetenv(k)
		}

		os.Setenv("CROZIER_AUTH_MODE", "oidc")
		os.Setenv("CROZIER_OIDC_ISSUER_URL", "https://accounts.example.com")
		os.Setenv("CROZIER_OIDC_CLIENT_ID", "crozier-api")

		cfg := loadAuthConfig()
		if cfg.Mode != "oidc" {
			t.Errorf("Mode = %v, want oidc", cfg.Mode)
		}
		if cfg.OIDCIssuerURL != "https://accounts.example.com" {
			t.Errorf("OIDCIssuerURL = %v, want https://accounts.example.com", cfg.OIDCIssuerURL)
		}
		if cfg.OIDCClientID != "crozier-api" {
			t.Errorf("OIDCClientID = %v, want crozier-api", cfg.OIDCClientID)
		}
	})
}

// validConfig returns a configuration that passes validation, for use
// as a base in Validate tests
func validConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:       "8080",
			HealthPort: "9090",
		},
		Database: DatabaseConfig{
			URL: "postgres://localhost/crozier",
		},
		Auth: AuthConfig{
			Mode: "static",
		},
		Authz: AuthzConfig{
			ContextPolicy:  "primary",
			ActorCacheSize: 1000,
		},
		Roles: RolesConfig{
			File: "roles.yaml",
		},
		Cascade: CascadeConfig{
			LeaseTTL: 2 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 50,
			Burst:             100,
		},
		Observability: ObservabilityConfig{
			LogFormat: "json",
		},
	}
}

// TestConfigValidate tests the Config.Validate method
func TestConfigValidate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		cfg := validConfig()
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() unexpected error = %v", err)
		}
	})

	t.Run("missing server port", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Port = ""
		err := cfg.Validate()
		if err == nil {
			t.Fatal("Validate() expected error, got nil")
		}
		if err.Error() != "server port is required" {
			t.Errorf("Validate() error = %v, want 'server port is required'", err.Error())
		}
	})

	t.Run("same server and health port", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.HealthPort = "8080"
		err := cfg.Validate()
		if err == nil {
			t.Fatal("Validate() expected error, got nil")
		}
		if err.Error() != "server port and health port must be different" {
			t.Errorf("Validate() error = %v, want 'server port and health port must be different'", err.Error())
		}
	})

	t.Run("missing database URL", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.URL = ""
		err := cfg.Validate()
		if err == nil {
			t.Fatal("Validate() expected error, got nil")
		}
		if err.Error() != "database URL is required" {
			t.Errorf("Validate() error = %v, want 'database URL is required'", err.Error())
		}
	})

	t.Run("invalid auth mode", func(t *testing.T) {
		cfg := validConfig()
		cfg.Auth.Mode = "saml"
		err := cfg.Validate()
		if err == nil {
			t.Fatal("Validate() expected error, got nil")
		}
		if err.Error() != "invalid auth mode: saml (must be static or oidc)" {
			t.Errorf("Validate() error = %v", err.Error())
		}
	})

	t.Run("oidc mode without issuer", func(t *testing.T) {
		cfg := validConfig()
		cfg.Auth.Mode = "oidc"
		cfg.Auth.OIDCClientID = "crozier-api"
		err := cfg.Validate()
		if err == nil {
			t.Fatal("Validate() expected error, got nil")
		}
		if err.Error() != "OIDC issuer URL is required for oidc auth mode" {
			t.Errorf("Validate() error = %v", err.Error())
		}
	})

	t.Run("oidc mode without client ID", func(t *testing.T) {
		cfg := validConfig()
		cfg.Auth.Mode = "oidc"
		cfg.Auth.OIDCIssuerURL = "https://accounts.example.com"
		err := cfg.Validate()
		if err == nil {
			t.Fatal("Validate() expected error, got nil")
		}
		if err.Error() != "OIDC client ID is required for oidc auth mode" {
			t.Errorf("Validate() error = %v", err.Error())
		}
	})

	t.Run("invalid context policy", func(t *testing.T) {
		cfg := validConfig()
		cfg.Authz.ContextPolicy = "random"
		err := cfg.Validate()
		if err == nil {
			t.Fatal("Validate() expected error, got nil")
		}
	})

	t.Run("missing roles file", func(t *testing.T) {
		cfg := validConfig()
		cfg.Roles.File = ""
		err := cfg.Validate()
		if err == nil {
			t.Fatal("Validate() expected error, got nil")
		}
		if err.Error() != "roles file is required" {
			t.Errorf("Validate() error = %v, want 'roles file is required'", err.Error())
		}
	})

	t.Run("zero cascade lease TTL", func(t *testing.T) {
		cfg := validConfig()
		cfg.Cascade.LeaseTTL = 0
		err := cfg.Validate()
		if err == nil {
			t.Fatal("Validate() expected error, got nil")
		}
		if err.Error() != "cascade lease TTL must be positive" {
			t.Errorf("Validate() error = %v, want 'cascade lease TTL must be positive'", err.Error())
		}
	})

	t.Run("rate limit burst below RPS", func(t *testing.T) {
		cfg := validConfig()
		cfg.RateLimit.RequestsPerSecond = 50
		cfg.RateLimit.Burst = 10
		err := cfg.Validate()
		if err == nil {
			t.Fatal("Validate() expected error, got nil")
		}
		if err.Error() != "rate limit burst must be at least the RPS" {
			t.Errorf("Validate() error = %v, want 'rate limit burst must be at least the RPS'", err.Error())
		}
	})

	t.Run("rate limit disabled skips limit checks", func(t *testing.T) {
		cfg := validConfig()
		cfg.RateLimit = RateLimitConfig{Enabled: false}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() unexpected error = %v", err)
		}
	})

	t.Run("invalid log format", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.LogFormat = "xml"
		err := cfg.Validate()
		if err == nil {
			t.Fatal("Validate() expected error, got nil")
		}
		if err.Error() != "invalid log format: xml (must be json or text)" {
			t.Errorf("Validate() error = %v", err.Error())
		}
	})

	t.Run("otel enabled without endpoint", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.OTelEnabled = true
		cfg.Observability.OTelEndpoint = ""
		cfg.Observability.OTelServiceName = "test"
		err := cfg.Validate()
		if err == nil {
			t.Fatal("Validate() expected error, got nil")
		}
		if err.Error() != "OpenTelemetry endpoint is required when OTel is enabled" {
			t.Errorf("Validate() error = %v", err.Error())
		}
	})

	t.Run("otel enabled without service name", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.OTelEnabled = true
		cfg.Observability.OTelEndpoint = "localhost:4317"
		cfg.Observability.OTelServiceName = ""
		err := cfg.Validate()
		if err == nil {
			t.Fatal("Validate() expected error, got nil")
		}
		if err.Error() != "OpenTelemetry service name is required when OTel is enabled" {
			t.Errorf("Validate() error = %v", err.Error())
		}
	})
}

// TestLoadConfig tests the LoadConfig function
func TestLoadConfig(t *testing.T) {
	// Save current env and restore after test
	envVars := []string{
		"CROZIER_PORT",
		"CROZIER_HEALTH_PORT",
		"CROZIER_DATABASE_URL",
	}
	originalEnv := make(map[string]string)
	for _, k := range envVars {
		originalEnv[k] = os.Getenv(k)
	}
	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{
			name: "valid config",
			env: map[string]string{
				"CROZIER_DATABASE_URL": "postgres://localhost/crozier",
			},
			wantErr: false,
		},
		{
			name:    "missing database URL",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name: "invalid config - same ports",
			env: map[string]string{
				"CROZIER_DATABASE_URL": "postgres://localhost/crozier",
				"CROZIER_PORT":         "8080",
				"CROZIER_HEALTH_PORT":  "8080",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear all env vars
			for _, k := range envVars {
				os.Unsetenv(k)
			}

			// Set test env vars
			for k, v := range tt.env {
				os.Setenv(k, v)
			}

			cfg, err := LoadConfig()
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadConfig() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && cfg == nil {
				t.Error("LoadConfig() returned nil config without error")
			}
		})
	}
}
