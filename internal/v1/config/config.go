package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration
type Config struct {
	// Listener
	Port string

	// Optional variables with defaults
	NodeEnv       string
	RouterEnabled bool
	DebugSDP      bool

	// Origins (comma separated, "*" permitted)
	AllowedOrigins string

	// TURN credentials gate /readyz
	TurnURL        string
	TurnsURL       string
	TurnUsername   string
	TurnCredential string

	// Identity hook: when set, the "token" query parameter is validated as
	// an HMAC JWT on upgrade
	AuthSecret string

	// Rate limits
	RateLimitWsIP string

	// Tracing
	OTLPEndpoint string
}

// ValidateEnv validates environment variables and returns a Config object.
// Returns an error if any variable is present but invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// PORT (defaults to 5050)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "5050"
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// NODE_ENV (defaults to "production"); "development" permits the
	// permissive CORS default
	cfg.NodeEnv = os.Getenv("NODE_ENV")
	if cfg.NodeEnv == "" {
		cfg.NodeEnv = "production"
	}

	// ROUTER_ENABLED (default on; only the literal "false" disables it)
	cfg.RouterEnabled = os.Getenv("ROUTER_ENABLED") != "false"

	// DEBUG_SDP (default off)
	cfg.DebugSDP = os.Getenv("DEBUG_SDP") == "true"

	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	if cfg.AllowedOrigins == "" && cfg.NodeEnv == "development" {
		cfg.AllowedOrigins = "*"
	}

	cfg.TurnURL = os.Getenv("TURN_URL")
	cfg.TurnsURL = os.Getenv("TURNS_URL")
	cfg.TurnUsername = os.Getenv("TURN_USERNAME")
	cfg.TurnCredential = os.Getenv("TURN_CREDENTIAL")

	cfg.AuthSecret = os.Getenv("AUTH_SECRET")
	if cfg.AuthSecret != "" && len(cfg.AuthSecret) < 32 {
		errors = append(errors, fmt.Sprintf("AUTH_SECRET must be at least 32 characters (got %d)", len(cfg.AuthSecret)))
	}

	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")

	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// IsDevelopment reports whether the permissive development defaults apply.
func (c *Config) IsDevelopment() bool {
	return c.NodeEnv == "development"
}

// TurnConfigured reports whether a TURN relay is fully configured. Readiness
// requires at least one URL plus credentials.
func (c *Config) TurnConfigured() bool {
	return (c.TurnURL != "" || c.TurnsURL != "") && c.TurnUsername != "" && c.TurnCredential != ""
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("Environment configuration validated")
	slog.Info("Configuration",
		"port", cfg.Port,
		"node_env", cfg.NodeEnv,
		"router_enabled", cfg.RouterEnabled,
		"debug_sdp", cfg.DebugSDP,
		"allowed_origins", cfg.AllowedOrigins,
		"turn_configured", cfg.TurnConfigured(),
		"auth_secret", redactSecret(cfg.AuthSecret),
		"rate_limit_ws_ip", cfg.RateLimitWsIP,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
