package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Session       SessionConfig
	Gateway       GatewayConfig
	EventTriggers EventTriggerConfig
	Logging       LoggingConfig
	Observability ObservabilityConfig
	Profiling     ProfilingConfig
}

type ServerConfig struct {
	Port           string
	GinMode        string
	AppEnv         string
	BaseURL        string
	AllowedOrigins []string
}

type DatabaseConfig struct {
	URL      string
	MaxConns int32
	MinConns int32
}

// SessionConfig controls token issuance for the identity API.
type SessionConfig struct {
	JWTSecret            string
	JWTIssuer            string
	AccessTTLMinutes     int
	RefreshTTLHours      int
	TwoFactorTTLMinutes  int
	MaxTwoFactorAttempts int
}

// GatewayConfig controls the client-state side of the gateway: the two
// storage tiers, the auth API base URL and flow timing.
type GatewayConfig struct {
	// StateDir is where the durable tier keeps its backing file.
	StateDir string
	// TabTTLMinutes bounds how long the per-tab tier retains entries for an
	// idle client before it is treated as a closed tab.
	TabTTLMinutes int
	// AuthBaseURL is the base URL of the identity API the flow orchestrator
	// talks to. Defaults to the gateway's own address.
	AuthBaseURL string
	// LoginSuccessDelayMillis is the fixed display delay on the LoginSuccess
	// screen before the flow exits to the dashboard.
	LoginSuccessDelayMillis int
}

type EventTriggerConfig struct {
	TwoFactorCodeTriggerURL string
	PasswordResetTriggerURL string
}

type LoggingConfig struct {
	Level string
	Dir   string
}

type ObservabilityConfig struct {
	ExporterEndpoint  string
	ServiceName       string
	ServiceNamespace  string
	ServiceVersion    string
	ServiceInstanceID string
}

type ProfilingConfig struct {
	Enabled               bool
	Endpoint              string
	AppName               string
	SampleTypes           string
	UploadIntervalSeconds int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("PORT", "8082")
	v.SetDefault("GIN_MODE", "release")
	v.SetDefault("APP_ENV", "production")
	v.SetDefault("BASE_URL", "http://localhost:8082")
	v.SetDefault("ALLOWED_CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_DIR", "/app/logs")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("JWT_ISSUER", "classdesk-portal")
	v.SetDefault("ACCESS_TTL_MINUTES", 15)
	v.SetDefault("REFRESH_TTL_HOURS", 720)
	v.SetDefault("TWOFACTOR_TTL_MINUTES", 10)
	v.SetDefault("TWOFACTOR_MAX_ATTEMPTS", 5)
	v.SetDefault("GATEWAY_STATE_DIR", "/var/lib/classdesk-portal")
	v.SetDefault("GATEWAY_TAB_TTL_MINUTES", 480)
	v.SetDefault("LOGIN_SUCCESS_DELAY_MS", 1500)
	v.SetDefault("O11Y_EXPORTER_ENDPOINT", "")
	v.SetDefault("O11Y_SERVICE_NAME", "classdesk-portal")
	v.SetDefault("O11Y_SERVICE_NAMESPACE", "classdesk")
	v.SetDefault("O11Y_SERVICE_VERSION", "1.0.0")
	v.SetDefault("O11Y_PROFILING_ENABLED", false)
	v.SetDefault("O11Y_PROFILING_APP_NAME", "classdesk-portal")
	v.SetDefault("O11Y_PROFILING_SAMPLE_TYPES", "cpu,alloc_space,goroutines")
	v.SetDefault("O11Y_PROFILING_UPLOAD_INTERVAL_SECONDS", 15)

	// Automatically read environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read from .env file if it exists
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("..")
	_ = v.ReadInConfig() //nolint:errcheck // Ignore error if .env file doesn't exist

	// Parse allowed CORS origins (comma-separated)
	allowedOrigins := []string{}
	for _, origin := range strings.Split(v.GetString("ALLOWED_CORS_ORIGINS"), ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			allowedOrigins = append(allowedOrigins, origin)
		}
	}

	authBaseURL := v.GetString("AUTH_BASE_URL")
	if authBaseURL == "" {
		authBaseURL = v.GetString("BASE_URL")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           v.GetString("PORT"),
			GinMode:        v.GetString("GIN_MODE"),
			AppEnv:         v.GetString("APP_ENV"),
			BaseURL:        v.GetString("BASE_URL"),
			AllowedOrigins: allowedOrigins,
		},
		Database: DatabaseConfig{
			URL:      v.GetString("DATABASE_URL"),
			MaxConns: v.GetInt32("DB_MAX_CONNS"),
			MinConns: v.GetInt32("DB_MIN_CONNS"),
		},
		Session: SessionConfig{
			JWTSecret:            v.GetString("JWT_SECRET"),
			JWTIssuer:            v.GetString("JWT_ISSUER"),
			AccessTTLMinutes:     v.GetInt("ACCESS_TTL_MINUTES"),
			RefreshTTLHours:      v.GetInt("REFRESH_TTL_HOURS"),
			TwoFactorTTLMinutes:  v.GetInt("TWOFACTOR_TTL_MINUTES"),
			MaxTwoFactorAttempts: v.GetInt("TWOFACTOR_MAX_ATTEMPTS"),
		},
		Gateway: GatewayConfig{
			StateDir:                v.GetString("GATEWAY_STATE_DIR"),
			TabTTLMinutes:           v.GetInt("GATEWAY_TAB_TTL_MINUTES"),
			AuthBaseURL:             authBaseURL,
			LoginSuccessDelayMillis: v.GetInt("LOGIN_SUCCESS_DELAY_MS"),
		},
		EventTriggers: EventTriggerConfig{
			TwoFactorCodeTriggerURL: v.GetString("TWOFACTOR_CODE_TRIGGER_URL"),
			PasswordResetTriggerURL: v.GetString("PASSWORD_RESET_TRIGGER_URL"),
		},
		Logging: LoggingConfig{
			Level: v.GetString("LOG_LEVEL"),
			Dir:   v.GetString("LOG_DIR"),
		},
		Observability: ObservabilityConfig{
			ExporterEndpoint:  v.GetString("O11Y_EXPORTER_ENDPOINT"),
			ServiceName:       v.GetString("O11Y_SERVICE_NAME"),
			ServiceNamespace:  v.GetString("O11Y_SERVICE_NAMESPACE"),
			ServiceVersion:    v.GetString("O11Y_SERVICE_VERSION"),
			ServiceInstanceID: v.GetString("SERVICE_INSTANCE_ID"),
		},
		Profiling: ProfilingConfig{
			Enabled:               v.GetBool("O11Y_PROFILING_ENABLED"),
			Endpoint:              v.GetString("O11Y_PROFILING_ENDPOINT"),
			AppName:               v.GetString("O11Y_PROFILING_APP_NAME"),
			SampleTypes:           v.GetString("O11Y_PROFILING_SAMPLE_TYPES"),
			UploadIntervalSeconds: v.GetInt("O11Y_PROFILING_UPLOAD_INTERVAL_SECONDS"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration values are set
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Session.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("BASE_URL is required")
	}
	if len(c.Server.AllowedOrigins) == 0 {
		return fmt.Errorf("ALLOWED_CORS_ORIGINS is required")
	}
	if c.Gateway.StateDir == "" {
		return fmt.Errorf("GATEWAY_STATE_DIR is required")
	}
	if c.Profiling.Enabled && c.Profiling.Endpoint == "" {
		return fmt.Errorf("O11Y_PROFILING_ENDPOINT is required when profiling is enabled")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Server.AppEnv == "development" || c.Server.GinMode == "debug"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Server.AppEnv == "production"
}
