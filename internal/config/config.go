// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Orquest OrquestConfig `mapstructure:"orquest"`
	Storage StorageConfig `mapstructure:"storage"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Webhook WebhookConfig `mapstructure:"webhook"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// OrquestConfig contains the upstream workforce-scheduling API settings
type OrquestConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	ServicesPath   string        `mapstructure:"services_path"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	MaxRetryDelay  time.Duration `mapstructure:"max_retry_delay"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres, mysql
	ConnectionString string        `mapstructure:"connection_string"`
	Credential       string        `mapstructure:"credential"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
}

// SyncConfig controls the pull syncer
type SyncConfig struct {
	Interval     time.Duration `mapstructure:"interval"` // 0 disables the in-process schedule
	RunOnStart   bool          `mapstructure:"run_on_start"`
	PruneMissing bool          `mapstructure:"prune_missing"`
}

// WebhookConfig controls the webhook receiver
type WebhookConfig struct {
	Secret            string `mapstructure:"secret"`
	SignatureHeader   string `mapstructure:"signature_header"`
	RejectStaleEvents bool   `mapstructure:"reject_stale_events"`
	RecordEvents      bool   `mapstructure:"record_events"`
	MaxBodyBytes      int64  `mapstructure:"max_body_bytes"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	Host              string        `mapstructure:"host"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	EnableMetrics     bool          `mapstructure:"enable_metrics"`
	EnableHealth      bool          `mapstructure:"enable_health"`
	CORSAllowedOrigin string        `mapstructure:"cors_allowed_origin"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from an optional .env file, an optional YAML file
// and environment variables, in increasing order of precedence.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Set environment variable prefix
	v.SetEnvPrefix("ORQUEST_SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configPath != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	applyEnvOverrides(&config)

	return &config, nil
}

// applyEnvOverrides honours the plain variable names the hosting platform
// injects alongside the prefixed ones.
func applyEnvOverrides(config *Config) {
	if apiKey := os.Getenv("ORQUEST_API_KEY"); apiKey != "" {
		config.Orquest.APIKey = apiKey
	}
	if baseURL := os.Getenv("ORQUEST_BASE_URL"); baseURL != "" {
		config.Orquest.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Storage.ConnectionString = dbURL
	}
	if credential := os.Getenv("DATABASE_SERVICE_KEY"); credential != "" {
		config.Storage.Credential = credential
	}
	if secret := os.Getenv("ORQUEST_WEBHOOK_SECRET"); secret != "" {
		config.Webhook.Secret = secret
	}
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "orquest-sync")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	// Orquest defaults
	v.SetDefault("orquest.api_key", "")
	v.SetDefault("orquest.base_url", "https://api.orquest.com/api/v1")
	v.SetDefault("orquest.services_path", "/services")
	v.SetDefault("orquest.request_timeout", "30s")
	v.SetDefault("orquest.retry_attempts", 1)
	v.SetDefault("orquest.retry_delay", "2s")
	v.SetDefault("orquest.max_retry_delay", "30s")
	v.SetDefault("orquest.user_agent", "orquest-sync/1.0")

	// Storage defaults
	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.connection_string", "./data/services.db")
	v.SetDefault("storage.credential", "")
	v.SetDefault("storage.max_connections", 10)
	v.SetDefault("storage.max_idle_time", "15m")

	// Sync defaults
	v.SetDefault("sync.interval", "0s")
	v.SetDefault("sync.run_on_start", false)
	v.SetDefault("sync.prune_missing", false)

	// Webhook defaults
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.signature_header", "X-Orquest-Signature")
	v.SetDefault("webhook.reject_stale_events", false)
	v.SetDefault("webhook.record_events", true)
	v.SetDefault("webhook.max_body_bytes", 1<<20)

	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.enable_health", true)
	v.SetDefault("server.cors_allowed_origin", "*")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file", "")
}

// Validate validates the configuration. A missing Orquest API key is not a
// configuration error: the sync endpoint reports it per request.
func (c *Config) Validate() error {
	if c.Orquest.BaseURL == "" {
		return fmt.Errorf("orquest base URL is required")
	}
	if c.Orquest.RetryAttempts < 1 {
		return fmt.Errorf("orquest retry attempts must be at least 1")
	}
	if c.Orquest.RequestTimeout < 0 {
		return fmt.Errorf("orquest request timeout must not be negative")
	}
	if c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage connection string is required")
	}
	switch strings.ToLower(c.Storage.Type) {
	case "sqlite", "postgres", "postgresql", "mysql":
	default:
		return fmt.Errorf("unsupported storage type %q", c.Storage.Type)
	}
	if c.Storage.MaxConnections <= 0 {
		return fmt.Errorf("storage max connections must be positive")
	}
	if c.Sync.Interval < 0 {
		return fmt.Errorf("sync interval must not be negative")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d is out of range", c.Server.Port)
	}
	return nil
}

// HasAPIKey reports whether provider credentials are present
func (c *OrquestConfig) HasAPIKey() bool {
	return strings.TrimSpace(c.APIKey) != ""
}
