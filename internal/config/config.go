// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.askdoc/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - AI: model selection, temperature, max tokens, embedder
//   - Storage: PostgreSQL connection and blob directory (see storage.go)
//   - Indexing: chunk size, overlap, retrieval top-k
//   - Server: listen address, CORS, rate limiting, HMAC secret
//   - Tracing: OTLP trace export (optional)
//
// Security: sensitive data (passwords, secrets) are never logged; the config
// directory uses 0750 permissions.
// Validation: range checks in validation.go with sentinel errors for errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidTopK indicates the retrieval top-k value is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top-k")

	// ErrInvalidChunking indicates the chunking parameters are inconsistent.
	ErrInvalidChunking = errors.New("invalid chunking parameters")

	// ErrInvalidStorageDir indicates the blob storage directory is invalid.
	ErrInvalidStorageDir = errors.New("invalid storage directory")

	// ErrInvalidMaxUploadBytes indicates the upload size limit is out of range.
	ErrInvalidMaxUploadBytes = errors.New("invalid max upload bytes")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrMissingHMACSecret indicates the HMAC secret is not set.
	ErrMissingHMACSecret = errors.New("missing HMAC secret")

	// ErrInvalidHMACSecret indicates the HMAC secret is too short.
	ErrInvalidHMACSecret = errors.New("invalid HMAC secret")
)

const (
	// DefaultEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 outputs 3072 dimensions by default, but supports
	// truncation to 768 via OutputDimensionality. The pgvector schema uses
	// 768 dimensions; see retrieval.VectorDimension.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultMaxHistoryMessages is the default number of messages to load
	// for conversation context.
	DefaultMaxHistoryMessages int32 = 50

	// MaxAllowedHistoryMessages is the absolute maximum to prevent OOM.
	MaxAllowedHistoryMessages int32 = 1000
)

// TracingConfig holds OTLP trace export configuration.
//
// Tracing is optional: an empty Endpoint disables export entirely.
type TracingConfig struct {
	// Endpoint is the OTLP/HTTP collector endpoint (e.g. localhost:4318).
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`
	// Environment is the deployment environment tag (default: dev)
	Environment string `mapstructure:"environment" json:"environment"`
	// ServiceName is the service name reported on spans (default: askdoc)
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens), update MarshalJSON.
type Config struct {
	// AI model configuration
	ModelName   string  `mapstructure:"model_name" json:"model_name"` // e.g. "gemini-2.5-flash"
	Temperature float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Embedding and retrieval configuration
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`
	RetrievalTopK int    `mapstructure:"retrieval_top_k" json:"retrieval_top_k"`

	// Document chunking configuration (rune counts)
	ChunkSize    int `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap" json:"chunk_overlap"`

	// Conversation history configuration
	MaxHistoryMessages int32 `mapstructure:"max_history_messages" json:"max_history_messages"`

	// Blob storage configuration
	StorageDir     string `mapstructure:"storage_dir" json:"storage_dir"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes" json:"max_upload_bytes"`

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// HTTP server configuration
	ListenAddr  string   `mapstructure:"listen_addr" json:"listen_addr"`
	HMACSecret  string   `mapstructure:"hmac_secret" json:"hmac_secret"` // SENSITIVE: masked in MarshalJSON
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // Trust X-Real-IP/X-Forwarded-For headers (set true behind reverse proxy)
	RateLimit   float64  `mapstructure:"rate_limit" json:"rate_limit"`   // requests per second per client IP
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`

	// Tracing configuration
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	// Configuration directory: ~/.askdoc/
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".askdoc")

	// Ensure directory exists (use 0750 permission for better security)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	// Configure Viper
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	// Set default values
	setDefaults()

	// Bind environment variables
	bindEnvVariables()

	// Read configuration file (if exists)
	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	// Use Unmarshal to automatically map to struct (type-safe)
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Parse DATABASE_URL if set (highest priority for PostgreSQL config)
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// CRITICAL: Validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// AI defaults
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("max_tokens", 2048)
	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("retrieval_top_k", 5)
	viper.SetDefault("max_history_messages", DefaultMaxHistoryMessages)

	// Chunking defaults
	viper.SetDefault("chunk_size", 1200)
	viper.SetDefault("chunk_overlap", 200)

	// Blob storage defaults
	viper.SetDefault("storage_dir", "data/blobs")
	viper.SetDefault("max_upload_bytes", int64(16<<20))

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "askdoc")
	viper.SetDefault("postgres_password", "askdoc_dev_password")
	viper.SetDefault("postgres_db_name", "askdoc")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// HTTP server defaults
	viper.SetDefault("listen_addr", ":8080")
	viper.SetDefault("cors_origins", []string{"http://localhost:5173"})
	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_limit", 10.0)
	viper.SetDefault("rate_burst", 20)

	// Tracing defaults (empty endpoint disables export)
	viper.SetDefault("tracing.endpoint", "")
	viper.SetDefault("tracing.environment", "dev")
	viper.SetDefault("tracing.service_name", "askdoc")
}

// bindEnvVariables binds environment variables explicitly.
// Secrets are env-only:
//  1. GEMINI_API_KEY - read directly by the genai client, validated in cfg.Validate()
//  2. HMAC_SECRET - HMAC secret for CSRF tokens and identity cookies
//  3. DATABASE_URL - parsed in parseDatabaseURL, overrides postgres_* settings
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	// HMAC secret (CSRF tokens and signed identity cookies)
	mustBind("hmac_secret", "HMAC_SECRET")

	// Server overrides
	mustBind("listen_addr", "ASKDOC_LISTEN_ADDR")
	mustBind("cors_origins", "ASKDOC_CORS_ORIGINS")
	mustBind("trust_proxy", "ASKDOC_TRUST_PROXY")

	// AI model overrides
	mustBind("model_name", "ASKDOC_MODEL_NAME")
	mustBind("embedder_model", "ASKDOC_EMBEDDER_MODEL")

	// Blob storage override
	mustBind("storage_dir", "ASKDOC_STORAGE_DIR")

	// Tracing endpoint
	mustBind("tracing.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")

	// NOTE: GEMINI_API_KEY is read directly by the genai client, not via Viper.
	// Validation checks its presence in cfg.Validate().
}

// maskedValue is the placeholder for masked sensitive data.
// Using ████████ (full-width blocks U+2588) to avoid substring matching
// against real secret characters.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Shows first 2 and last 2 characters, masks the rest.
// SECURITY: For secrets <=8 chars, fully masks to prevent substring attacks.
//
// THREAT MODEL: This defends against accidental logging of real secrets.
// It is NOT cryptographically secure - if logs are compromised, rotate secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	// Fully mask short secrets to prevent substring matching attacks
	if len(s) <= 8 {
		return maskedValue
	}
	prefix := make([]byte, 2)
	suffix := make([]byte, 2)
	copy(prefix, s[:2])
	copy(suffix, s[len(s)-2:])
	return string(prefix) + "<" + maskedValue + ">" + string(suffix)
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - PostgresPassword
//   - HMACSecret
//
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.HMACSecret = maskSecret(a.HMACSecret)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
