package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. API Key validation (required for all AI operations)
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
			"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
			ErrMissingAPIKey)
	}

	// 2. Model configuration validation
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	// Temperature range: 0.0 (deterministic) to 2.0 (maximum creativity)
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	// MaxTokens range: 1 to 2097152 (Gemini 2.5 max context window)
	if c.MaxTokens < 1 || c.MaxTokens > 2097152 {
		return fmt.Errorf("%w: must be between 1 and 2,097,152, got %d", ErrInvalidMaxTokens, c.MaxTokens)
	}

	// 3. Embedding and retrieval validation
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	if c.RetrievalTopK <= 0 || c.RetrievalTopK > 20 {
		return fmt.Errorf("%w: must be between 1 and 20, got %d", ErrInvalidTopK, c.RetrievalTopK)
	}

	// 4. Chunking validation: overlap must leave forward progress
	if c.ChunkSize < 100 || c.ChunkSize > 100000 {
		return fmt.Errorf("%w: chunk_size must be between 100 and 100,000, got %d", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be in [0, chunk_size), got %d with chunk_size %d",
			ErrInvalidChunking, c.ChunkOverlap, c.ChunkSize)
	}

	// 5. Blob storage validation
	if c.StorageDir == "" {
		return fmt.Errorf("%w: storage_dir cannot be empty", ErrInvalidStorageDir)
	}
	if c.MaxUploadBytes < 1 || c.MaxUploadBytes > 1<<30 {
		return fmt.Errorf("%w: must be between 1 byte and 1 GiB, got %d", ErrInvalidMaxUploadBytes, c.MaxUploadBytes)
	}

	// 6. PostgreSQL configuration validation
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set in config.yaml",
			ErrInvalidPostgresPassword)
	}

	// Warn if using default dev password (but don't block - user might be in dev)
	if c.PostgresPassword == "askdoc_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}

	// Validate password strength (minimum 8 characters)
	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// 7. PostgreSQL SSL mode validation
	// Modern SSL modes only - exclude deprecated allow/prefer (MITM vulnerable)
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if c.PostgresSSLMode == "" {
		return fmt.Errorf("%w: postgres_ssl_mode is empty (should have default from setDefaults)",
			ErrInvalidPostgresSSLMode)
	}

	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v\n"+
			"Note: 'allow' and 'prefer' modes are deprecated (vulnerable to MITM attacks)",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}

// ValidateServe validates the additional settings required by the HTTP server.
// Separate from Validate so CLI commands that never serve (migrate, version)
// do not require an HMAC secret.
func (c *Config) ValidateServe() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.HMACSecret == "" {
		return fmt.Errorf("%w: HMAC_SECRET environment variable is required for serve mode", ErrMissingHMACSecret)
	}
	if len(c.HMACSecret) < 32 {
		return fmt.Errorf("%w: must be at least 32 characters (got %d)", ErrInvalidHMACSecret, len(c.HMACSecret))
	}

	if c.RateLimit <= 0 {
		return fmt.Errorf("rate_limit must be positive, got %v", c.RateLimit)
	}
	if c.RateBurst < 1 {
		return fmt.Errorf("rate_burst must be at least 1, got %d", c.RateBurst)
	}

	return nil
}

// NormalizeMaxHistoryMessages clamps a history limit into the allowed range.
// Zero or negative values fall back to the default.
func NormalizeMaxHistoryMessages(limit int32) int32 {
	if limit <= 0 {
		return DefaultMaxHistoryMessages
	}
	if limit > MaxAllowedHistoryMessages {
		return MaxAllowedHistoryMessages
	}
	return limit
}
