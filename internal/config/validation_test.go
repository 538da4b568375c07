package config

import (
	"errors"
	"os"
	"testing"
)

// validBaseConfig returns a Config with all required fields set.
func validBaseConfig() *Config {
	return &Config{
		ModelName:        "gemini-2.5-flash",
		Temperature:      0.7,
		MaxTokens:        2048,
		EmbedderModel:    "gemini-embedding-001",
		RetrievalTopK:    5,
		ChunkSize:        1200,
		ChunkOverlap:     200,
		StorageDir:       "data/blobs",
		MaxUploadBytes:   16 << 20,
		PostgresHost:     "localhost",
		PostgresPort:     5432,
		PostgresPassword: "test_password",
		PostgresDBName:   "askdoc",
		PostgresSSLMode:  "disable",
	}
}

// setAPIKey sets the required API key and returns a cleanup function.
func setAPIKey(t *testing.T) func() {
	t.Helper()
	if err := os.Setenv("GEMINI_API_KEY", "test-api-key"); err != nil {
		t.Fatalf("setting GEMINI_API_KEY: %v", err)
	}
	return func() { os.Unsetenv("GEMINI_API_KEY") }
}

func TestValidateSuccess(t *testing.T) {
	cleanup := setAPIKey(t)
	defer cleanup()

	cfg := validBaseConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error with valid config: %v", err)
	}
}

func TestValidateMissingAPIKey(t *testing.T) {
	os.Unsetenv("GEMINI_API_KEY")

	cfg := validBaseConfig()
	err := cfg.Validate()
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("Validate() error = %v, want ErrMissingAPIKey", err)
	}
}

func TestValidateErrors(t *testing.T) {
	cleanup := setAPIKey(t)
	defer cleanup()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"empty model name", func(c *Config) { c.ModelName = "" }, ErrInvalidModelName},
		{"temperature too high", func(c *Config) { c.Temperature = 2.5 }, ErrInvalidTemperature},
		{"temperature negative", func(c *Config) { c.Temperature = -0.1 }, ErrInvalidTemperature},
		{"max tokens zero", func(c *Config) { c.MaxTokens = 0 }, ErrInvalidMaxTokens},
		{"empty embedder model", func(c *Config) { c.EmbedderModel = "" }, ErrInvalidEmbedderModel},
		{"top-k zero", func(c *Config) { c.RetrievalTopK = 0 }, ErrInvalidTopK},
		{"top-k too high", func(c *Config) { c.RetrievalTopK = 21 }, ErrInvalidTopK},
		{"chunk size too small", func(c *Config) { c.ChunkSize = 50 }, ErrInvalidChunking},
		{"overlap >= chunk size", func(c *Config) { c.ChunkOverlap = 1200 }, ErrInvalidChunking},
		{"negative overlap", func(c *Config) { c.ChunkOverlap = -1 }, ErrInvalidChunking},
		{"empty storage dir", func(c *Config) { c.StorageDir = "" }, ErrInvalidStorageDir},
		{"zero upload limit", func(c *Config) { c.MaxUploadBytes = 0 }, ErrInvalidMaxUploadBytes},
		{"empty postgres host", func(c *Config) { c.PostgresHost = "" }, ErrInvalidPostgresHost},
		{"postgres port out of range", func(c *Config) { c.PostgresPort = 70000 }, ErrInvalidPostgresPort},
		{"empty db name", func(c *Config) { c.PostgresDBName = "" }, ErrInvalidPostgresDBName},
		{"empty password", func(c *Config) { c.PostgresPassword = "" }, ErrInvalidPostgresPassword},
		{"short password", func(c *Config) { c.PostgresPassword = "short" }, ErrInvalidPostgresPassword},
		{"invalid ssl mode", func(c *Config) { c.PostgresSSLMode = "prefer" }, ErrInvalidPostgresSSLMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBaseConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateNilConfig(t *testing.T) {
	var cfg *Config
	if err := cfg.Validate(); !errors.Is(err, ErrConfigNil) {
		t.Errorf("Validate() on nil config = %v, want ErrConfigNil", err)
	}
}

func TestValidateServe(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"missing secret", func(c *Config) { c.HMACSecret = "" }, ErrMissingHMACSecret},
		{"short secret", func(c *Config) { c.HMACSecret = "too-short" }, ErrInvalidHMACSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBaseConfig()
			cfg.HMACSecret = "0123456789abcdef0123456789abcdef"
			cfg.RateLimit = 10
			cfg.RateBurst = 20
			tt.mutate(cfg)

			err := cfg.ValidateServe()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateServe() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	t.Run("valid", func(t *testing.T) {
		cfg := validBaseConfig()
		cfg.HMACSecret = "0123456789abcdef0123456789abcdef"
		cfg.RateLimit = 10
		cfg.RateBurst = 20
		if err := cfg.ValidateServe(); err != nil {
			t.Errorf("ValidateServe() unexpected error: %v", err)
		}
	})
}

func TestNormalizeMaxHistoryMessages(t *testing.T) {
	tests := []struct {
		name  string
		limit int32
		want  int32
	}{
		{"zero uses default", 0, DefaultMaxHistoryMessages},
		{"negative uses default", -5, DefaultMaxHistoryMessages},
		{"in range unchanged", 200, 200},
		{"above max clamped", MaxAllowedHistoryMessages + 1, MaxAllowedHistoryMessages},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeMaxHistoryMessages(tt.limit); got != tt.want {
				t.Errorf("NormalizeMaxHistoryMessages(%d) = %d, want %d", tt.limit, got, tt.want)
			}
		})
	}
}
