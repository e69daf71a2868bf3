package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. Provider and credentials
	switch c.Provider {
	case ProviderGemini:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
				"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
				ErrMissingAPIKey)
		}
	case ProviderOllama:
		if c.OllamaHost == "" {
			return fmt.Errorf("%w: ollama_host cannot be empty when provider is %q",
				ErrInvalidOllamaHost, ProviderOllama)
		}
		if _, err := url.Parse(c.OllamaHost); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOllamaHost, err)
		}
	default:
		return fmt.Errorf("%w: %q (supported: %s, %s)",
			ErrInvalidProvider, c.Provider, ProviderGemini, ProviderOllama)
	}

	// 2. Model configuration
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	// Temperature range: 0.0 (deterministic) to 2.0 (maximum creativity)
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	// 3. Ingestion configuration
	if c.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk_size must be at least 1, got %d", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be in [0, chunk_size), got overlap=%d size=%d",
			ErrInvalidChunking, c.ChunkOverlap, c.ChunkSize)
	}
	if c.BatchSize < 1 || c.BatchSize > 1000 {
		return fmt.Errorf("%w: must be between 1 and 1000, got %d", ErrInvalidBatchSize, c.BatchSize)
	}

	// 4. Retrieval configuration
	if c.TopK < 1 || c.TopK > 50 {
		return fmt.Errorf("%w: must be between 1 and 50, got %d", ErrInvalidTopK, c.TopK)
	}

	// 5. Agent configuration
	if c.MaxRounds < 1 || c.MaxRounds > 20 {
		return fmt.Errorf("%w: must be between 1 and 20, got %d", ErrInvalidMaxRounds, c.MaxRounds)
	}

	// 6. PostgreSQL configuration
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
	if c.PostgresPassword == "pubrag_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}

	// Modern SSL modes only - exclude deprecated allow/prefer (MITM vulnerable).
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if c.PostgresSSLMode == "" {
		return fmt.Errorf("%w: postgres_ssl_mode is empty (should have default from setDefaults)",
			ErrInvalidPostgresSSLMode)
	}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	// 7. Wikipedia configuration
	if c.Wikipedia.BaseURL != "" {
		u, err := url.Parse(c.Wikipedia.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: %q", ErrInvalidWikipediaURL, c.Wikipedia.BaseURL)
		}
	}
	if c.Wikipedia.Limit < 1 || c.Wikipedia.Limit > 20 {
		return fmt.Errorf("%w: must be between 1 and 20, got %d", ErrInvalidWikipediaLimit, c.Wikipedia.Limit)
	}

	return nil
}
