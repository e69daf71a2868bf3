// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.pubrag/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - AI: Provider, model selection, temperature, embedder
//   - Storage: PostgreSQL connection (see storage.go)
//   - Retrieval: chunking, batching, top-k
//   - Agent: round limit, history folding
//   - Wikipedia: auxiliary search endpoint
//   - Observability: OTLP trace export
//
// Security: sensitive data (passwords) is never logged; config directory uses 0750 permissions.
// Validation: range checks in validation.go with sentinel errors for errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

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

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")

	// ErrInvalidTopK indicates the retrieval top-k is out of range.
	ErrInvalidTopK = errors.New("invalid top-k")

	// ErrInvalidChunking indicates the chunk size/overlap combination is invalid.
	ErrInvalidChunking = errors.New("invalid chunking")

	// ErrInvalidBatchSize indicates the upsert batch size is out of range.
	ErrInvalidBatchSize = errors.New("invalid batch size")

	// ErrInvalidMaxRounds indicates the agent round limit is out of range.
	ErrInvalidMaxRounds = errors.New("invalid max rounds")

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

	// ErrInvalidWikipediaURL indicates the Wikipedia API base URL is invalid.
	ErrInvalidWikipediaURL = errors.New("invalid Wikipedia base URL")

	// ErrInvalidWikipediaLimit indicates the Wikipedia result limit is out of range.
	ErrInvalidWikipediaLimit = errors.New("invalid Wikipedia result limit")
)

const (
	// DefaultGeminiEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 supports truncation to 768 dimensions via
	// OutputDimensionality; the pgvector schema uses 768.
	DefaultGeminiEmbedderModel = "gemini-embedding-001"

	// DefaultChunkSize is the default character length of corpus chunks.
	DefaultChunkSize = 5000

	// DefaultChunkOverlap is the default character overlap between
	// consecutive chunks.
	DefaultChunkOverlap = 100

	// DefaultBatchSize is the default number of chunks per upsert batch.
	DefaultBatchSize = 50

	// DefaultTopK is the default number of chunks returned per retrieval.
	DefaultTopK = 2

	// DefaultMaxRounds is the default agent tool-round limit.
	DefaultMaxRounds = 5
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
	ProviderGoogleAI = "googleai"
)

// WikipediaConfig configures the auxiliary Wikipedia search tool.
type WikipediaConfig struct {
	BaseURL string `mapstructure:"base_url" json:"base_url"`
	Limit   int    `mapstructure:"limit" json:"limit"`
}

// OtelConfig configures OTLP trace export. Endpoint empty disables export.
type OtelConfig struct {
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	Environment string `mapstructure:"environment" json:"environment"`
}

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys), update MarshalJSON.
type Config struct {
	// AI provider and model configuration
	Provider    string  `mapstructure:"provider" json:"provider"`     // "gemini" (default), "ollama"
	ModelName   string  `mapstructure:"model_name" json:"model_name"` // e.g. "gemini-2.5-flash", "llama3.3"
	Temperature float32 `mapstructure:"temperature" json:"temperature"`

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Embedding configuration
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`

	// Ingestion configuration
	ChunkSize    int `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap" json:"chunk_overlap"`
	BatchSize    int `mapstructure:"batch_size" json:"batch_size"`

	// Retrieval configuration
	TopK int `mapstructure:"top_k" json:"top_k"`

	// Agent configuration
	MaxRounds      int  `mapstructure:"max_rounds" json:"max_rounds"`
	IncludeHistory bool `mapstructure:"include_history" json:"include_history"`

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Auxiliary tool configuration
	Wikipedia WikipediaConfig `mapstructure:"wikipedia" json:"wikipedia"`

	// Observability configuration
	Otel OtelConfig `mapstructure:"otel" json:"otel"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".pubrag")

	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

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

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("temperature", 0.2)
	viper.SetDefault("embedder_model", DefaultGeminiEmbedderModel)

	// Ollama defaults
	viper.SetDefault("ollama_host", "http://localhost:11434")

	// Ingestion defaults
	viper.SetDefault("chunk_size", DefaultChunkSize)
	viper.SetDefault("chunk_overlap", DefaultChunkOverlap)
	viper.SetDefault("batch_size", DefaultBatchSize)

	// Retrieval defaults
	viper.SetDefault("top_k", DefaultTopK)

	// Agent defaults
	viper.SetDefault("max_rounds", DefaultMaxRounds)
	viper.SetDefault("include_history", false)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "pubrag")
	viper.SetDefault("postgres_password", "pubrag_dev_password")
	viper.SetDefault("postgres_db_name", "pubrag")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Wikipedia defaults
	viper.SetDefault("wikipedia.base_url", "https://en.wikipedia.org/w/api.php")
	viper.SetDefault("wikipedia.limit", 3)

	// Observability defaults (endpoint empty = export disabled)
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.service_name", "pubrag")
	viper.SetDefault("otel.environment", "dev")
}

// bindEnvVariables binds environment variable overrides explicitly.
//
// NOTE: GEMINI_API_KEY is read directly by Genkit, not via Viper.
// Validation checks its presence based on the selected provider.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "PUBRAG_PROVIDER")
	mustBind("model_name", "PUBRAG_MODEL_NAME")
	mustBind("embedder_model", "PUBRAG_EMBEDDER_MODEL")
	mustBind("ollama_host", "PUBRAG_OLLAMA_HOST")
	mustBind("max_rounds", "PUBRAG_MAX_ROUNDS")
	mustBind("top_k", "PUBRAG_TOP_K")
	mustBind("include_history", "PUBRAG_INCLUDE_HISTORY")
	mustBind("otel.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks (U+2588) avoid substring matching against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 characters or fewer are fully masked; longer secrets show
// the first and last 2 characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - PostgresPassword
//
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "ollama/llama3.3".
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	switch c.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + c.ModelName
	default:
		return ProviderGoogleAI + "/" + c.ModelName
	}
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
