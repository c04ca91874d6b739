package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/kalambet/vecdocs/internal/apperr"
	"github.com/kalambet/vecdocs/internal/chunker"
	"github.com/kalambet/vecdocs/internal/duplicate"
	"github.com/kalambet/vecdocs/internal/engine"
	"github.com/kalambet/vecdocs/internal/openai"
	"github.com/kalambet/vecdocs/internal/vectorstore"
)

type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Storage    StorageConfig
	Postgres   PostgresConfig
	Qdrant     QdrantConfig
	Embedding  ModelConfig
	LLM        ModelConfig
	Ollama     EndpointConfig
	OpenAI     EndpointConfig
	OpenRouter EndpointConfig
	Chunking   ChunkingConfig
	Duplicate  DuplicateConfig
	Ingest     IngestConfig
}

type ServerConfig struct {
	Port  int
	Token string
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	Backend         string
	DataDir         string
	DefaultIndex    string
	Dimension       int
	Metric          string
	AutoCreateIndex bool
}

type PostgresConfig struct {
	DSN string
}

type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// ModelConfig names a provider and a model served by it. BatchSize is
// used for embeddings only.
type ModelConfig struct {
	Provider  string
	Model     string
	BatchSize int
}

type EndpointConfig struct {
	BaseURL string
	APIKey  string
}

type ChunkingConfig struct {
	Strategy        string
	Size            int
	Overlap         int
	Separator       string
	ExtractMetadata bool
}

type DuplicateConfig struct {
	Enabled   bool
	Threshold float64
	Strategy  string
	TopK      int
}

type IngestConfig struct {
	RedirectThreshold float64
}

func defaults() Config {
	return Config{
		Server: ServerConfig{Port: 4000},
		Log:    LogConfig{Level: "info"},
		Storage: StorageConfig{
			Backend:         vectorstore.BackendSQLite,
			DataDir:         defaultDataDir(),
			DefaultIndex:    "documents",
			Dimension:       768,
			Metric:          string(vectorstore.Cosine),
			AutoCreateIndex: true,
		},
		Qdrant: QdrantConfig{Host: "localhost", Port: 6334},
		Embedding: ModelConfig{
			Provider:  engine.ProviderOllama,
			Model:     "nomic-embed-text",
			BatchSize: 64,
		},
		LLM: ModelConfig{
			Provider: engine.ProviderOllama,
			Model:    "llama3.2",
		},
		Ollama:     EndpointConfig{BaseURL: "http://localhost:11434"},
		OpenAI:     EndpointConfig{BaseURL: openai.DefaultBaseURL},
		OpenRouter: EndpointConfig{BaseURL: openai.OpenRouterBaseURL},
		Chunking: ChunkingConfig{
			Strategy: string(chunker.Recursive),
			Size:     chunker.DefaultSize,
			Overlap:  chunker.DefaultOverlap,
		},
		Duplicate: DuplicateConfig{
			Enabled:   true,
			Threshold: duplicate.DefaultThreshold,
			Strategy:  string(duplicate.Semantic),
			TopK:      duplicate.DefaultTopK,
		},
		Ingest: IngestConfig{RedirectThreshold: 0.95},
	}
}

// Load reads configuration from the TOML config file, a .env file in the
// working directory and VECDOCS_* environment variables, in increasing
// order of precedence. Variables from .env never override variables that
// are already set. The result is validated.
func Load() (Config, error) {
	return loadFromPath(FilePath(), ".env")
}

func loadFromPath(path, dotenv string) (Config, error) {
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "[WARN] could not read %s: %v\n", dotenv, err)
		}
	}
	return loadWith(newFileBackend(path))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings that would otherwise fail late, deep inside
// a request. All problems are reported together.
func (c Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if !contains(vectorstore.Backends(), strings.ToLower(c.Storage.Backend)) {
		errs = append(errs, fmt.Errorf("%w: storage.backend %q (want one of %s)",
			vectorstore.ErrUnsupportedBackend, c.Storage.Backend, strings.Join(vectorstore.Backends(), ", ")))
	}
	if strings.EqualFold(c.Storage.Backend, vectorstore.BackendPGVector) && c.Postgres.DSN == "" {
		errs = append(errs, fmt.Errorf("postgres.dsn is required for the pgvector backend; set VECDOCS_POSTGRES_DSN"))
	}
	if c.Storage.DefaultIndex != "" {
		if err := vectorstore.ValidateIndexName(c.Storage.DefaultIndex); err != nil {
			errs = append(errs, fmt.Errorf("storage.default_index: %w", err))
		}
	}
	if c.Storage.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("storage.dimension must be positive, got %d", c.Storage.Dimension))
	}
	if _, err := vectorstore.ParseMetric(c.Storage.Metric); err != nil {
		errs = append(errs, fmt.Errorf("storage.metric: %w", err))
	}
	for name, p := range map[string]string{"embedding.provider": c.Embedding.Provider, "llm.provider": c.LLM.Provider} {
		if !contains(engine.Providers(), strings.ToLower(p)) {
			errs = append(errs, fmt.Errorf("%w: %s %q (want one of %s)",
				engine.ErrUnsupportedProvider, name, p, strings.Join(engine.Providers(), ", ")))
		}
	}
	if err := c.ChunkOptions().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("chunking: %w", err))
	}
	if _, err := duplicate.ParseStrategy(c.Duplicate.Strategy); err != nil {
		errs = append(errs, fmt.Errorf("duplicate.strategy: %w", err))
	} else if err := c.DuplicateSettings().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("duplicate: %w", err))
	}
	if c.Ingest.RedirectThreshold <= 0 {
		errs = append(errs, fmt.Errorf("ingest.redirect_threshold must be positive, got %v", c.Ingest.RedirectThreshold))
	}

	if len(errs) == 0 {
		return nil
	}
	code := apperr.InvalidConfiguration
	for _, err := range errs {
		if errors.Is(err, engine.ErrUnsupportedProvider) {
			code = apperr.UnsupportedProvider
			break
		}
	}
	return apperr.New(code, "invalid configuration", errors.Join(errs...), nil)
}

// ChunkOptions returns the chunker settings.
func (c Config) ChunkOptions() chunker.Options {
	strategy, err := chunker.ParseStrategy(c.Chunking.Strategy)
	if err != nil {
		strategy = chunker.Strategy(c.Chunking.Strategy)
	}
	return chunker.Options{
		Strategy:        strategy,
		Size:            c.Chunking.Size,
		Overlap:         c.Chunking.Overlap,
		Separator:       c.Chunking.Separator,
		ExtractMetadata: c.Chunking.ExtractMetadata,
	}
}

// DuplicateSettings returns the duplicate check settings.
func (c Config) DuplicateSettings() duplicate.Config {
	strategy, _ := duplicate.ParseStrategy(c.Duplicate.Strategy)
	return duplicate.Config{
		Enabled:   c.Duplicate.Enabled,
		Threshold: c.Duplicate.Threshold,
		Strategy:  strategy,
		TopK:      c.Duplicate.TopK,
	}
}

// BackendConfig returns the storage backend settings.
func (c Config) BackendConfig() vectorstore.BackendConfig {
	return vectorstore.BackendConfig{
		Backend:     c.Storage.Backend,
		DataDir:     c.Storage.DataDir,
		PostgresDSN: c.Postgres.DSN,
		Qdrant: vectorstore.QdrantConfig{
			Host:   c.Qdrant.Host,
			Port:   c.Qdrant.Port,
			APIKey: c.Qdrant.APIKey,
			UseTLS: c.Qdrant.UseTLS,
		},
	}
}

// ProviderConfig returns the endpoint settings for a provider name.
func (c Config) ProviderConfig(provider string) engine.ProviderConfig {
	pc := engine.ProviderConfig{Provider: provider}
	switch strings.ToLower(provider) {
	case engine.ProviderOllama:
		pc.BaseURL = c.Ollama.BaseURL
	case engine.ProviderOpenAI:
		pc.BaseURL, pc.APIKey = c.OpenAI.BaseURL, c.OpenAI.APIKey
	case engine.ProviderOpenRouter:
		pc.BaseURL, pc.APIKey = c.OpenRouter.BaseURL, c.OpenRouter.APIKey
	}
	return pc
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
