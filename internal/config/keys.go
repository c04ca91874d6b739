package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "VECDOCS_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "VECDOCS_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "log.level", typ: kString, env: "VECDOCS_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "storage.backend", typ: kString, env: "VECDOCS_STORAGE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Backend },
	},
	{
		key: "storage.data_dir", typ: kString, env: "VECDOCS_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.default_index", typ: kString, env: "VECDOCS_STORAGE_DEFAULT_INDEX",
		apply:   func(cfg *Config, v any) { cfg.Storage.DefaultIndex = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DefaultIndex },
	},
	{
		key: "storage.dimension", typ: kInt, env: "VECDOCS_STORAGE_DIMENSION",
		apply:   func(cfg *Config, v any) { cfg.Storage.Dimension = v.(int) },
		extract: func(cfg Config) any { return cfg.Storage.Dimension },
	},
	{
		key: "storage.metric", typ: kString, env: "VECDOCS_STORAGE_METRIC",
		apply:   func(cfg *Config, v any) { cfg.Storage.Metric = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Metric },
	},
	{
		key: "storage.auto_create_index", typ: kBool, env: "VECDOCS_STORAGE_AUTO_CREATE_INDEX",
		apply:   func(cfg *Config, v any) { cfg.Storage.AutoCreateIndex = v.(bool) },
		extract: func(cfg Config) any { return cfg.Storage.AutoCreateIndex },
	},
	{
		key: "postgres.dsn", typ: kString, env: "VECDOCS_POSTGRES_DSN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Postgres.DSN = v.(string) },
		extract: func(cfg Config) any { return cfg.Postgres.DSN },
	},
	{
		key: "qdrant.host", typ: kString, env: "VECDOCS_QDRANT_HOST",
		apply:   func(cfg *Config, v any) { cfg.Qdrant.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Qdrant.Host },
	},
	{
		key: "qdrant.port", typ: kInt, env: "VECDOCS_QDRANT_PORT",
		apply:   func(cfg *Config, v any) { cfg.Qdrant.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Qdrant.Port },
	},
	{
		key: "qdrant.api_key", typ: kString, env: "VECDOCS_QDRANT_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Qdrant.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Qdrant.APIKey },
	},
	{
		key: "qdrant.use_tls", typ: kBool, env: "VECDOCS_QDRANT_USE_TLS",
		apply:   func(cfg *Config, v any) { cfg.Qdrant.UseTLS = v.(bool) },
		extract: func(cfg Config) any { return cfg.Qdrant.UseTLS },
	},
	{
		key: "embedding.provider", typ: kString, env: "VECDOCS_EMBEDDING_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Provider },
	},
	{
		key: "embedding.model", typ: kString, env: "VECDOCS_EMBEDDING_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Model },
	},
	{
		key: "embedding.batch_size", typ: kInt, env: "VECDOCS_EMBEDDING_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Embedding.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.BatchSize },
	},
	{
		key: "llm.provider", typ: kString, env: "VECDOCS_LLM_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.LLM.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Provider },
	},
	{
		key: "llm.model", typ: kString, env: "VECDOCS_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "ollama.base_url", typ: kString, env: "VECDOCS_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "openai.base_url", typ: kString, env: "VECDOCS_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.api_key", typ: kString, env: "VECDOCS_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "openrouter.base_url", typ: kString, env: "VECDOCS_OPENROUTER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.BaseURL },
	},
	{
		key: "openrouter.api_key", typ: kString, env: "VECDOCS_OPENROUTER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.APIKey },
	},
	{
		key: "chunking.strategy", typ: kString, env: "VECDOCS_CHUNKING_STRATEGY",
		apply:   func(cfg *Config, v any) { cfg.Chunking.Strategy = v.(string) },
		extract: func(cfg Config) any { return cfg.Chunking.Strategy },
	},
	{
		key: "chunking.size", typ: kInt, env: "VECDOCS_CHUNKING_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Chunking.Size = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunking.Size },
	},
	{
		key: "chunking.overlap", typ: kInt, env: "VECDOCS_CHUNKING_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Chunking.Overlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunking.Overlap },
	},
	{
		key: "chunking.separator", typ: kString, env: "VECDOCS_CHUNKING_SEPARATOR",
		apply:   func(cfg *Config, v any) { cfg.Chunking.Separator = v.(string) },
		extract: func(cfg Config) any { return cfg.Chunking.Separator },
	},
	{
		key: "chunking.extract_metadata", typ: kBool, env: "VECDOCS_CHUNKING_EXTRACT_METADATA",
		apply:   func(cfg *Config, v any) { cfg.Chunking.ExtractMetadata = v.(bool) },
		extract: func(cfg Config) any { return cfg.Chunking.ExtractMetadata },
	},
	{
		key: "duplicate.enabled", typ: kBool, env: "VECDOCS_DUPLICATE_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Duplicate.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Duplicate.Enabled },
	},
	{
		key: "duplicate.threshold", typ: kFloat, env: "VECDOCS_DUPLICATE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Duplicate.Threshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Duplicate.Threshold },
	},
	{
		key: "duplicate.strategy", typ: kString, env: "VECDOCS_DUPLICATE_STRATEGY",
		apply:   func(cfg *Config, v any) { cfg.Duplicate.Strategy = v.(string) },
		extract: func(cfg Config) any { return cfg.Duplicate.Strategy },
	},
	{
		key: "duplicate.top_k", typ: kInt, env: "VECDOCS_DUPLICATE_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Duplicate.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Duplicate.TopK },
	},
	{
		key: "ingest.redirect_threshold", typ: kFloat, env: "VECDOCS_INGEST_REDIRECT_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Ingest.RedirectThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Ingest.RedirectThreshold },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
