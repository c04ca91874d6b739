package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/vecdocs/internal/apperr"
	"github.com/kalambet/vecdocs/internal/chunker"
	"github.com/kalambet/vecdocs/internal/duplicate"
	"github.com/kalambet/vecdocs/internal/engine"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	path := writeTempConfig(t, `# empty config`)

	cfg, err := loadFromPath(path, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("Storage.Backend = %q, want sqlite", cfg.Storage.Backend)
	}
	if cfg.Storage.DefaultIndex != "documents" {
		t.Errorf("Storage.DefaultIndex = %q, want documents", cfg.Storage.DefaultIndex)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q, want %q", cfg.Ollama.BaseURL, "http://localhost:11434")
	}
	if cfg.Embedding.Provider != engine.ProviderOllama || cfg.Embedding.Model != "nomic-embed-text" {
		t.Errorf("Embedding = %+v", cfg.Embedding)
	}
	if cfg.Chunking.Size != 512 || cfg.Chunking.Overlap != 50 {
		t.Errorf("Chunking = %+v, want 512/50", cfg.Chunking)
	}
	if !cfg.Duplicate.Enabled || cfg.Duplicate.Threshold != 0.9 {
		t.Errorf("Duplicate = %+v", cfg.Duplicate)
	}
	if cfg.Ingest.RedirectThreshold != 0.95 {
		t.Errorf("Ingest.RedirectThreshold = %v, want 0.95", cfg.Ingest.RedirectThreshold)
	}
}

// TestTOMLParsing verifies that all fields are correctly read from a TOML file.
func TestTOMLParsing(t *testing.T) {
	content := `
[server]
port = 5000

[storage]
backend = "qdrant"
data_dir = "/tmp/vecdocs-test"
default_index = "notes"
dimension = 1536
metric = "dotproduct"
auto_create_index = false

[qdrant]
host = "qdrant.internal"
port = 6335
use_tls = true

[embedding]
provider = "openai"
model = "text-embedding-3-small"
batch_size = 16

[chunking]
strategy = "markdown"
size = 800
overlap = 80
extract_metadata = true

[duplicate]
threshold = 0.85
strategy = "hybrid"
top_k = 5
`
	path := writeTempConfig(t, content)

	cfg, err := loadFromPath(path, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Storage.Backend != "qdrant" || cfg.Storage.DataDir != "/tmp/vecdocs-test" || cfg.Storage.DefaultIndex != "notes" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Storage.Dimension != 1536 || cfg.Storage.Metric != "dotproduct" || cfg.Storage.AutoCreateIndex {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Qdrant.Host != "qdrant.internal" || cfg.Qdrant.Port != 6335 || !cfg.Qdrant.UseTLS {
		t.Errorf("Qdrant = %+v", cfg.Qdrant)
	}
	if cfg.Embedding.Provider != "openai" || cfg.Embedding.BatchSize != 16 {
		t.Errorf("Embedding = %+v", cfg.Embedding)
	}

	opts := cfg.ChunkOptions()
	want := chunker.Options{Strategy: chunker.Markdown, Size: 800, Overlap: 80, ExtractMetadata: true}
	if opts != want {
		t.Errorf("ChunkOptions() = %+v, want %+v", opts, want)
	}

	dup := cfg.DuplicateSettings()
	if dup.Threshold != 0.85 || dup.Strategy != duplicate.Hybrid || dup.TopK != 5 || !dup.Enabled {
		t.Errorf("DuplicateSettings() = %+v", dup)
	}

	bc := cfg.BackendConfig()
	if bc.Backend != "qdrant" || bc.Qdrant.Port != 6335 {
		t.Errorf("BackendConfig() = %+v", bc)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	path := writeTempConfig(t, `[server]
port = 5000
`)

	t.Setenv("VECDOCS_SERVER_PORT", "6000")
	t.Setenv("VECDOCS_DUPLICATE_ENABLED", "false")
	t.Setenv("VECDOCS_DUPLICATE_THRESHOLD", "0.8")
	t.Setenv("VECDOCS_OPENAI_API_KEY", "sk-env")

	cfg, err := loadFromPath(path, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Duplicate.Enabled {
		t.Error("Duplicate.Enabled = true, want false")
	}
	if cfg.Duplicate.Threshold != 0.8 {
		t.Errorf("Duplicate.Threshold = %v, want 0.8", cfg.Duplicate.Threshold)
	}
	if pc := cfg.ProviderConfig("openai"); pc.APIKey != "sk-env" || pc.BaseURL == "" {
		t.Errorf("ProviderConfig(openai) = %+v", pc)
	}
}

// TestEnvOverride_InvalidValueKeepsDefault verifies a bad env value is ignored.
func TestEnvOverride_InvalidValueKeepsDefault(t *testing.T) {
	path := writeTempConfig(t, ``)
	t.Setenv("VECDOCS_CHUNKING_SIZE", "big")

	cfg, err := loadFromPath(path, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Chunking.Size != 512 {
		t.Errorf("Chunking.Size = %d, want default 512", cfg.Chunking.Size)
	}
}

// TestSecretsIgnoredInFile verifies secrets are only read from the environment.
func TestSecretsIgnoredInFile(t *testing.T) {
	path := writeTempConfig(t, `[openai]
api_key = "sk-file"
`)

	cfg, err := loadFromPath(path, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OpenAI.APIKey != "" {
		t.Errorf("OpenAI.APIKey = %q, want empty", cfg.OpenAI.APIKey)
	}
}

// TestDotEnv verifies .env values are loaded without overriding real env vars.
func TestDotEnv(t *testing.T) {
	path := writeTempConfig(t, ``)
	envFile := filepath.Join(t.TempDir(), ".env")
	content := "VECDOCS_STORAGE_DEFAULT_INDEX=from-dotenv\nVECDOCS_LLM_MODEL=from-dotenv\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VECDOCS_LLM_MODEL", "from-env")
	// Registered so t.Setenv restores the variable godotenv sets.
	t.Setenv("VECDOCS_STORAGE_DEFAULT_INDEX", "")
	os.Unsetenv("VECDOCS_STORAGE_DEFAULT_INDEX")

	cfg, err := loadFromPath(path, envFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.DefaultIndex != "from-dotenv" {
		t.Errorf("Storage.DefaultIndex = %q, want from-dotenv", cfg.Storage.DefaultIndex)
	}
	if cfg.LLM.Model != "from-env" {
		t.Errorf("LLM.Model = %q, want from-env", cfg.LLM.Model)
	}
}

// TestValidate verifies every invalid setting is reported with a stable code.
func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		code   apperr.Code
		want   string
	}{
		{"backend", func(c *Config) { c.Storage.Backend = "milvus" }, apperr.InvalidConfiguration, "storage.backend"},
		{"pgvector without dsn", func(c *Config) { c.Storage.Backend = "pgvector" }, apperr.InvalidConfiguration, "postgres.dsn"},
		{"metric", func(c *Config) { c.Storage.Metric = "manhattan" }, apperr.InvalidConfiguration, "storage.metric"},
		{"index name", func(c *Config) { c.Storage.DefaultIndex = "Has Spaces" }, apperr.InvalidConfiguration, "default_index"},
		{"overlap", func(c *Config) { c.Chunking.Overlap = 512 }, apperr.InvalidConfiguration, "chunking"},
		{"strategy", func(c *Config) { c.Chunking.Strategy = "sentences" }, apperr.InvalidConfiguration, "chunking"},
		{"threshold", func(c *Config) { c.Duplicate.Threshold = 1.2 }, apperr.InvalidConfiguration, "duplicate: threshold"},
		{"negative threshold", func(c *Config) { c.Duplicate.Threshold = -0.5 }, apperr.InvalidConfiguration, "duplicate: threshold"},
		{"dup top k", func(c *Config) { c.Duplicate.TopK = -1 }, apperr.InvalidConfiguration, "topK"},
		{"dup strategy", func(c *Config) { c.Duplicate.Strategy = "fuzzy" }, apperr.InvalidConfiguration, "duplicate.strategy"},
		{"provider", func(c *Config) { c.Embedding.Provider = "cohere" }, apperr.UnsupportedProvider, "embedding.provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if code := apperr.CodeOf(err); code != tt.code {
				t.Errorf("code = %q, want %q", code, tt.code)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}

	if err := defaults().Validate(); err != nil {
		t.Errorf("defaults fail validation: %v", err)
	}
}

// TestLoad_InvalidConfigFails verifies validation runs on load.
func TestLoad_InvalidConfigFails(t *testing.T) {
	path := writeTempConfig(t, `[llm]
provider = "anthropic"
`)
	_, err := loadFromPath(path, "")
	if !errors.Is(err, engine.ErrUnsupportedProvider) {
		t.Errorf("err = %v, want ErrUnsupportedProvider", err)
	}
}

// TestSetKey verifies typed writes round-trip through the TOML file.
func TestSetKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vecdocs", "config.toml")
	b := newFileBackend(path)

	for key, val := range map[string]string{
		"storage.default_index": "papers",
		"chunking.size":         "256",
		"duplicate.enabled":     "false",
		"duplicate.threshold":   "0.75",
	} {
		if err := setKey(b, key, val); err != nil {
			t.Fatalf("setKey(%s): %v", key, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading config: %v", err)
	}
	if !strings.Contains(string(data), "[chunking]") {
		t.Errorf("config file is not nested TOML:\n%s", data)
	}

	cfg, err := loadFromPath(path, "")
	if err != nil {
		t.Fatalf("loadFromPath: %v", err)
	}
	if cfg.Storage.DefaultIndex != "papers" || cfg.Chunking.Size != 256 || cfg.Duplicate.Enabled || cfg.Duplicate.Threshold != 0.75 {
		t.Errorf("cfg = %+v / %+v / %+v", cfg.Storage, cfg.Chunking, cfg.Duplicate)
	}
}

func TestSetKey_Errors(t *testing.T) {
	b := newFileBackend(filepath.Join(t.TempDir(), "config.toml"))

	if err := setKey(b, "openai.api_key", "sk"); err == nil || !strings.Contains(err.Error(), "VECDOCS_OPENAI_API_KEY") {
		t.Errorf("secret key err = %v", err)
	}
	if err := setKey(b, "no.such.key", "x"); err == nil {
		t.Error("unknown key accepted")
	}
	if err := setKey(b, "chunking.size", "many"); err == nil {
		t.Error("invalid integer accepted")
	}
}

func TestShowAll_HidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.OpenAI.APIKey = "sk-secret"
	for _, k := range ShowAll(cfg) {
		if strings.Contains(k.Key, "api_key") || strings.Contains(k.Key, "token") || k.Key == "postgres.dsn" {
			t.Errorf("ShowAll exposes secret key %s", k.Key)
		}
	}
	if len(ValidKeys()) != len(ShowAll(cfg)) {
		t.Error("ValidKeys and ShowAll disagree")
	}
}
