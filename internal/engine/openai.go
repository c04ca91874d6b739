package engine

import (
	"context"
	"fmt"

	"github.com/kalambet/vecdocs/internal/openai"
)

// OpenAIEngine serves Engine over an OpenAI-compatible REST API. When
// chatOnly is set, Embed fails with ErrEmbeddingsUnavailable.
type OpenAIEngine struct {
	client   *openai.Client
	name     string
	chatOnly bool
}

// NewOpenAIEngine creates an engine for the OpenAI API or any server that
// exposes the same /chat/completions and /embeddings routes.
func NewOpenAIEngine(apiKey, baseURL string) *OpenAIEngine {
	return &OpenAIEngine{client: openai.New(apiKey, baseURL), name: ProviderOpenAI}
}

// NewOpenRouterEngine creates a chat-only engine for OpenRouter.
func NewOpenRouterEngine(apiKey, baseURL string) *OpenAIEngine {
	if baseURL == "" {
		baseURL = openai.OpenRouterBaseURL
	}
	c := openai.New(apiKey, baseURL,
		openai.WithHeader("HTTP-Referer", "https://github.com/kalambet/vecdocs"),
		openai.WithHeader("X-Title", "vecdocs"),
	)
	return &OpenAIEngine{client: c, name: ProviderOpenRouter, chatOnly: true}
}

func (e *OpenAIEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	req := openai.ChatRequest{
		Model:    model,
		Messages: make([]openai.Message, len(messages)),
	}
	for i, m := range messages {
		req.Messages[i] = openai.Message{Role: m.Role, Content: m.Content}
	}
	if jsonSchema != nil {
		zero := 0.0
		req.Temperature = &zero
		req.ResponseFormat = &openai.ResponseFormat{
			Type: "json_schema",
			JSONSchema: &openai.JSONSchema{
				Name:   "response",
				Schema: jsonSchema.JSON(),
			},
		}
	}
	return e.client.Chat(ctx, req)
}

func (e *OpenAIEngine) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if e.chatOnly {
		return nil, fmt.Errorf("%s: %w", e.name, ErrEmbeddingsUnavailable)
	}
	return e.client.Embed(ctx, model, texts)
}
