package engine

import (
	"context"
	"errors"
)

var (
	// ErrUnsupportedProvider is returned by New for an unknown provider name.
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrEmbeddingsUnavailable is returned by Embed on providers that only
	// serve chat completions.
	ErrEmbeddingsUnavailable = errors.New("provider does not serve embeddings")
)

// Engine abstracts an inference provider. The embedding client and the
// duplicate detector use this interface instead of a concrete client.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's response.
	// When jsonSchema is non-nil, structured JSON output is requested.
	Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error)

	// Embed returns one vector per text, in input order.
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// ModelManager is implemented by providers that host models locally and can
// download missing ones.
type ModelManager interface {
	IsRunning(ctx context.Context) bool
	ListModels(ctx context.Context) ([]string, error)
	HasModel(ctx context.Context, name string) bool
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
