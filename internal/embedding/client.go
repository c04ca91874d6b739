package embedding

import (
	"context"
	"fmt"

	"github.com/kalambet/vecdocs/internal/engine"
)

// DefaultBatchSize caps the number of texts sent in one provider call.
const DefaultBatchSize = 64

// Client turns text into vectors through an engine.Engine.
type Client struct {
	engine    engine.Engine
	model     string
	batchSize int
}

// New creates a Client using the given Engine and model name. A batchSize of
// zero or less selects DefaultBatchSize.
func New(e engine.Engine, model string, batchSize int) *Client {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Client{engine: e, model: model, batchSize: batchSize}
}

// Model returns the embedding model name.
func (c *Client) Model() string { return c.model }

// EmbedOne returns the embedding vector for a single text.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per text in input order. Texts are sent in
// sequential batches of at most batchSize, one provider call each. Returns
// nil (not error) for empty input.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		vecs, err := c.engine.Embed(ctx, c.model, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding texts %d-%d: %w", start, end-1, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embedding texts %d-%d: provider returned %d vectors", start, end-1, len(vecs))
		}
		for i, v := range vecs {
			if len(v) == 0 {
				return nil, fmt.Errorf("embedding text %d: empty vector", start+i)
			}
		}
		out = append(out, vecs...)
	}
	return out, nil
}
