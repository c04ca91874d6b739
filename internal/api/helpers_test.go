package api

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"testing"

	"github.com/kalambet/vecdocs/internal/chunker"
	"github.com/kalambet/vecdocs/internal/duplicate"
	"github.com/kalambet/vecdocs/internal/engine"
	"github.com/kalambet/vecdocs/internal/ingest"
	"github.com/kalambet/vecdocs/internal/storage"
	"github.com/kalambet/vecdocs/internal/vectorstore"
)

const testDim = 64

// wordEmbedder hashes words into buckets; identical texts embed identically.
type wordEmbedder struct{}

func (wordEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := wordEmbedder{}.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (wordEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, testDim)
		for _, w := range strings.Fields(strings.ToLower(t)) {
			h := fnv.New32a()
			h.Write([]byte(w))
			v[h.Sum32()%testDim]++
		}
		var n float64
		for _, x := range v {
			n += float64(x) * float64(x)
		}
		n = math.Sqrt(n)
		for j := range v {
			v[j] = float32(float64(v[j]) / n)
		}
		out[i] = v
	}
	return out, nil
}

// mockChat answers every Chat call with response.
type mockChat struct {
	response string
}

func (m *mockChat) Chat(_ context.Context, _ string, _ []engine.Message, _ *engine.Schema) (string, error) {
	return m.response, nil
}

func (m *mockChat) Embed(_ context.Context, _ string, _ []string) ([][]float32, error) {
	return nil, errors.New("not implemented")
}

func newTestService(t *testing.T, chat *mockChat) *ingest.Service {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	store := vectorstore.NewSQLiteStore(db)
	t.Cleanup(func() { store.Close() })

	ch, err := chunker.New(chunker.DefaultOptions())
	if err != nil {
		t.Fatalf("chunker.New: %v", err)
	}
	if chat == nil {
		chat = &mockChat{response: `{"action":"add","reason":"new","confidence":0.9}`}
	}
	return ingest.NewService(store, wordEmbedder{}, ch, duplicate.NewDetector(chat, "test-model", nil), ingest.Config{
		DefaultIndex:    "docs",
		AutoCreateIndex: true,
		Duplicate:       duplicate.DefaultConfig(),
	}, nil)
}
