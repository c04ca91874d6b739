// Package document holds the logical document model and the aggregation
// that rebuilds documents from the chunk records stored in a vector index.
package document

import (
	"maps"
	"time"
)

// Metadata keys written on every stored chunk record.
const (
	KeyDocumentID     = "documentId"
	KeyChunkID        = "chunkId"
	KeyChunkIndex     = "chunkIndex"
	KeyStartPosition  = "startPosition"
	KeyEndPosition    = "endPosition"
	KeyEmbeddingIndex = "embeddingIndex"
	KeyText           = "text"
	KeyCreatedAt      = "createdAt"
	KeyUpdatedAt      = "updatedAt"

	// Written by the chunker when metadata extraction is enabled.
	KeySection   = "section"
	KeyHeadings  = "headings"
	KeyWordCount = "wordCount"
	KeyCharCount = "charCount"
)

// chunkKeys are the per-chunk keys removed when a document's metadata is
// reconstructed from one of its chunks.
var chunkKeys = []string{
	KeyDocumentID, KeyChunkID, KeyChunkIndex, KeyStartPosition, KeyEndPosition,
	KeyEmbeddingIndex, KeyText, KeyCreatedAt, KeyUpdatedAt,
	KeySection, KeyHeadings, KeyWordCount, KeyCharCount,
}

// Document is a logical unit of text. It is never stored as a single
// record; it exists as the set of chunks sharing its ID.
type Document struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
	ChunkCount int            `json:"chunkCount"`
}

// Chunk is a contiguous span of a document's content. StartPosition and
// EndPosition are byte offsets into the original content.
type Chunk struct {
	ID            string         `json:"id"`
	DocumentID    string         `json:"documentId"`
	Content       string         `json:"content"`
	Index         int            `json:"chunkIndex"`
	StartPosition int            `json:"startPosition"`
	EndPosition   int            `json:"endPosition"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Embedding     []float32      `json:"embedding,omitempty"`
}

// StorageMetadata returns the metadata stored alongside the chunk's vector.
// Caller-supplied document metadata takes precedence over metadata the
// chunker extracted; the positional keys always win.
func (c Chunk) StorageMetadata(docMeta map[string]any, createdAt, updatedAt time.Time) map[string]any {
	m := make(map[string]any, len(docMeta)+len(c.Metadata)+len(chunkKeys))
	maps.Copy(m, c.Metadata)
	maps.Copy(m, docMeta)
	m[KeyDocumentID] = c.DocumentID
	m[KeyChunkID] = c.ID
	m[KeyChunkIndex] = c.Index
	m[KeyStartPosition] = c.StartPosition
	m[KeyEndPosition] = c.EndPosition
	m[KeyEmbeddingIndex] = c.Index
	m[KeyText] = c.Content
	m[KeyCreatedAt] = createdAt.UTC().Format(time.RFC3339Nano)
	m[KeyUpdatedAt] = updatedAt.UTC().Format(time.RFC3339Nano)
	return m
}

// SearchResult is one chunk-level hit of a similarity search.
type SearchResult struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
	Score    float64        `json:"score"`
}

// SimilarDocument is a stored document that resembles a candidate, scored
// by its best matching chunk.
type SimilarDocument struct {
	DocumentID string         `json:"documentId"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata"`
	Score      float64        `json:"score"`
	ChunkID    string         `json:"chunkId"`
}

// StripChunkKeys returns a copy of m without the per-chunk keys.
func StripChunkKeys(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	maps.Copy(out, m)
	for _, k := range chunkKeys {
		delete(out, k)
	}
	return out
}
