package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// IndexRecord is a catalog entry for one vector index.
type IndexRecord struct {
	Name      string
	Dimension int
	Metric    string
	CreatedAt time.Time
}

// VectorRow is one stored vector. Embedding holds little-endian float32s;
// Metadata is a JSON object.
type VectorRow struct {
	ID         string
	DocumentID string
	Embedding  []byte
	Metadata   string
}
