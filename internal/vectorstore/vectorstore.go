// Package vectorstore stores chunk vectors in interchangeable backends: an
// embedded SQLite file, PostgreSQL with pgvector, or Qdrant.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrIndexNotFound      = errors.New("index not found")
	ErrDimensionMismatch  = errors.New("vector dimension mismatch")
	ErrLengthMismatch     = errors.New("ids, vectors and metadata lengths differ")
	ErrVectorNotFound     = errors.New("vector not found")
	ErrUnsupportedFilter  = errors.New("unsupported filter")
	ErrUnsupportedBackend = errors.New("unsupported storage backend")
	ErrInvalidIndexName   = errors.New("invalid index name")
	ErrInvalidDimension   = errors.New("dimension must be positive")
	ErrInvalidMetric      = errors.New("unknown metric")
	ErrNothingToUpdate    = errors.New("update needs a vector or metadata")
)

// EnumerateLimit bounds how many records Enumerate returns.
const EnumerateLimit = 10000

// Metric is the similarity function of an index.
type Metric string

const (
	Cosine     Metric = "cosine"
	Euclidean  Metric = "euclidean"
	DotProduct Metric = "dotproduct"
)

// ParseMetric maps a metric name to a Metric. The empty string is Cosine.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(s)); m {
	case "":
		return Cosine, nil
	case Cosine, Euclidean, DotProduct:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMetric, s)
	}
}

// Store is implemented by every backend. Scores are "higher is better" for
// all metrics: cosine similarity, inner product, or 1/(1+distance) for
// euclidean indexes.
type Store interface {
	// CreateIndex is idempotent for an existing index with the same
	// dimension and fails with ErrDimensionMismatch otherwise.
	CreateIndex(ctx context.Context, name string, dimension int, metric Metric) error
	DeleteIndex(ctx context.Context, name string) error
	ListIndexes(ctx context.Context) ([]string, error)
	DescribeIndex(ctx context.Context, name string) (IndexStats, error)

	// Upsert inserts or overwrites vectors by id. The three slices are
	// positionally aligned.
	Upsert(ctx context.Context, index string, ids []string, vectors [][]float32, metadata []map[string]any) error

	// Query returns matches by descending score, at most TopK of them. A
	// zero query vector is an unranked scan where every match scores 0.
	Query(ctx context.Context, p QueryParams) ([]QueryResult, error)

	// DeleteVector removes one vector; a missing id is a no-op.
	DeleteVector(ctx context.Context, index, id string) error

	// UpdateVector replaces the vector and/or merges metadata keys into an
	// existing record.
	UpdateVector(ctx context.Context, index, id string, vector []float32, metadata map[string]any) error

	Close() error
}

// QueryParams describes a similarity query.
type QueryParams struct {
	IndexName     string
	Vector        []float32
	TopK          int
	Filter        Filter
	MinScore      *float64
	IncludeVector bool
}

// QueryResult is one match.
type QueryResult struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
	Vector   []float32      `json:"vector,omitempty"`
}

// IndexStats describes an index.
type IndexStats struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Metric    Metric `json:"metric"`
	Count     int    `json:"count"`
}

var indexNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

// ValidateIndexName reports whether name is usable on every backend:
// lowercase letters, digits, '_' and '-', at most 63 characters.
func ValidateIndexName(name string) error {
	if !indexNameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIndexName, name)
	}
	return nil
}

// Enumerate returns every record of index matching filter, up to
// EnumerateLimit, by querying with a zero vector of the index dimension.
func Enumerate(ctx context.Context, s Store, index string, filter Filter) ([]QueryResult, error) {
	stats, err := s.DescribeIndex(ctx, index)
	if err != nil {
		return nil, err
	}
	return s.Query(ctx, QueryParams{
		IndexName: index,
		Vector:    make([]float32, stats.Dimension),
		TopK:      EnumerateLimit,
		Filter:    filter,
	})
}

func checkUpsert(ids []string, vectors [][]float32, metadata []map[string]any, dimension int) error {
	if len(ids) != len(vectors) || len(ids) != len(metadata) {
		return fmt.Errorf("%w: %d ids, %d vectors, %d metadata", ErrLengthMismatch, len(ids), len(vectors), len(metadata))
	}
	for i, v := range vectors {
		if len(v) != dimension {
			return fmt.Errorf("%w: vector %s has %d dimensions, index has %d", ErrDimensionMismatch, ids[i], len(v), dimension)
		}
	}
	return nil
}

func checkQuery(p QueryParams, dimension int) error {
	if len(p.Vector) != dimension {
		return fmt.Errorf("%w: query has %d dimensions, index has %d", ErrDimensionMismatch, len(p.Vector), dimension)
	}
	return nil
}

func isZero(v []float32) bool {
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}

func passesMin(score float64, minScore *float64) bool {
	return minScore == nil || score >= *minScore
}
